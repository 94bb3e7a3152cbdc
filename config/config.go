// clipforge/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	OutputDir       string        `mapstructure:"OUTPUT_DIR"`
	VideoExtensions []string      `mapstructure:"VIDEO_EXTENSIONS"`
	LockTimeout     time.Duration `mapstructure:"LOCK_TIMEOUT"`
	LockRetryDelay  time.Duration `mapstructure:"LOCK_RETRY_DELAY"`

	// Downloader policy. Fixed per deployment, never per call.
	YtdlpBin               string `mapstructure:"YTDLP_BIN"`
	SourceURLTemplate      string `mapstructure:"SOURCE_URL_TEMPLATE"`
	CookiesPath            string `mapstructure:"COOKIES_PATH"`
	FormatSelector         string `mapstructure:"FORMAT_SELECTOR"`
	ExternalDownloader     string `mapstructure:"EXTERNAL_DOWNLOADER"`
	ExternalDownloaderArgs string `mapstructure:"EXTERNAL_DOWNLOADER_ARGS"`
	ConcurrentFragments    int    `mapstructure:"CONCURRENT_FRAGMENTS"`
	BufferSize             string `mapstructure:"BUFFER_SIZE"`
	HTTPChunkSize          string `mapstructure:"HTTP_CHUNK_SIZE"`
	FragmentRetries        string `mapstructure:"FRAGMENT_RETRIES"`
	ProgressLines          int    `mapstructure:"PROGRESS_LINES"`

	// Encode policy.
	FFBin          string `mapstructure:"FF_BIN"`
	FFProbeBin     string `mapstructure:"FFPROBE_BIN"`
	VideoCodec     string `mapstructure:"VIDEO_CODEC"`
	AudioCodec     string `mapstructure:"AUDIO_CODEC"`
	EncodePreset   string `mapstructure:"ENCODE_PRESET"`
	EncodeThreads  int    `mapstructure:"ENCODE_THREADS"`
	KeepFailedTemp bool   `mapstructure:"KEEP_FAILED_TEMP"`

	MaxConcurrency   int           `mapstructure:"MAX_CONCURRENCY"`
	JobRetention     time.Duration `mapstructure:"JOB_RETENTION"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`

	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`
	Port       string `mapstructure:"PORT"`
	BaseURL    string `mapstructure:"BASE"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
}

// DefaultVideoExtensions is the ordered list probed when looking for a
// downloaded video. The first match wins.
var DefaultVideoExtensions = []string{".mp4", ".mkv", ".webm", ".mov", ".flv", ".avi"}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

// stringToExtListHookFunc turns "mp4, .mkv" into [".mp4", ".mkv"].
func stringToExtListHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf([]string{}) {
			return data, nil
		}
		return splitExtensions(data.(string)), nil
	}
}

func splitExtensions(raw string) []string {
	var exts []string
	for _, part := range strings.Split(raw, ",") {
		ext := strings.TrimSpace(part)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	return exts
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("OUTPUT_DIR", "./output")
	vp.SetDefault("VIDEO_EXTENSIONS", strings.Join(DefaultVideoExtensions, ","))
	vp.SetDefault("LOCK_TIMEOUT", "10m")
	vp.SetDefault("LOCK_RETRY_DELAY", "250ms")

	vp.SetDefault("YTDLP_BIN", "yt-dlp")
	vp.SetDefault("SOURCE_URL_TEMPLATE", "https://www.youtube.com/watch?v=%s")
	vp.SetDefault("COOKIES_PATH", "")
	vp.SetDefault("FORMAT_SELECTOR", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best")
	vp.SetDefault("EXTERNAL_DOWNLOADER", "aria2c")
	vp.SetDefault("EXTERNAL_DOWNLOADER_ARGS", "-x 16 -s 16 -k 1M --console-log-level=warn --quiet=true")
	vp.SetDefault("CONCURRENT_FRAGMENTS", 16)
	vp.SetDefault("BUFFER_SIZE", "32K")
	vp.SetDefault("HTTP_CHUNK_SIZE", "10M")
	vp.SetDefault("FRAGMENT_RETRIES", "infinite")
	vp.SetDefault("PROGRESS_LINES", 8)

	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("VIDEO_CODEC", "libx264")
	vp.SetDefault("AUDIO_CODEC", "aac")
	vp.SetDefault("ENCODE_PRESET", "ultrafast")
	vp.SetDefault("ENCODE_THREADS", 4)
	vp.SetDefault("KEEP_FAILED_TEMP", true)

	vp.SetDefault("MAX_CONCURRENCY", 2)
	vp.SetDefault("JOB_RETENTION", "1h23m")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "1GB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("LOG_LEVEL", "info")

	vp.SetConfigName("clipforge_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/clipforge/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("CLIPFORGE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			stringToExtListHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
