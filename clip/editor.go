package clip

import "context"

// Encoding is the fixed output policy.
type Encoding struct {
	Container  string
	VideoCodec string
	AudioCodec string
	Preset     string
	Threads    int
}

func DefaultEncoding() Encoding {
	return Encoding{
		Container:  "mp4",
		VideoCodec: "libx264",
		AudioCodec: "aac",
		Preset:     "ultrafast",
		Threads:    4,
	}
}

// Editor opens source videos. Implementations wrap an external media tool.
type Editor interface {
	Open(ctx context.Context, path string) (Media, error)
}

// Media is an open video or a derived view of one. Derived views hold their
// own handle and must be closed before the source they came from.
type Media interface {
	SubClip(start, end float64) (Media, error)
	Crop(r Rect) (Media, error)
	WriteVideoFile(ctx context.Context, path string, enc Encoding) error
	Close() error
}
