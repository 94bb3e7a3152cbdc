package ffmpeg

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/clip"
)

func TestParseProbe(t *testing.T) {
	info, err := parseProbe([]byte(`{"programs":[],"streams":[{"width":1920,"height":1080}],"format":{"duration":"212.480000"}}`))
	require.NoError(t, err)
	assert.Equal(t, ProbeInfo{Width: 1920, Height: 1080, Duration: 212.48}, info)

	_, err = parseProbe([]byte(`{"streams":[],"format":{"duration":"1"}}`))
	assert.ErrorContains(t, err, "no video stream")

	_, err = parseProbe([]byte(`{"streams":[{"width":10,"height":10}],"format":{"duration":"N/A"}}`))
	assert.ErrorContains(t, err, "invalid duration")

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeArgs(t *testing.T) {
	crop := &clip.Rect{X0: 10, Y0: 10, X1: 110, Y1: 210}
	got := EncodeArgs("/out/vid_abc.mp4", 2, 3, crop, "/out/.abc_1.mp4123", clip.DefaultEncoding())
	want := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", "2.000",
		"-i", "/out/vid_abc.mp4",
		"-t", "3.000",
		"-vf", "crop=100:200:10:10:exact=1",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-c:a", "aac",
		"-threads", "4",
		"-f", "mp4",
		"/out/.abc_1.mp4123",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EncodeArgs mismatch (-want +got):\n%s", diff)
	}

	got = EncodeArgs("-src.mp4", 0, 1, nil, "out.mp4", clip.Encoding{})
	assert.Equal(t, []string{"-y", "-hide_banner", "-loglevel", "error", "-ss", "0.000", "-i", "./-src.mp4", "-t", "1.000", "out.mp4"}, got)
}

func TestEncodeArgsOddCrop(t *testing.T) {
	cases := []struct {
		rect clip.Rect
		want string
	}{
		{clip.Rect{X0: 10, Y0: 10, X1: 111, Y1: 210}, "crop=101:200:10:10:exact=1,format=yuv444p"},
		{clip.Rect{X0: 0, Y0: 1, X1: 64, Y1: 50}, "crop=64:49:0:1:exact=1,format=yuv444p"},
		// Odd offsets with an even size keep 4:2:0 but are not rounded.
		{clip.Rect{X0: 11, Y0: 13, X1: 111, Y1: 213}, "crop=100:200:11:13:exact=1"},
	}
	for _, c := range cases {
		rect := c.rect
		args := EncodeArgs("src.mp4", 0, 1, &rect, "out.mp4", clip.DefaultEncoding())
		i := indexOf(args, "-vf")
		require.GreaterOrEqual(t, i, 0, "%v", c.rect)
		assert.Equal(t, c.want, args[i+1])
	}
}

func indexOf(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}

func openedMedia() *media {
	info := ProbeInfo{Width: 320, Height: 240, Duration: 6}
	return &media{
		src:  &source{path: "src.mp4", info: info},
		end:  info.Duration,
		crop: clip.Rect{X1: info.Width, Y1: info.Height},
	}
}

func TestSubClipAndCropCompose(t *testing.T) {
	root := openedMedia()

	trimmed, err := root.SubClip(2, 5)
	require.NoError(t, err)
	inner, err := trimmed.SubClip(0.5, 1.5)
	require.NoError(t, err)
	m := inner.(*media)
	assert.InDelta(t, 2.5, m.start, 1e-9)
	assert.InDelta(t, 3.5, m.end, 1e-9)

	cropped, err := trimmed.Crop(clip.Rect{X0: 10, Y0: 10, X1: 110, Y1: 210})
	require.NoError(t, err)
	again, err := cropped.Crop(clip.Rect{X0: 5, Y0: 5, X1: 50, Y1: 50})
	require.NoError(t, err)
	assert.Equal(t, clip.Rect{X0: 15, Y0: 15, X1: 60, Y1: 60}, again.(*media).crop)

	_, err = cropped.Crop(clip.Rect{X0: 0, Y0: 0, X1: 101, Y1: 10})
	assert.ErrorContains(t, err, "exceeds frame")

	_, err = root.SubClip(5, 7)
	assert.ErrorContains(t, err, "past the clip duration")
	_, err = root.SubClip(3, 3)
	assert.Error(t, err)
}

func TestCloseOrder(t *testing.T) {
	root := openedMedia()
	trimmed, err := root.SubClip(1, 2)
	require.NoError(t, err)
	cropped, err := trimmed.Crop(clip.Rect{X1: 10, Y1: 10})
	require.NoError(t, err)

	require.NoError(t, cropped.Close())
	require.NoError(t, trimmed.Close())
	require.NoError(t, root.Close())
	require.NoError(t, root.Close(), "second close is a no-op")

	_, err = root.SubClip(0, 1)
	assert.ErrorContains(t, err, "closed")
}

func TestCloseSourceWithOpenViews(t *testing.T) {
	root := openedMedia()
	trimmed, err := root.SubClip(1, 2)
	require.NoError(t, err)

	assert.ErrorContains(t, root.Close(), "derived clips still open")
	_, err = trimmed.Crop(clip.Rect{X1: 1, Y1: 1})
	assert.ErrorContains(t, err, "closed")
}

// TestEditorCropTrim runs the real tools when they are installed.
func TestEditorCropTrim(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "vid_abc.mp4")
	gen := exec.Command("ffmpeg", "-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=25:duration=6",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=6",
		"-c:v", "libx264", "-preset", "ultrafast", "-c:a", "aac", "-shortest", src)
	out, err := gen.CombinedOutput()
	require.NoError(t, err, string(out))

	ed, err := NewEditor("ffmpeg", "ffprobe")
	require.NoError(t, err)

	tr := clip.NewTransformer(ed, clip.DefaultEncoding(), true)
	spec := clip.Spec{VideoID: "abc", ClipID: "1", Start: 2.0, End: 5.0, Crop: clip.Rect{X0: 10, Y0: 10, X1: 110, Y1: 210}}
	final := filepath.Join(dir, "abc_1.mp4")
	_, err = tr.Transform(context.Background(), src, spec, final)
	require.NoError(t, err)

	info, err := ed.Probe(context.Background(), final)
	require.NoError(t, err)
	assert.Equal(t, 100, info.Width)
	assert.Equal(t, 200, info.Height)
	assert.InDelta(t, 3.0, info.Duration, 0.15)

	odd := clip.Spec{VideoID: "abc", ClipID: "2", Start: 0, End: 1, Crop: clip.Rect{X0: 11, Y0: 10, X1: 112, Y1: 211}}
	oddFinal := filepath.Join(dir, "abc_2.mp4")
	_, err = tr.Transform(context.Background(), src, odd, oddFinal)
	require.NoError(t, err)
	info, err = ed.Probe(context.Background(), oddFinal)
	require.NoError(t, err)
	assert.Equal(t, 101, info.Width)
	assert.Equal(t, 201, info.Height)
}
