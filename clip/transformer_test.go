package clip

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSpec() Spec {
	return Spec{VideoID: "abc", ClipID: "1", Start: 2.0, End: 5.0, Crop: Rect{X0: 10, Y0: 10, X1: 110, Y1: 210}}
}

func sourceFile(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "vid_abc.mp4")
	require.NoError(t, os.WriteFile(p, []byte("source"), 0o644))
	return p
}

func TestSpecValidate(t *testing.T) {
	assert.NoError(t, sampleSpec().Validate())
	assert.Equal(t, 3.0, sampleSpec().Duration())
	assert.Equal(t, 100, sampleSpec().Crop.Width())
	assert.Equal(t, 200, sampleSpec().Crop.Height())

	bad := sampleSpec()
	bad.End = bad.Start
	assert.ErrorContains(t, bad.Validate(), "not before end")

	bad = sampleSpec()
	bad.Crop = Rect{X0: 50, Y0: 0, X1: 50, Y1: 10}
	assert.ErrorContains(t, bad.Validate(), "empty")

	bad = Spec{}
	err := bad.Validate()
	assert.ErrorContains(t, err, "video id")
	assert.ErrorContains(t, err, "clip id")
}

func TestTransformPublishesAndClosesInOrder(t *testing.T) {
	dir := t.TempDir()
	ed := &fakeEditor{}
	tr := NewTransformer(ed, DefaultEncoding(), true)
	final := filepath.Join(dir, "abc_1.mp4")

	got, err := tr.Transform(context.Background(), sourceFile(t, dir), sampleSpec(), final)
	require.NoError(t, err)
	assert.Equal(t, final, got)

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "encoded", string(data))

	assert.Equal(t, []string{
		"open",
		"subclip 2.0-5.0",
		"crop 100x200",
		"write mp4",
		"close cropped",
		"close trimmed",
		"close source",
	}, ed.Events())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only source and final remain")
}

func TestTransformFailureMidEncodeNeverExposesFinal(t *testing.T) {
	dir := t.TempDir()
	var tmpSeen string
	ed := &fakeEditor{write: func(path string) error {
		tmpSeen = path
		if err := os.WriteFile(path, []byte("half"), 0o644); err != nil {
			return err
		}
		return errors.New("encoder killed")
	}}
	tr := NewTransformer(ed, DefaultEncoding(), true)
	final := filepath.Join(dir, "abc_1.mp4")

	_, err := tr.Transform(context.Background(), sourceFile(t, dir), sampleSpec(), final)
	var te *TransformError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, StageEncode, te.Stage)
	assert.Equal(t, tmpSeen, te.TempPath)

	assert.NoFileExists(t, final)
	assert.FileExists(t, tmpSeen, "temp file is kept for inspection")
	assert.NotEqual(t, final, tmpSeen)
	assert.Equal(t, dir, filepath.Dir(tmpSeen), "kept temp file sits next to the final path")
	assert.True(t, strings.HasPrefix(filepath.Base(tmpSeen), "."), "kept temp file is hidden")

	events := ed.Events()
	assert.Contains(t, events, "close cropped")
	assert.Contains(t, events, "close trimmed")
	assert.Equal(t, "close source", events[len(events)-1])
}

func TestTransformFailureRemovesTempWhenAsked(t *testing.T) {
	dir := t.TempDir()
	var tmpSeen string
	ed := &fakeEditor{write: func(path string) error {
		tmpSeen = path
		return errors.New("encoder killed")
	}}
	tr := NewTransformer(ed, DefaultEncoding(), false)

	_, err := tr.Transform(context.Background(), sourceFile(t, dir), sampleSpec(), filepath.Join(dir, "abc_1.mp4"))
	require.Error(t, err)
	assert.NoFileExists(t, tmpSeen)
}

func TestTransformOpenFailure(t *testing.T) {
	dir := t.TempDir()
	ed := &fakeEditor{openErr: errors.New("not a video")}
	tr := NewTransformer(ed, DefaultEncoding(), true)

	_, err := tr.Transform(context.Background(), sourceFile(t, dir), sampleSpec(), filepath.Join(dir, "abc_1.mp4"))
	var te *TransformError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StageOpen, te.Stage)
	assert.Contains(t, err.Error(), "not a video")
}

func TestTransformRejectsInvalidSpec(t *testing.T) {
	dir := t.TempDir()
	ed := &fakeEditor{}
	tr := NewTransformer(ed, DefaultEncoding(), true)
	spec := sampleSpec()
	spec.Crop = Rect{}

	_, err := tr.Transform(context.Background(), sourceFile(t, dir), spec, filepath.Join(dir, "abc_1.mp4"))
	require.Error(t, err)
	assert.Empty(t, ed.Events(), "nothing is opened for an invalid spec")
}
