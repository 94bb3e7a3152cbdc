package clip

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"clipforge/logging"
	"clipforge/publish"
)

type Transformer struct {
	editor   Editor
	enc      Encoding
	keepTemp bool
	logger   zerolog.Logger
}

// NewTransformer wires an editor with the encode policy. With keepFailedTemp
// a half-written temp file is left next to the final path after a failure.
func NewTransformer(editor Editor, enc Encoding, keepFailedTemp bool) *Transformer {
	return &Transformer{
		editor:   editor,
		enc:      enc,
		keepTemp: keepFailedTemp,
		logger:   logging.WithComponent("clip"),
	}
}

// Transform cuts spec out of source and publishes it at final. It does not
// check for an existing artifact or take locks; callers do that.
func (t *Transformer) Transform(ctx context.Context, source string, spec Spec, final string) (string, error) {
	logger := t.logger.With().Str("video_id", spec.VideoID).Str("clip_id", spec.ClipID).Logger()

	fail := func(stage Stage, tmp string, cause error) (string, error) {
		logger.Error().Err(cause).Str("stage", string(stage)).Str("temp", tmp).Msg("transform failed")
		return "", &TransformError{Stage: stage, VideoID: spec.VideoID, ClipID: spec.ClipID, TempPath: tmp, Err: cause}
	}

	if err := spec.Validate(); err != nil {
		return fail(StageOpen, "", err)
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fail(StageOpen, "", err)
	}

	src, err := t.editor.Open(ctx, source)
	if err != nil {
		return fail(StageOpen, "", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("closing source")
		}
	}()

	trimmed, err := src.SubClip(spec.Start, spec.End)
	if err != nil {
		return fail(StageSubClip, "", err)
	}
	cropped, err := trimmed.Crop(spec.Crop)
	if err != nil {
		closeQuietly(logger, trimmed)
		return fail(StageCrop, "", err)
	}

	pending, err := publish.Begin(final)
	if err != nil {
		closeQuietly(logger, cropped, trimmed)
		return fail(StageEncode, "", err)
	}

	if err := cropped.WriteVideoFile(ctx, pending.Path(), t.enc); err != nil {
		closeQuietly(logger, cropped, trimmed)
		if aerr := pending.Abandon(t.keepTemp); aerr != nil {
			logger.Warn().Err(aerr).Str("temp", pending.Path()).Msg("could not discard temp file")
		}
		tmp := ""
		if t.keepTemp {
			tmp = pending.Path()
		}
		return fail(StageEncode, tmp, err)
	}

	// Derived views go before the source, which the deferred Close handles.
	if err := errors.Join(cropped.Close(), trimmed.Close()); err != nil {
		logger.Warn().Err(err).Msg("closing derived clips")
	}

	if err := pending.Publish(); err != nil {
		return fail(StagePublish, pending.Path(), err)
	}
	logger.Info().Str("path", final).Msg("clip published")
	return final, nil
}

func closeQuietly(logger zerolog.Logger, media ...Media) {
	for _, m := range media {
		if err := m.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing clip")
		}
	}
}
