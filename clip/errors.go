package clip

import "fmt"

type Stage string

const (
	StageOpen    Stage = "open"
	StageSubClip Stage = "subclip"
	StageCrop    Stage = "crop"
	StageEncode  Stage = "encode"
	StagePublish Stage = "publish"
)

// TransformError is returned for any failure while producing a clip. Unlike
// download failures it is not skippable: the caller asked for a specific
// window and crop and has to know it did not happen.
type TransformError struct {
	Stage    Stage
	VideoID  string
	ClipID   string
	TempPath string
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s_%s failed at %s: %v", e.VideoID, e.ClipID, e.Stage, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }
