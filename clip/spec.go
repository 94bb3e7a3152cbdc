package clip

import (
	"errors"
	"fmt"
	"strings"

	"clipforge/artifact"
)

// Rect is a crop rectangle in source pixel coordinates, (X0,Y0) inclusive,
// (X1,Y1) exclusive.
type Rect struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

func (r Rect) Width() int  { return r.X1 - r.X0 }
func (r Rect) Height() int { return r.Y1 - r.Y0 }

func (r Rect) Validate() error {
	if r.X0 < 0 || r.Y0 < 0 {
		return fmt.Errorf("crop origin (%d,%d) is negative", r.X0, r.Y0)
	}
	if r.X0 >= r.X1 || r.Y0 >= r.Y1 {
		return fmt.Errorf("crop rectangle (%d,%d,%d,%d) is empty", r.X0, r.Y0, r.X1, r.Y1)
	}
	return nil
}

// Spec describes one derivative clip: the [Start, End) window in seconds and
// the crop applied to it.
type Spec struct {
	VideoID string  `json:"videoId"`
	ClipID  string  `json:"clipId"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Crop    Rect    `json:"crop"`
}

func (s Spec) Key() artifact.Key {
	return artifact.TransformKey(s.VideoID, s.ClipID)
}

func (s Spec) Duration() float64 { return s.End - s.Start }

func (s Spec) Validate() error {
	var errs []error
	if strings.TrimSpace(s.VideoID) == "" {
		errs = append(errs, errors.New("video id is required"))
	}
	if strings.TrimSpace(s.ClipID) == "" {
		errs = append(errs, errors.New("clip id is required"))
	}
	if s.Start < 0 {
		errs = append(errs, fmt.Errorf("start %.3f is negative", s.Start))
	}
	if s.Start >= s.End {
		errs = append(errs, fmt.Errorf("start %.3f is not before end %.3f", s.Start, s.End))
	}
	if err := s.Crop.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
