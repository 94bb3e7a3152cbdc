package artifact

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindDownload  Kind = "download"
	KindTransform Kind = "transform"
)

// TransformExt is the only container produced by the transform step.
const TransformExt = ".mp4"

// Key identifies one unit of work. A download key has an empty ClipID.
type Key struct {
	VideoID string
	ClipID  string
	kind    Kind
}

func DownloadKey(videoID string) Key {
	return Key{VideoID: videoID, kind: KindDownload}
}

func TransformKey(videoID, clipID string) Key {
	return Key{VideoID: videoID, ClipID: clipID, kind: KindTransform}
}

func (k Key) Kind() Kind { return k.kind }

func (k Key) Validate() error {
	if k.kind == "" {
		return errors.New("artifact key has no kind")
	}
	if strings.TrimSpace(k.VideoID) == "" {
		return errors.New("video id is required")
	}
	if k.kind == KindTransform && strings.TrimSpace(k.ClipID) == "" {
		return fmt.Errorf("clip id is required for video %s", k.VideoID)
	}
	return nil
}

// BaseName is the artifact file name without extension.
func (k Key) BaseName() string {
	if k.kind == KindTransform {
		return SafeID(k.VideoID) + "_" + safeClipID(k.ClipID)
	}
	return "vid_" + SafeID(k.VideoID)
}

// LockName is the sentinel file name guarding this key.
func (k Key) LockName() string {
	if k.kind == KindTransform {
		return "process_" + SafeID(k.VideoID) + "_" + safeClipID(k.ClipID) + ".lock"
	}
	return "vid_" + SafeID(k.VideoID) + ".lock"
}

func (k Key) String() string {
	if k.kind == KindTransform {
		return k.VideoID + "/" + k.ClipID
	}
	return k.VideoID
}

// SafeID escapes an identity so it can be used as a file name component and
// never reads as a command-line flag. Bytes outside [A-Za-z0-9_.-] become
// "=XX"; so does a leading '-' or '+'. '=' is escaped too, which keeps the
// mapping injective for a single id. Plain YouTube ids pass through unchanged.
func SafeID(id string) string {
	return escapeID(id, 0)
}

// safeClipID also escapes '_', so the last '_' in a transform name always
// separates the video id from the clip id and two keys never share a name.
func safeClipID(id string) string {
	return escapeID(id, '_')
}

func escapeID(id string, extra byte) string {
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		if isSafeByte(c) && c != extra && !(i == 0 && (c == '-' || c == '+')) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "=%02X", c)
	}
	return b.String()
}

func isSafeByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-':
		return true
	case c == '.':
		return true
	}
	return false
}
