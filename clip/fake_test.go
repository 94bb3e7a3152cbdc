package clip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// fakeEditor records what happens to every media handle it hands out.
type fakeEditor struct {
	mu      sync.Mutex
	events  []string
	openErr error
	// write is called by WriteVideoFile; nil writes "encoded".
	write func(path string) error
}

func (e *fakeEditor) record(ev string) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *fakeEditor) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *fakeEditor) Open(_ context.Context, path string) (Media, error) {
	if e.openErr != nil {
		return nil, e.openErr
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	e.record("open")
	return &fakeMedia{editor: e, name: "source"}, nil
}

type fakeMedia struct {
	editor *fakeEditor
	name   string
	closed bool
}

func (m *fakeMedia) SubClip(start, end float64) (Media, error) {
	if start >= end {
		return nil, errors.New("bad window")
	}
	m.editor.record(fmt.Sprintf("subclip %.1f-%.1f", start, end))
	return &fakeMedia{editor: m.editor, name: "trimmed"}, nil
}

func (m *fakeMedia) Crop(r Rect) (Media, error) {
	m.editor.record(fmt.Sprintf("crop %dx%d", r.Width(), r.Height()))
	return &fakeMedia{editor: m.editor, name: "cropped"}, nil
}

func (m *fakeMedia) WriteVideoFile(_ context.Context, path string, enc Encoding) error {
	m.editor.record("write " + enc.Container)
	if m.editor.write != nil {
		return m.editor.write(path)
	}
	return os.WriteFile(path, []byte("encoded"), 0o644)
}

func (m *fakeMedia) Close() error {
	if m.closed {
		return errors.New("double close")
	}
	m.closed = true
	m.editor.record("close " + m.name)
	return nil
}
