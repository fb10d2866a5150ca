package xdisplay

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

var createTempFn = os.CreateTemp

// Scratch is the synthetic display configuration file. It exists from
// NewScratch until Close; callers defer Close right after creation.
type Scratch struct {
	path string

	closeOnce sync.Once
	closeErr  error
}

// NewScratch creates an empty scratch file in dir (os.TempDir when empty).
func NewScratch(dir string) (*Scratch, error) {
	f, err := createTempFn(dir, "headless-oc-xorg-*.conf")
	if err != nil {
		return nil, fmt.Errorf("xdisplay: create scratch config: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("xdisplay: create scratch config: %w", err)
	}
	return &Scratch{path: path}, nil
}

func (s *Scratch) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Write replaces the scratch file contents.
func (s *Scratch) Write(b []byte) error {
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("xdisplay: write scratch config: %w", err)
	}
	return nil
}

// Close removes the file. It is safe to call more than once and on a nil
// Scratch.
func (s *Scratch) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		err := os.Remove(s.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.closeErr = fmt.Errorf("xdisplay: remove scratch config: %w", err)
		}
	})
	return s.closeErr
}
