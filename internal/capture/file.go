// Package capture provides audio devices for the terminal client.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/stemsi/examportal/internal/session"
)

// FileDevice plays back pre-recorded audio files as takes. Each take
// uses the next file of the directory in name order, wrapping around.
type FileDevice struct {
	Dir string
}

func NewFileDevice(dir string) *FileDevice {
	return &FileDevice{Dir: dir}
}

func (d *FileDevice) Open(_ context.Context) (session.Stream, error) {
	entries, err := os.ReadDir(d.Dir)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", session.ErrPermissionDenied, d.Dir)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", session.ErrDeviceUnavailable, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(d.Dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no audio files in %s", session.ErrDeviceUnavailable, d.Dir)
	}
	sort.Strings(files)
	return &fileStream{files: files}, nil
}

type fileStream struct {
	mu      sync.Mutex
	files   []string
	next    int
	started time.Time
	active  bool
	closed  bool
}

func (s *fileStream) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	if s.active {
		return errors.New("take already in progress")
	}
	s.active = true
	s.started = time.Now()
	return nil
}

func (s *fileStream) End() (session.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return session.Capture{}, errors.New("no take in progress")
	}
	s.active = false

	path := s.files[s.next%len(s.files)]
	s.next++
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Capture{}, fmt.Errorf("read %s: %w", path, err)
	}
	mt := mimetype.Detect(data)
	if !isAudio(mt) {
		return session.Capture{}, fmt.Errorf("%s is %s, not audio", filepath.Base(path), mt.String())
	}
	return session.Capture{
		Data:     data,
		MimeType: mt.String(),
		Duration: time.Since(s.started),
	}, nil
}

func (s *fileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.active = false
	return nil
}

// isAudio accepts audio/* and WebM, which is sniffed as video/webm even
// when it only carries an audio track.
func isAudio(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") || m.Is("video/webm") {
			return true
		}
	}
	return false
}
