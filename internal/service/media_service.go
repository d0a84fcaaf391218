package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/stemsi/examportal/internal/config"
)

// Sentinel errors for media uploads.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrEmptyFile           = errors.New("empty file")
)

const audioSubdir = "audio"

// StoredMedia describes a file written by MediaService.
type StoredMedia struct {
	URL      string
	MimeType string
	Size     int64
}

// MediaService stores uploaded recordings on local disk.
type MediaService struct {
	cfg *config.Config
}

// NewMediaService creates a new MediaService.
func NewMediaService(cfg *config.Config) *MediaService {
	return &MediaService{cfg: cfg}
}

// SaveAudio reads a recording, sniffs its content type and saves it under a
// UUID filename. The declared client content type is ignored.
// Returns the relative URL path to the saved file.
func (s *MediaService) SaveAudio(r io.Reader) (*StoredMedia, error) {
	limit := s.cfg.MaxAudioUploadBytes
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: max %d bytes", ErrFileTooLarge, limit)
	}

	mt := mimetype.Detect(data)
	if !isAudio(mt) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, mt.String())
	}

	dir := filepath.Join(s.cfg.UploadDir, audioSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	filename := uuid.New().String() + mt.Extension()
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	return &StoredMedia{
		URL:      "/uploads/" + audioSubdir + "/" + filename,
		MimeType: mt.String(),
		Size:     int64(len(data)),
	}, nil
}

// isAudio accepts audio/* and webm containers, which browsers use for
// recorded speech.
func isAudio(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") || m.Is("video/webm") {
			return true
		}
	}
	return false
}
