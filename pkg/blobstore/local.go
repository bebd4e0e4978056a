package blobstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aminofox/hlsplayer/pkg/logger"
)

// LocalBackend writes blobs under the system temporary directory (or a
// configured directory), matching spec's description of the blob store as
// "a file written under the system temporary directory".
type LocalBackend struct {
	baseDir string
	logger  logger.Logger
}

// NewLocalBackend creates a local-disk blob backend rooted at dir. An
// empty dir defaults to the system temp directory.
func NewLocalBackend(dir string, log logger.Logger) (*LocalBackend, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if log == nil {
		log = logger.NewDefaultLogger(logger.InfoLevel, "text")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob store directory: %w", err)
	}

	return &LocalBackend{baseDir: dir, logger: log}, nil
}

func (b *LocalBackend) Put(filename string, data []byte) (string, error) {
	path := filepath.Join(b.baseDir, filename)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	b.logger.Debug("blob written",
		logger.Field{Key: "filename", Value: filename},
		logger.Field{Key: "size", Value: len(data)},
	)

	return "file://" + abs, nil
}

func (b *LocalBackend) Delete(filename string) error {
	path := filepath.Join(b.baseDir, filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (b *LocalBackend) Close() error {
	return nil
}
