package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxNameAttempts bounds the "name (n).ext" search in Save.
const maxNameAttempts = 1000

// FileStore delivers downloaded images into a local directory, the way a
// browser drops files into the downloads folder.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Save writes data under name without clobbering earlier downloads: a taken
// name becomes "name (1).ext", "name (2).ext" and so on. It returns the full
// path written.
func (s *FileStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if err != nil {
		return "", err
	}
	ext := filepath.Ext(cleanKey)
	stem := strings.TrimSuffix(cleanKey, ext)
	for i := 0; i < maxNameAttempts; i++ {
		candidate := cleanKey
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		fullPath := filepath.Join(s.basePath, candidate)
		f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("storage: create file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("storage: write file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("storage: close file: %w", err)
		}
		return fullPath, nil
	}
	return "", fmt.Errorf("storage: no free name for %s", cleanKey)
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
