package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSystemStore writes photos under a root directory. The HTTP server
// serves that directory at the public base URL (e.g. /media).
//
//	<root>/
//	  <ownerID>/
//	    <unix-millis>-<xid>.jpg
type FileSystemStore struct {
	root    string
	baseURL string
}

// NewFileSystemStore creates the root directory if needed.
func NewFileSystemStore(root, baseURL string) (*FileSystemStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob: filesystem store requires a root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: creating root directory: %w", err)
	}
	return &FileSystemStore{root: root, baseURL: baseURL}, nil
}

// Root is the directory photos are written under.
func (s *FileSystemStore) Root() string {
	return s.root
}

// Put writes the photo atomically (temp file + rename) and returns its URL.
func (s *FileSystemStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !filepath.IsLocal(key) {
		return "", fmt.Errorf("blob: invalid key %q", key)
	}

	destPath := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("blob: creating directory: %w", err)
	}
	if err := writeFile(destPath, r, size); err != nil {
		return "", err
	}
	return joinURL(s.baseURL, key), nil
}

func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("blob: creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("blob: writing data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("blob: closing temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("blob: size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("blob: renaming temp file: %w", err)
	}

	success = true
	return nil
}

var _ Store = (*FileSystemStore)(nil)
