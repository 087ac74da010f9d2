package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"realmeal/internal/observability"
)

// LocalStore writes objects below a directory that the API serves at publicURL.
type LocalStore struct {
	dir       string
	publicURL string
}

// NewLocalStore creates a store rooted at dir.
func NewLocalStore(dir, publicURL string) *LocalStore {
	return &LocalStore{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}
}

// Dir returns the root directory, for mounting as a static route.
func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Upload(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := writeBytesToFile(filepath.Join(s.dir, filepath.FromSlash(key)), data); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	observability.BlobUploadBytes.Observe(float64(len(data)))
	return key, nil
}

func (s *LocalStore) DownloadURL(_ context.Context, ref string) (string, error) {
	if !validKey(ref) {
		return "", fmt.Errorf("invalid object reference %q", ref)
	}
	return s.publicURL + "/" + ref, nil
}

func writeBytesToFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
