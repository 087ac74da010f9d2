// Package storage holds uploaded post images: a local directory served by the
// API itself or a CDN origin that accepts multipart uploads.
package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"realmeal/internal/config"

	"github.com/google/uuid"
)

// BlobStore uploads image bytes and resolves the public URL of a stored object.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	DownloadURL(ctx context.Context, ref string) (string, error)
}

// New builds the blob store selected by BLOB_BACKEND.
func New(cfg *config.Config) (BlobStore, error) {
	switch cfg.BlobBackend {
	case "", "local":
		return NewLocalStore(cfg.BlobDir, cfg.BlobPublicURL), nil
	case "cdn":
		return NewCDNStore(cfg.CDNOrigin), nil
	default:
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.BlobBackend)
	}
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey returns a fresh storage key for an uploaded post image:
// posts/<unix-millis>_<uuid>_<sanitized name>. Uploads sharing a name and a
// millisecond still get distinct keys.
func ObjectKey(now time.Time, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "image"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return fmt.Sprintf("posts/%d_%s_%s", now.UnixMilli(), uuid.NewString(), name)
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
