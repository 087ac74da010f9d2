package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"realmeal/internal/observability"

	"github.com/gofiber/fiber/v2"
)

const cdnUploadTimeout = 30 * time.Second

// CDNStore uploads objects to a CDN origin with multipart POST requests and
// serves them from the same origin.
type CDNStore struct {
	origin string
}

// NewCDNStore creates a store for the given origin URL.
func NewCDNStore(origin string) *CDNStore {
	return &CDNStore{origin: strings.TrimRight(origin, "/")}
}

func (s *CDNStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	timeout := cdnUploadTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return "", context.DeadlineExceeded
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("key", key)
	args.Set("content_type", contentType)

	a := fiber.Post(s.origin + "/upload")
	a.Timeout(timeout)
	a.FileData(&fiber.FormFile{
		Fieldname: "file",
		Name:      path.Base(key),
		Content:   data,
	})
	a.MultipartForm(args)

	status, body, errs := a.Bytes()
	if len(errs) > 0 {
		return "", fmt.Errorf("cdn upload: %w", errs[0])
	}
	if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
		return "", fmt.Errorf("cdn upload: status %d: %s", status, strings.TrimSpace(string(body)))
	}

	observability.BlobUploadBytes.Observe(float64(len(data)))
	return key, nil
}

func (s *CDNStore) DownloadURL(_ context.Context, ref string) (string, error) {
	if !validKey(ref) {
		return "", fmt.Errorf("invalid object reference %q", ref)
	}
	return s.origin + "/" + ref, nil
}
