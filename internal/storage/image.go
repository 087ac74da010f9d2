package storage

import (
	"bytes"
	"fmt"
	"image"
	"mime"
	"net/http"
	"strings"

	"realmeal/internal/models"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// MaxImageSide bounds either dimension of an uploaded photo.
const MaxImageSide = 12000

// ImageInfo describes an accepted upload.
type ImageInfo struct {
	MIME   string
	Width  int
	Height int
}

// decoder format name -> canonical MIME type
var imageFormats = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// ValidateImage checks that content is a photo we can decode, within maxBytes
// and MaxImageSide, and that a client-declared image type agrees with the
// bytes. Uploads are stored unmodified.
func ValidateImage(content []byte, declared string, maxBytes int64) (ImageInfo, error) {
	switch {
	case len(content) == 0:
		return ImageInfo{}, models.NewValidationError("No file uploaded")
	case maxBytes > 0 && int64(len(content)) > maxBytes:
		return ImageInfo{}, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", maxBytes/(1024*1024)))
	}

	sniffed := canonicalMIME(http.DetectContentType(content))
	if !knownMIME(sniffed) {
		return ImageInfo{}, models.NewValidationError("Invalid image type")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return ImageInfo{}, models.NewValidationError("Invalid image file")
	}
	mimeType, ok := imageFormats[format]
	if !ok {
		return ImageInfo{}, models.NewValidationError("Unsupported image format")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxImageSide || cfg.Height > MaxImageSide {
		return ImageInfo{}, models.NewValidationError("Invalid image dimensions")
	}

	if d := canonicalMIME(declared); strings.HasPrefix(d, "image/") && d != mimeType {
		return ImageInfo{}, models.NewValidationError("Image content type mismatch")
	}
	return ImageInfo{MIME: mimeType, Width: cfg.Width, Height: cfg.Height}, nil
}

func knownMIME(m string) bool {
	for _, v := range imageFormats {
		if v == m {
			return true
		}
	}
	return false
}

// canonicalMIME strips parameters, lowercases and folds image/jpg into image/jpeg.
func canonicalMIME(ct string) string {
	ct = strings.TrimSpace(ct)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	ct = strings.ToLower(ct)
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}
