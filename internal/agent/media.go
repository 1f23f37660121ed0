package agent

import (
	"encoding/base64"
	"fmt"

	"github.com/nextlevelbuilder/gobutler/internal/providers"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ValidateImage rejects unsupported media types, malformed base64 and
// payloads beyond maxBytes (decoded size) before anything reaches the
// provider.
func ValidateImage(img *providers.ImageAttachment, maxBytes int64) error {
	if img == nil {
		return nil
	}
	if !allowedImageTypes[img.MediaType] {
		return fmt.Errorf("unsupported image type %q", img.MediaType)
	}
	if img.Data == "" {
		return fmt.Errorf("empty image payload")
	}
	decoded := base64.StdEncoding.DecodedLen(len(img.Data))
	if int64(decoded) > maxBytes {
		return fmt.Errorf("image too large: %d bytes (max %d)", decoded, maxBytes)
	}
	if _, err := base64.StdEncoding.DecodeString(img.Data); err != nil {
		return fmt.Errorf("invalid base64 image data: %w", err)
	}
	return nil
}
