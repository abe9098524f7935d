// Package blob stores submission photos and hands back a publicly
// fetchable URL for each one.
package blob

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/rs/xid"
)

// Store is write-once photo storage. Put returns the URL the inference
// service and the dashboard fetch the photo from.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/heif": ".heif",
	"image/bmp":  ".bmp",
}

// ExtensionFor returns the file extension (with dot) for an image MIME type.
// Unknown types fall back to the system MIME table, then to ".img".
func ExtensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if ext, ok := extensions[mediaType]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return exts[0]
	}
	return ".img"
}

// NewKey builds the object key for a photo: <owner>/<unix-millis>-<xid><ext>.
// Keys are unique per upload, so a retry never overwrites an earlier photo.
func NewKey(ownerID string, now time.Time, contentType string) string {
	return fmt.Sprintf("%s/%d-%s%s", ownerID, now.UnixMilli(), xid.New().String(), ExtensionFor(contentType))
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
