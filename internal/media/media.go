// Package media stores downloaded message attachments on local disk.
package media

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Store writes media blobs under a base directory and hands back relative
// references for persistence on the message row.
type Store struct {
	dir string
}

// NewStore creates the media directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes data under a collision-resistant name derived from the current
// timestamp, a random suffix and the mime-inferred extension. Returns the
// reference to store as media_ref.
func (s *Store) Save(data []byte, mimeType string) (string, error) {
	name := fmt.Sprintf("%d_%s%s", time.Now().UnixMilli(), uuid.NewString()[:8], extensionFor(mimeType))
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0600); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	return name, nil
}

// Path resolves a stored reference back to an absolute path.
func (s *Store) Path(ref string) string {
	return filepath.Join(s.dir, ref)
}

// extensionFor infers a file extension from a mime type, with fallbacks for
// the types the network commonly delivers with parameters mime.ExtensionsByType
// does not resolve cleanly.
func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "audio/ogg; codecs=opus", "audio/ogg":
		return ".ogg"
	case "":
		return ".bin"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
