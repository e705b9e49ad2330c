package whatsapp

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// MediaStore keeps attachment bytes and hands out the URI they are served at
type MediaStore interface {
	Save(kind MediaKind, filename string, data []byte) (string, error)
	Open(uri string) ([]byte, error)
}

const mediaURIPrefix = "/media/"

// FileMediaStore stores attachments under root/<kind>s/
type FileMediaStore struct {
	root string
}

// NewFileMediaStore creates the store, making root if needed
func NewFileMediaStore(root string) (*FileMediaStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &FileMediaStore{root: root}, nil
}

// Root is the directory served under /media/
func (s *FileMediaStore) Root() string {
	return s.root
}

func (s *FileMediaStore) Save(kind MediaKind, filename string, data []byte) (string, error) {
	dir := string(kind) + "s"
	if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
		return "", fmt.Errorf("create %s dir: %w", dir, err)
	}
	name := filepath.Base(filename)
	if err := os.WriteFile(filepath.Join(s.root, dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return mediaURIPrefix + dir + "/" + name, nil
}

func (s *FileMediaStore) Open(uri string) ([]byte, error) {
	rel := strings.TrimPrefix(path.Clean("/"+uri), mediaURIPrefix)
	if rel == "" || strings.HasPrefix(rel, "/") {
		return nil, fmt.Errorf("not a media uri: %q", uri)
	}
	return os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
}

// MediaFilename derives the stored name of an attachment from the contact,
// the message time and the attachment type.
func MediaFilename(contactID string, kind MediaKind, mimeType, original string, at time.Time) string {
	return fmt.Sprintf("%s_%d.%s", contactID, at.UnixMilli(), mediaExtension(kind, mimeType, original))
}

func mediaExtension(kind MediaKind, mimeType, original string) string {
	if kind == MediaSticker {
		return "webp"
	}
	if kind == MediaDocument {
		if ext := strings.TrimPrefix(filepath.Ext(original), "."); ext != "" {
			return ext
		}
	}
	if mimeType == "" {
		mimeType = defaultMime(kind)
	}
	_, sub, ok := strings.Cut(mimeType, "/")
	if !ok {
		return "bin"
	}
	sub, _, _ = strings.Cut(sub, ";")
	sub = strings.TrimSpace(sub)
	if sub == "" || sub == "octet-stream" {
		return "bin"
	}
	return sub
}

func defaultMime(kind MediaKind) string {
	switch kind {
	case MediaImage:
		return "image/jpeg"
	case MediaVideo:
		return "video/mp4"
	case MediaAudio:
		return "audio/ogg"
	case MediaSticker:
		return "image/webp"
	}
	return "application/octet-stream"
}
