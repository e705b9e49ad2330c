package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaFilename(t *testing.T) {
	at := time.UnixMilli(1767225600123)
	tests := []struct {
		name     string
		kind     MediaKind
		mime     string
		original string
		want     string
	}{
		{"image default", MediaImage, "", "", "120_1767225600123.jpeg"},
		{"image png", MediaImage, "image/png", "", "120_1767225600123.png"},
		{"audio with codec", MediaAudio, "audio/ogg; codecs=opus", "", "120_1767225600123.ogg"},
		{"video default", MediaVideo, "", "", "120_1767225600123.mp4"},
		{"sticker always webp", MediaSticker, "image/png", "", "120_1767225600123.webp"},
		{"document keeps extension", MediaDocument, "application/pdf", "Factura Marzo.PDF", "120_1767225600123.PDF"},
		{"document without name", MediaDocument, "", "", "120_1767225600123.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MediaFilename("120", tt.kind, tt.mime, tt.original, at))
		})
	}
}

func TestFileMediaStoreRoundTrip(t *testing.T) {
	s, err := NewFileMediaStore(t.TempDir())
	require.NoError(t, err)

	uri, err := s.Save(MediaAudio, "120_1.ogg", []byte("OggS"))
	require.NoError(t, err)
	assert.Equal(t, "/media/audios/120_1.ogg", uri)

	data, err := s.Open(uri)
	require.NoError(t, err)
	assert.Equal(t, []byte("OggS"), data)
}

func TestFileMediaStoreRejectsForeignPaths(t *testing.T) {
	s, err := NewFileMediaStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Open("/etc/passwd")
	assert.Error(t, err)
	_, err = s.Open("/media/../../etc/passwd")
	assert.Error(t, err)
}
