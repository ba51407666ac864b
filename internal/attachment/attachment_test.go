package attachment

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwithai-backend/internal/model"
)

var (
	pngHeader  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	jpegHeader = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	gifHeader  = []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00")
)

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		want    string
		wantErr error
	}{
		{"png", pngHeader, "image/png", nil},
		{"jpeg", jpegHeader, "image/jpeg", nil},
		{"gif", gifHeader, "image/gif", nil},
		{"text", []byte("hello, world"), "", ErrNotImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectMIME(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoader_FromBytes(t *testing.T) {
	l := NewLoader(0)
	assert.Equal(t, int64(DefaultMaxBytes), l.MaxBytes)

	img, err := l.FromBytes(pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngHeader), img.Data)

	_, err = l.FromBytes(nil)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = NewLoader(4).FromBytes(pngHeader)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestLoader_FromBase64(t *testing.T) {
	l := NewLoader(1024)
	encoded := base64.StdEncoding.EncodeToString(gifHeader)

	img, err := l.FromBase64(encoded, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "image/gif", img.MIMEType, "detected type wins over the declared one")

	img, err = l.FromBase64("data:image/gif;base64,"+encoded, "")
	require.NoError(t, err)
	assert.Equal(t, encoded, img.Data)

	_, err = l.FromBase64("!!not base64!!", "")
	assert.ErrorIs(t, err, ErrInvalidBase64)

	_, err = l.FromBase64("  ", "")
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = l.FromBase64(base64.StdEncoding.EncodeToString([]byte("plain text")), "")
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestDataURL(t *testing.T) {
	assert.Equal(t, "", DataURL(nil))
	assert.Equal(t, "data:image/png;base64,AAAA", DataURL(&model.Image{Data: "AAAA", MIMEType: "image/png"}))
	assert.Equal(t, "data:image/jpeg;base64,AAAA", DataURL(&model.Image{Data: "AAAA"}))
}
