// Package attachment turns picked files into inline images for a prompt.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"chatwithai-backend/internal/model"
)

var (
	ErrEmptyImage    = errors.New("image is empty")
	ErrNotImage      = errors.New("file is not an image")
	ErrImageTooLarge = errors.New("image is too large")
	ErrInvalidBase64 = errors.New("image data is not valid base64")
)

// DefaultMaxBytes is used when no limit is configured.
const DefaultMaxBytes = 10 << 20

// Loader validates raw image bytes against a size limit.
type Loader struct {
	MaxBytes int64
}

// NewLoader returns a Loader; maxBytes <= 0 selects DefaultMaxBytes.
func NewLoader(maxBytes int64) *Loader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Loader{MaxBytes: maxBytes}
}

// FromBytes detects the content type of raw and encodes it as base64.
func (l *Loader) FromBytes(raw []byte) (*model.Image, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyImage
	}
	if int64(len(raw)) > l.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrImageTooLarge, len(raw), l.MaxBytes)
	}

	mimeType, err := DetectMIME(raw)
	if err != nil {
		return nil, err
	}

	return &model.Image{
		Data:     base64.StdEncoding.EncodeToString(raw),
		MIMEType: mimeType,
	}, nil
}

// FromBase64 accepts plain base64 or a data: URL. The declared type is only
// a hint; the detected type wins.
func (l *Loader) FromBase64(data, declaredMIME string) (*model.Image, error) {
	payload := strings.TrimSpace(data)
	if strings.HasPrefix(payload, "data:") {
		if idx := strings.Index(payload, ","); idx >= 0 {
			payload = payload[idx+1:]
		}
	}
	if payload == "" {
		return nil, ErrEmptyImage
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}

	img, err := l.FromBytes(raw)
	if err != nil {
		return nil, err
	}
	if img.MIMEType == "" {
		img.MIMEType = declaredMIME
	}
	return img, nil
}

// DetectMIME sniffs raw and returns its image/* type.
func DetectMIME(raw []byte) (string, error) {
	mtype := mimetype.Detect(raw)
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return baseType(mtype.String()), nil
		}
	}
	return "", fmt.Errorf("%w: detected %s", ErrNotImage, mtype.String())
}

// DataURL renders img for an <img src>.
func DataURL(img *model.Image) string {
	if img == nil {
		return ""
	}
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + img.Data
}

func baseType(s string) string {
	if idx := strings.Index(s, ";"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}
