package ingest

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vbonduro/minerallens/internal/domain"
)

var (
	ErrNotImage = errors.New("not an image file")
	ErrTooLarge = errors.New("image exceeds upload limit")
	ErrEmpty    = errors.New("image is empty")
)

// IsImageType reports whether a declared content type names an image.
func IsImageType(declared string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(declared)), "image/")
}

// Encode validates an uploaded file and converts it to an EncodedImage.
// The declared type must start with image/ and the content itself must sniff
// as an image; either check failing yields ErrNotImage before any further work.
// A limit <= 0 disables the size check.
func Encode(r io.Reader, declaredType string, limit int64) (*domain.EncodedImage, error) {
	if !IsImageType(declaredType) {
		return nil, ErrNotImage
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, ErrNotImage
	}

	return &domain.EncodedImage{
		Data:      base64.StdEncoding.EncodeToString(data),
		MediaType: mediaType(declaredType),
	}, nil
}

// EncodeBytes is Encode for content already held in memory.
func EncodeBytes(data []byte, declaredType string) (*domain.EncodedImage, error) {
	return Encode(bytes.NewReader(data), declaredType, 0)
}

// mediaType strips parameters such as charset from a declared content type.
func mediaType(declared string) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(declared))
	}
	return mt
}
