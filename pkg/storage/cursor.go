package storage

import (
	"encoding/base64"
	"fmt"

	"github.com/platinummonkey/scribe/pkg/authz"
)

// Page size bounds applied by every backend
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// EncodeCursor turns the last ID of a page into an opaque cursor
func EncodeCursor(lastID string) string {
	if lastID == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(lastID))
}

// DecodeCursor reverses EncodeCursor. An empty cursor starts from the
// beginning.
func DecodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("malformed cursor: %w", authz.ErrValidation)
	}
	return string(raw), nil
}

// ClampLimit applies the default and maximum page sizes
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
