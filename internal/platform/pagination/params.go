// Package pagination parses list query parameters and encodes opaque page tokens.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/carepoint-rx/api/internal/domain"
)

const (
	// DefaultPageSize applies when the client omits pageSize.
	DefaultPageSize = 20
	// MaxPageSize caps client supplied page sizes.
	MaxPageSize = 100
)

var (
	// ErrInvalidPageSize is returned for non-numeric or non-positive page sizes.
	ErrInvalidPageSize = errors.New("pagination: invalid page size")
	// ErrInvalidPageToken is returned when a page token cannot be decoded.
	ErrInvalidPageToken = errors.New("pagination: invalid page token")
)

// FromRequest reads pageSize and pageToken from the query string. Oversized pages are clamped.
func FromRequest(r *http.Request) (domain.Pagination, error) {
	query := r.URL.Query()
	page := domain.Pagination{PageSize: DefaultPageSize, PageToken: strings.TrimSpace(query.Get("pageToken"))}

	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return domain.Pagination{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		page.PageSize = size
	}
	page.PageSize = Clamp(page.PageSize)

	if page.PageToken != "" {
		if _, err := DecodeToken(page.PageToken); err != nil {
			return domain.Pagination{}, err
		}
	}
	return page, nil
}

// Clamp bounds size to [1, MaxPageSize], treating zero as the default.
func Clamp(size int) int {
	switch {
	case size <= 0:
		return DefaultPageSize
	case size > MaxPageSize:
		return MaxPageSize
	default:
		return size
	}
}
