package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params holds the paging values extracted from a query string.
type Params struct {
	PageSize  int
	PageToken string
}

// Parse reads page_size and page_token. Oversized pages are clamped to maxPageSize rather than rejected.
func Parse(values url.Values, defaultPageSize, maxPageSize int) (Params, error) {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}

	params := Params{PageSize: defaultPageSize, PageToken: strings.TrimSpace(values.Get("page_token"))}
	raw := strings.TrimSpace(values.Get("page_size"))
	if raw == "" {
		return params, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if size <= 0 {
		return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	params.PageSize = min(size, maxPageSize)
	return params, nil
}
