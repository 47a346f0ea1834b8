package paginate

import (
	"encoding/json"
	"strconv"
)

const (
	DefaultLimit    = 50
	DefaultOffset   = 0
	DefaultPageSize = 25
	MaxPageSize     = 1000
)

// Metadata contains paged info for any listed responses
// helps the assistant to understand status of pagination
type Metadata struct {
	Total      int  `json:"total"`
	Offset     int  `json:"offset"`
	Limit      int  `json:"limit"`
	HasMore    bool `json:"hasMore"`
	NextOffset int  `json:"nextOffset"`
}

// Response wraps a list data with paged metadata
type Response struct {
	Data       []any    `json:"data"`
	Pagination Metadata `json:"pagination"`
}

// ParseParams extracts limit and offset from tool arguments.
func ParseParams(args any) (int, int) {
	limit := DefaultLimit
	offset := DefaultOffset

	m, ok := args.(map[string]any)
	if !ok {
		return limit, offset
	}

	if v, ok := intArg(m["limit"]); ok && v > 0 {
		limit = v
	}
	if v, ok := intArg(m["offset"]); ok && v >= 0 {
		offset = v
	}
	return limit, offset
}

// intArg accepts numbers and numeric strings; tool clients send either.
func intArg(v any) (int, bool) {
	switch n := v.(type) {
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// Array returns the paged subset for list data.
func Array[T any](arr []T, offset, limit int) []T {
	if limit <= 0 || offset >= len(arr) {
		return []T{}
	}

	end := offset + limit
	if end > len(arr) {
		end = len(arr)
	}
	return arr[offset:end]
}

// Wrap wraps paginated data and metadata into json.
func Wrap(data []any, total, offset, limit int) ([]byte, error) {
	nextOffset := offset + limit
	if nextOffset >= total {
		nextOffset = -1
	}

	return json.Marshal(Response{
		Data: data,
		Pagination: Metadata{
			Total:      total,
			Offset:     offset,
			Limit:      limit,
			HasMore:    nextOffset != -1,
			NextOffset: nextOffset,
		},
	})
}

// TotalPages is the number of pages of size pageSize needed for total rows.
// An empty result still has one (empty) page.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// NormalizePageSize clamps a requested page size into the accepted range.
func NormalizePageSize(size int) int {
	switch {
	case size <= 0:
		return DefaultPageSize
	case size > MaxPageSize:
		return MaxPageSize
	}
	return size
}
