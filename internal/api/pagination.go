package api

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// PaginationParams holds parsed limit/offset query values.
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginationMeta contains pagination metadata for the response.
type PaginationMeta struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// ParsePagination extracts limit and offset from query params. Missing values
// take the defaults; the limit is capped at maxLimit. Non-numeric or negative
// values are an error so the caller can answer 400.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) (PaginationParams, error) {
	p := PaginationParams{Limit: defaultLimit}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("limit must be a positive integer")
		}
		p.Limit = n
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("offset must be a non-negative integer")
		}
		p.Offset = n
	}
	return p, nil
}

// NewPaginationMeta builds the metadata block for a page.
func NewPaginationMeta(p PaginationParams, total int) PaginationMeta {
	return PaginationMeta{
		Limit:   p.Limit,
		Offset:  p.Offset,
		Total:   total,
		HasMore: p.Offset+p.Limit < total,
	}
}
