package common

import (
	"net/http"
	"strconv"
)

// Page is the pagination envelope returned alongside list payloads.
type Page struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// PageRequest is a parsed ?page=&limit= pair.
type PageRequest struct {
	Page    int
	PerPage int
}

// Offset is the number of rows to skip for this page.
func (p PageRequest) Offset() int { return (p.Page - 1) * p.PerPage }

// Envelope describes this page given the total row count.
func (p PageRequest) Envelope(total int) Page {
	pages := 0
	if p.PerPage > 0 {
		pages = (total + p.PerPage - 1) / p.PerPage
	}
	return Page{Page: p.Page, PerPage: p.PerPage, TotalItems: total, TotalPages: pages}
}

// ParsePage reads page and limit from the query string. Missing or invalid
// values fall back to page 1 and def; limit is capped at max.
func ParsePage(r *http.Request, def, max int) PageRequest {
	q := r.URL.Query()
	p := PageRequest{Page: 1, PerPage: def}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		p.Page = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		p.PerPage = n
	}
	if max > 0 && p.PerPage > max {
		p.PerPage = max
	}
	return p
}
