package shared

import "math"

// Pagination carries the metadata of one page of a listing. Page and
// PerPage are normalised, never the raw query values.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination normalises page/perPage and computes page counts.
// Out-of-range inputs clamp to page 1 and 20 per page.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 || perPage > 200 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Offset is the SQL offset of the current page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}
