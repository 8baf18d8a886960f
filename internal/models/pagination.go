package models

// Page size bounds for list endpoints
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PaginationResult holds pagination metadata
type PaginationResult struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalCount int64 `json:"total_count"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// NewPaginationResult describes page of pageSize within totalCount rows
func NewPaginationResult(page, pageSize int, totalCount int64) PaginationResult {
	result := PaginationResult{Page: page, PageSize: pageSize, TotalCount: totalCount}
	if pageSize > 0 {
		result.TotalPages = int((totalCount + int64(pageSize) - 1) / int64(pageSize))
	}
	result.HasNext = page < result.TotalPages
	return result
}

// NormalizePage clamps page and pageSize in place
func NormalizePage(page, pageSize *int) {
	if *page < 1 {
		*page = 1
	}
	switch {
	case *pageSize < 1:
		*pageSize = DefaultPageSize
	case *pageSize > MaxPageSize:
		*pageSize = MaxPageSize
	}
}

// CalculateOffset returns the SQL OFFSET for a 1-based page
func CalculateOffset(page, pageSize int) int {
	return (page - 1) * pageSize
}
