package model

// Pagination 是分页响应块。
type Pagination struct {
	CurrentPage  int   `json:"currentPage"`
	PageSize     int   `json:"pageSize"`
	TotalPages   int   `json:"totalPages"`
	TotalResults int64 `json:"totalResults"`
	HasNext      bool  `json:"hasNext"`
	HasPrev      bool  `json:"hasPrev"`
}

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page 是已校正的分页请求。
type Page struct {
	Number int
	Size   int
}

// NewPage 校正分页参数：小于 1 使用默认值，Size 上限为 MaxPageSize。
func NewPage(number, size int) Page {
	if number < 1 {
		number = DefaultPage
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// Offset 返回 SQL OFFSET。
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// NewPagination 根据总数计算分页块。
func NewPagination(p Page, total int64) Pagination {
	totalPages := 0
	if p.Size > 0 && total > 0 {
		totalPages = int((total + int64(p.Size) - 1) / int64(p.Size))
	}
	return Pagination{
		CurrentPage:  p.Number,
		PageSize:     p.Size,
		TotalPages:   totalPages,
		TotalResults: total,
		HasNext:      p.Number < totalPages,
		HasPrev:      p.Number > 1,
	}
}
