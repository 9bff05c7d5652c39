// Package pagination 把 page/limit 请求转换为分页元数据，以及与存储无关的 QuerySpec。
package pagination

import "strconv"

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

// Pagination 随每个分页结果一起返回。
type Pagination struct {
	Page        int   `json:"page"`
	HasNextPage bool  `json:"hasNextPage"`
	TotalPages  int   `json:"totalPages"`
	TotalItems  int64 `json:"totalItems"`
}

// Options 是请求的页，Page 从 1 开始。
type Options struct {
	Page  int
	Limit int
}

// QuerySpec 描述存储层需要返回的有序结果窗口。
// Empty 表示请求不对应任何行（page 非正）。
type QuerySpec struct {
	Page   int
	Limit  int
	Offset int
	Empty  bool
}

// Parse 解析查询参数。缺失、非数字或为 0 时使用默认值；负数 page 保留，得到空页。
func Parse(page, limit string) Options {
	p, err := strconv.Atoi(page)
	if err != nil || p == 0 {
		p = DefaultPage
	}
	return Options{Page: p, Limit: atoiOr(limit, DefaultLimit)}
}

// ParseZeroBased 解析从 0 开始的 page（会话列表接口），转换为从 1 开始的 Options。
func ParseZeroBased(page, limit string) Options {
	p, err := strconv.Atoi(page)
	if err != nil || p < 0 {
		p = 0
	}
	return Options{Page: p + 1, Limit: atoiOr(limit, DefaultLimit)}
}

func atoiOr(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// BuildPage 计算 page/limit 对应的行窗口，非正 limit 使用 DefaultLimit。
func BuildPage(page, limit int) QuerySpec {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if page <= 0 {
		return QuerySpec{Page: page, Limit: limit, Empty: true}
	}
	return QuerySpec{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

func (o Options) Spec() QuerySpec { return BuildPage(o.Page, o.Limit) }

// Calculate 根据请求与总行数计算分页元数据。
//
// totalPages = ceil(total/limit)，无数据时为 1；hasNextPage 为 limit*page < total。
// 非正 page 是空页：原样返回 page，hasNextPage 恒为 false。
func Calculate(page, limit int, total int64) Pagination {
	spec := BuildPage(page, limit)
	totalPages := 1
	if total > 0 {
		totalPages = int((total + int64(spec.Limit) - 1) / int64(spec.Limit))
	}
	if spec.Empty {
		return Pagination{Page: page, TotalPages: totalPages, TotalItems: total}
	}
	return Pagination{
		Page:        spec.Offset/spec.Limit + 1,
		HasNextPage: int64(spec.Limit)*int64(spec.Page) < total,
		TotalPages:  totalPages,
		TotalItems:  total,
	}
}

func (q QuerySpec) For(total int64) Pagination { return Calculate(q.Page, q.Limit, total) }
