package pagination

import "testing"

func TestCalculate(t *testing.T) {
	tests := []struct {
		name  string
		page  int
		limit int
		total int64
		want  Pagination
	}{
		{"empty collection", 1, 10, 0, Pagination{Page: 1, HasNextPage: false, TotalPages: 1, TotalItems: 0}},
		{"single item", 1, 10, 1, Pagination{Page: 1, HasNextPage: false, TotalPages: 1, TotalItems: 1}},
		{"exactly one page", 1, 10, 10, Pagination{Page: 1, HasNextPage: false, TotalPages: 1, TotalItems: 10}},
		{"one past a page", 1, 10, 11, Pagination{Page: 1, HasNextPage: true, TotalPages: 2, TotalItems: 11}},
		{"second of two", 2, 10, 11, Pagination{Page: 2, HasNextPage: false, TotalPages: 2, TotalItems: 11}},
		{"beyond last page", 5, 10, 11, Pagination{Page: 5, HasNextPage: false, TotalPages: 2, TotalItems: 11}},
		{"limit one", 3, 1, 7, Pagination{Page: 3, HasNextPage: true, TotalPages: 7, TotalItems: 7}},
		{"zero limit uses default", 1, 0, 25, Pagination{Page: 1, HasNextPage: true, TotalPages: 3, TotalItems: 25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Calculate(tt.page, tt.limit, tt.total); got != tt.want {
				t.Errorf("Calculate(%d, %d, %d) = %+v, want %+v", tt.page, tt.limit, tt.total, got, tt.want)
			}
		})
	}
}

func TestCalculate_Properties(t *testing.T) {
	for limit := 1; limit <= 12; limit++ {
		for page := 1; page <= 6; page++ {
			for total := int64(0); total <= 40; total++ {
				got := Calculate(page, limit, total)
				wantPages := 1
				if total > 0 {
					wantPages = int((total + int64(limit) - 1) / int64(limit))
				}
				if got.TotalPages != wantPages {
					t.Fatalf("Calculate(%d, %d, %d).TotalPages = %d, want %d", page, limit, total, got.TotalPages, wantPages)
				}
				if want := int64(limit*page) < total; got.HasNextPage != want {
					t.Fatalf("Calculate(%d, %d, %d).HasNextPage = %v, want %v", page, limit, total, got.HasNextPage, want)
				}
				if got.Page != page {
					t.Fatalf("Calculate(%d, %d, %d).Page = %d, want %d", page, limit, total, got.Page, page)
				}
			}
		}
	}
}

func TestCalculate_NonPositivePage(t *testing.T) {
	for _, page := range []int{0, -1, -10} {
		got := Calculate(page, 10, 35)
		want := Pagination{Page: page, HasNextPage: false, TotalPages: 4, TotalItems: 35}
		if got != want {
			t.Errorf("Calculate(%d, 10, 35) = %+v, want %+v", page, got, want)
		}
		spec := BuildPage(page, 10)
		if !spec.Empty {
			t.Errorf("BuildPage(%d, 10).Empty = false, want true", page)
		}
	}
}

func TestBuildPage(t *testing.T) {
	tests := []struct {
		page, limit int
		want        QuerySpec
	}{
		{1, 10, QuerySpec{Page: 1, Limit: 10, Offset: 0}},
		{2, 10, QuerySpec{Page: 2, Limit: 10, Offset: 10}},
		{4, 3, QuerySpec{Page: 4, Limit: 3, Offset: 9}},
		{1, -2, QuerySpec{Page: 1, Limit: DefaultLimit, Offset: 0}},
		{0, 5, QuerySpec{Page: 0, Limit: 5, Empty: true}},
	}
	for _, tt := range tests {
		if got := BuildPage(tt.page, tt.limit); got != tt.want {
			t.Errorf("BuildPage(%d, %d) = %+v, want %+v", tt.page, tt.limit, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		page, limit string
		want        Options
	}{
		{"defaults", "", "", Options{Page: 1, Limit: 10}},
		{"explicit", "3", "25", Options{Page: 3, Limit: 25}},
		{"garbage", "abc", "x", Options{Page: 1, Limit: 10}},
		{"zero page", "0", "5", Options{Page: 1, Limit: 5}},
		{"negative limit", "2", "-4", Options{Page: 2, Limit: 10}},
		{"negative page kept", "-2", "10", Options{Page: -2, Limit: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.page, tt.limit); got != tt.want {
				t.Errorf("Parse(%q, %q) = %+v, want %+v", tt.page, tt.limit, got, tt.want)
			}
		})
	}
}

func TestParseZeroBased(t *testing.T) {
	if got := ParseZeroBased("", ""); got != (Options{Page: 1, Limit: 10}) {
		t.Errorf("ParseZeroBased defaults = %+v", got)
	}
	if got := ParseZeroBased("2", "5"); got != (Options{Page: 3, Limit: 5}) {
		t.Errorf("ParseZeroBased(2, 5) = %+v, want page 3", got)
	}
	if got := ParseZeroBased("-3", "5"); got != (Options{Page: 1, Limit: 5}) {
		t.Errorf("ParseZeroBased(-3, 5) = %+v, want page 1", got)
	}
}
