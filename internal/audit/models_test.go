package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterPagination(t *testing.T) {
	cases := []struct {
		name       string
		filter     Filter
		wantLimit  int
		wantOffset int
	}{
		{"defaults", Filter{}, 50, 0},
		{"first page explicit", Filter{Page: 1, PageSize: 20}, 20, 0},
		{"later page", Filter{Page: 3, PageSize: 20}, 20, 40},
		{"zero page treated as first", Filter{Page: 0, PageSize: 10}, 10, 0},
		{"oversized page clamped", Filter{PageSize: 10_000}, 500, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			limit, offset := tc.filter.limitOffset()
			assert.Equal(t, tc.wantLimit, limit)
			assert.Equal(t, tc.wantOffset, offset)
		})
	}
}
