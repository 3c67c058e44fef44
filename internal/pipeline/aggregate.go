package pipeline

import (
	"fmt"
	"sort"

	"go-geo-enrich/internal/model"
)

// GroupCount is the number of rows sharing one value of a column
type GroupCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// GroupByColumn counts rows per distinct non-null value of a text column.
// Groups are sorted by key.
func GroupByColumn(t *model.Table, column string) ([]GroupCount, error) {
	col := t.Column(column)
	if col == nil {
		return nil, fmt.Errorf("column not found: %s", column)
	}

	counts := make(map[string]int)
	for i := range col.Values {
		if col.IsNull(i) {
			continue
		}
		key, ok := col.String(i)
		if !ok {
			key = fmt.Sprintf("%v", col.Values[i])
		}
		counts[key]++
	}

	groups := make([]GroupCount, 0, len(counts))
	for key, n := range counts {
		groups = append(groups, GroupCount{Key: key, Count: n})
	}
	SortGroupCounts(groups, "key", true)
	return groups, nil
}

// SortGroupCounts sorts groups in place by "key" or "count"
func SortGroupCounts(groups []GroupCount, sortBy string, ascending bool) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if sortBy == "count" && a.Count != b.Count {
			if ascending {
				return a.Count < b.Count
			}
			return a.Count > b.Count
		}
		if ascending || sortBy == "count" {
			return a.Key < b.Key
		}
		return a.Key > b.Key
	})
}

// TopGroups returns the n largest groups
func TopGroups(groups []GroupCount, n int) []GroupCount {
	top := make([]GroupCount, len(groups))
	copy(top, groups)
	SortGroupCounts(top, "count", false)
	if n < len(top) {
		top = top[:n]
	}
	return top
}
