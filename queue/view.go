// Package queue produces the visible page of the human review queue:
// filter, priority sort, and pagination over a snapshot fetched from the
// backend. The view never mutates the snapshot it is given.
package queue

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/medmatrix/console/rules"
	"github.com/medmatrix/console/types"
)

// SortOrder selects the direction of the priority sort.
type SortOrder string

const (
	Desc SortOrder = "desc"
	Asc  SortOrder = "asc"
)

// ProductTypeAll disables the product-type filter.
const ProductTypeAll = "all"

// ErrInvalidPageSize is returned for a page size below 1.
var ErrInvalidPageSize = errors.New("page size must be at least 1")

// Filter narrows the snapshot before sorting. SearchTerm matches
// case-insensitively against product name, manufacturer, and raw info.
// Expr is an optional advanced predicate evaluated per item (see rules).
type Filter struct {
	ProductType string
	SearchTerm  string
	Expr        string
}

// Viewer applies filter, sort, and pagination. The evaluator is only
// needed when filters carry an Expr predicate.
type Viewer struct {
	eval rules.Evaluator
}

// NewViewer creates a Viewer. A nil evaluator disables Expr filters.
func NewViewer(eval rules.Evaluator) *Viewer {
	return &Viewer{eval: eval}
}

// View returns the visible page and the total page count. Out-of-range
// pages clamp to the nearest valid page instead of returning an empty
// slice. The priority sort is stable: items with equal scores keep their
// input order.
func (v *Viewer) View(items []types.ReviewItem, f Filter, order SortOrder, page, pageSize int) ([]types.ReviewItem, int, error) {
	if pageSize < 1 {
		return nil, 0, ErrInvalidPageSize
	}

	filtered := make([]types.ReviewItem, 0, len(items))
	for _, item := range items {
		keep, err := v.matches(item, f)
		if err != nil {
			return nil, 0, err
		}
		if keep {
			filtered = append(filtered, item)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if order == Asc {
			return filtered[i].PriorityScore < filtered[j].PriorityScore
		}
		return filtered[i].PriorityScore > filtered[j].PriorityScore
	})

	totalPages := (len(filtered) + pageSize - 1) / pageSize
	if totalPages == 0 {
		return nil, 0, nil
	}

	// Clamp rather than fail: requesting past the end lands on the last
	// valid page.
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], totalPages, nil
}

func (v *Viewer) matches(item types.ReviewItem, f Filter) (bool, error) {
	if f.ProductType != "" && f.ProductType != ProductTypeAll && item.ProductType != f.ProductType {
		return false, nil
	}

	if f.SearchTerm != "" {
		term := strings.ToLower(f.SearchTerm)
		if !strings.Contains(strings.ToLower(item.ProductName()), term) &&
			!strings.Contains(strings.ToLower(item.Manufacturer()), term) &&
			!strings.Contains(strings.ToLower(item.RawInfo), term) {
			return false, nil
		}
	}

	if f.Expr != "" {
		if v.eval == nil {
			return false, fmt.Errorf("filter expression %q requires an evaluator", f.Expr)
		}
		ok, err := v.eval.Evaluate(f.Expr, rules.ItemContext(item))
		if err != nil {
			return false, fmt.Errorf("evaluate filter expression: %w", err)
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}
