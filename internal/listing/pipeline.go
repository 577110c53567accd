// Package listing derives the visible product list of a category view from
// the current selection and sort key. Every function is pure: inputs are
// never mutated and equal inputs always produce equal outputs.
package listing

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/pitabwire/storefront/model"
)

// Selection is the filter half of a listing request. Empty fields do not
// filter.
type Selection struct {
	Category       string
	Subcategory    string
	SubSubcategory string
	InStockOnly    bool
}

// Apply filters then sorts products.
func Apply(products []model.Product, sel Selection, key model.SortKey) []model.Product {
	return Sort(Filter(products, sel), key)
}

// Filter returns the products matching sel in input order. The category
// matches case-insensitively, the subcategory exactly. When a
// sub-subcategory is selected, products that carry sub-subcategory labels
// must contain it; unlabelled products of the subcategory are kept.
func Filter(products []model.Product, sel Selection) []model.Product {
	out := make([]model.Product, 0, len(products))
	for _, p := range products {
		if Matches(p, sel) {
			out = append(out, p)
		}
	}
	return out
}

// Matches reports whether a single product passes sel.
func Matches(p model.Product, sel Selection) bool {
	if sel.Category != "" && !strings.EqualFold(p.Category, sel.Category) {
		return false
	}
	if sel.Subcategory != "" && p.Subcategory != sel.Subcategory {
		return false
	}
	if sel.SubSubcategory != "" && len(p.SubSubcategories) > 0 &&
		!slices.Contains(p.SubSubcategories, sel.SubSubcategory) {
		return false
	}
	if sel.InStockOnly && !p.InStock {
		return false
	}
	return true
}

// Sort returns a stably sorted copy of products. SortFeatured, SortRelevance
// and unknown keys keep the input order.
func Sort(products []model.Product, key model.SortKey) []model.Product {
	out := slices.Clone(products)
	if out == nil {
		out = []model.Product{}
	}
	if cmpFn := Comparator(key); cmpFn != nil {
		slices.SortStableFunc(out, cmpFn)
	}
	return out
}

// Comparator returns the ordering for key, or nil when key keeps the input
// order.
func Comparator(key model.SortKey) func(a, b model.Product) int {
	switch key {
	case model.SortPriceLow:
		return func(a, b model.Product) int { return cmp.Compare(a.Price, b.Price) }
	case model.SortPriceHigh:
		return func(a, b model.Product) int { return cmp.Compare(b.Price, a.Price) }
	case model.SortRating:
		return func(a, b model.Product) int { return cmp.Compare(b.Rating, a.Rating) }
	case model.SortNewest:
		return compareNewest
	default:
		return nil
	}
}

// compareNewest puts products with a CreatedAt first, newest first. The rest
// follow by id read as a base-10 integer, larger first, and ids that do not
// parse go last in input order.
func compareNewest(a, b model.Product) int {
	switch {
	case a.CreatedAt != nil && b.CreatedAt != nil:
		if c := b.CreatedAt.Compare(*a.CreatedAt); c != 0 {
			return c
		}
	case a.CreatedAt != nil:
		return -1
	case b.CreatedAt != nil:
		return 1
	}
	return compareIDs(a.ID, b.ID)
}

func compareIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		return cmp.Compare(bi, ai)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	default:
		return 0
	}
}

// Paginate returns the 1-based page of items. Pages past the end are empty.
func Paginate[T any](items []T, page, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return []T{}
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}
