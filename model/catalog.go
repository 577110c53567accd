package model

import (
	"slices"
	"strings"
	"time"
)

// Category is an immutable top-level node of the taxonomy.
type Category struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Icon             string              `json:"icon,omitempty"`
	Image            string              `json:"image,omitempty"`
	Order            int                 `json:"order"`
	Subcategories    []string            `json:"subcategories"`
	SubSubcategories map[string][]string `json:"subsubcategories,omitempty"`
}

// TaxonomyNode is a subcategory of a Category. It is either a Leaf or a Branch.
type TaxonomyNode interface {
	Label() string
	taxonomyNode()
}

// Leaf is a subcategory without children. Selecting it filters products
// without changing navigation depth.
type Leaf struct {
	Name string
}

// Branch is a subcategory with a non-empty, ordered list of children.
type Branch struct {
	Name     string
	Children []string
}

func (l Leaf) Label() string   { return l.Name }
func (b Branch) Label() string { return b.Name }
func (Leaf) taxonomyNode()     {}
func (Branch) taxonomyNode()   {}

// HasSubcategory reports whether name is one of the category's subcategories.
func (c Category) HasSubcategory(name string) bool {
	return slices.Contains(c.Subcategories, name)
}

// Node returns the taxonomy node for the named subcategory. The leaf or
// branch decision is made from the current children list on every call.
func (c Category) Node(name string) (TaxonomyNode, bool) {
	if !c.HasSubcategory(name) {
		return nil, false
	}
	children := c.SubSubcategories[name]
	if len(children) == 0 {
		return Leaf{Name: name}, true
	}
	return Branch{Name: name, Children: slices.Clone(children)}, true
}

// Nodes returns all subcategory nodes in taxonomy order.
func (c Category) Nodes() []TaxonomyNode {
	nodes := make([]TaxonomyNode, 0, len(c.Subcategories))
	for _, name := range c.Subcategories {
		n, _ := c.Node(name)
		nodes = append(nodes, n)
	}
	return nodes
}

// Product is a catalog item.
type Product struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Price            float64    `json:"price"`
	Image            string     `json:"image"`
	Category         string     `json:"category"`
	Subcategory      string     `json:"subcategory"`
	SubSubcategories []string   `json:"subsubcategories,omitempty"`
	InStock          bool       `json:"in_stock"`
	Rating           float64    `json:"rating"`
	Reviews          int        `json:"reviews"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
}

// SortKey selects the ordering applied to a product listing.
type SortKey string

// Sort keys.
const (
	SortFeatured  SortKey = "featured"
	SortPriceLow  SortKey = "price-low"
	SortPriceHigh SortKey = "price-high"
	SortRating    SortKey = "rating"
	SortNewest    SortKey = "newest"
	SortRelevance SortKey = "relevance"
)

// ParseSortKey maps a client supplied value to a SortKey. Unknown values
// fall back to SortFeatured.
func ParseSortKey(s string) SortKey {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case SortFeatured, SortPriceLow, SortPriceHigh, SortRating, SortNewest, SortRelevance:
		return k
	default:
		return SortFeatured
	}
}

// PriceRange is a named price predicate.
type PriceRange string

// Price ranges offered on search results.
const (
	PriceAll      PriceRange = "all"
	PriceUnder500 PriceRange = "under-500"
	Price500To1K  PriceRange = "500-1000"
	PriceOver1K   PriceRange = "over-1000"
)

// ParsePriceRange maps a client supplied value to a PriceRange. Unknown
// values fall back to PriceAll.
func ParsePriceRange(s string) PriceRange {
	switch r := PriceRange(strings.ToLower(strings.TrimSpace(s))); r {
	case PriceUnder500, Price500To1K, PriceOver1K:
		return r
	default:
		return PriceAll
	}
}

// Contains reports whether price falls inside the range.
func (r PriceRange) Contains(price float64) bool {
	switch r {
	case PriceUnder500:
		return price < 500
	case Price500To1K:
		return price >= 500 && price <= 1000
	case PriceOver1K:
		return price > 1000
	default:
		return true
	}
}
