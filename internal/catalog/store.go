package catalog

import (
	"context"
	"crypto/sha256"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/storefront/model"
)

// DefaultImage is used for taxonomy labels without a configured image.
const DefaultImage = "/placeholder.svg?height=48&width=48"

// snapshot is an immutable view of every loaded catalog file.
type snapshot struct {
	categories   map[string]model.Category
	ordered      []model.Category
	products     []model.Product
	productsByID map[string]model.Product
	images       map[string]string
	defaultImage string
	checksum     string
}

// Store is a read-optimized, thread-safe view of the category taxonomy and
// the product list. It uses an atomic pointer swap for lock-free reads; a
// reload replaces the whole snapshot.
type Store struct {
	snap atomic.Pointer[snapshot]
}

// NewStore creates a Store from the given definitions.
func NewStore(defs []model.CatalogDefinition) *Store {
	s := &Store{}
	s.Replace(defs)
	return s
}

// Replace atomically swaps the store contents with a new snapshot built from
// the given definitions. Later files override earlier ones on id collisions.
func (s *Store) Replace(defs []model.CatalogDefinition) {
	snap := &snapshot{
		categories:   make(map[string]model.Category),
		productsByID: make(map[string]model.Product),
		images:       make(map[string]string),
		defaultImage: DefaultImage,
	}

	position := make(map[string]int)
	var checksumParts []string
	for _, def := range defs {
		checksumParts = append(checksumParts, def.Checksum)

		for _, c := range def.Categories {
			snap.categories[c.ID] = toCategory(c)
		}
		for _, p := range def.Products {
			prod := toProduct(p)
			if i, dup := position[prod.ID]; dup {
				snap.products[i] = prod
			} else {
				position[prod.ID] = len(snap.products)
				snap.products = append(snap.products, prod)
			}
			snap.productsByID[prod.ID] = prod
		}
		maps.Copy(snap.images, def.Images.Labels)
		if def.Images.Default != "" {
			snap.defaultImage = def.Images.Default
		}
	}

	snap.ordered = make([]model.Category, 0, len(snap.categories))
	for _, c := range snap.categories {
		snap.ordered = append(snap.ordered, c)
	}
	sort.SliceStable(snap.ordered, func(i, j int) bool {
		if snap.ordered[i].Order != snap.ordered[j].Order {
			return snap.ordered[i].Order < snap.ordered[j].Order
		}
		return snap.ordered[i].ID < snap.ordered[j].ID
	})

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	snap.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	s.snap.Store(snap)
}

func (s *Store) current() *snapshot {
	return s.snap.Load()
}

// FindCategory returns the category with the given id.
func (s *Store) FindCategory(id string) (model.Category, bool) {
	c, ok := s.current().categories[id]
	return c, ok
}

// SubSubcategoriesOf returns the ordered children of subcategory within
// category, or an empty slice when it has none.
func (s *Store) SubSubcategoriesOf(category model.Category, subcategory string) []string {
	n, ok := category.Node(subcategory)
	if !ok {
		return []string{}
	}
	switch n := n.(type) {
	case model.Branch:
		return n.Children
	case model.Leaf:
		return []string{}
	default:
		panic(fmt.Sprintf("catalog: unknown taxonomy node %T", n))
	}
}

// Categories returns all categories in menu order.
func (s *Store) Categories() []model.Category {
	return slices.Clone(s.current().ordered)
}

// Products returns the product list in source order. Callers must not mutate
// the returned slice.
func (s *Store) Products() []model.Product {
	return s.current().products
}

// Product returns the product with the given id.
func (s *Store) Product(id string) (model.Product, bool) {
	p, ok := s.current().productsByID[id]
	return p, ok
}

// ImageFor returns the image reference for a taxonomy label.
func (s *Store) ImageFor(label string) string {
	snap := s.current()
	if img, ok := snap.images[label]; ok {
		return img
	}
	return snap.defaultImage
}

// Checksum returns the combined checksum of all loaded catalog files.
func (s *Store) Checksum() string {
	return s.current().checksum
}

// HealthCheck reports an error when no categories are loaded.
func (s *Store) HealthCheck(_ context.Context) error {
	if len(s.current().categories) == 0 {
		return fmt.Errorf("catalog: no categories loaded")
	}
	return nil
}

func toCategory(d model.CategoryDefinition) model.Category {
	c := model.Category{
		ID:            d.ID,
		Name:          d.Name,
		Icon:          d.Icon,
		Image:         d.Image,
		Order:         d.Order,
		Subcategories: slices.Clone(d.Subcategories),
	}
	if len(d.SubSubcategories) > 0 {
		c.SubSubcategories = make(map[string][]string, len(d.SubSubcategories))
		for k, v := range d.SubSubcategories {
			c.SubSubcategories[k] = slices.Clone(v)
		}
	}
	return c
}

func toProduct(d model.ProductDefinition) model.Product {
	inStock := true
	if d.InStock != nil {
		inStock = *d.InStock
	}
	return model.Product{
		ID:               d.ID,
		Name:             d.Name,
		Description:      d.Description,
		Price:            d.Price,
		Image:            d.Image,
		Category:         d.Category,
		Subcategory:      d.Subcategory,
		SubSubcategories: slices.Clone(d.SubSubcategories),
		InStock:          inStock,
		Rating:           d.Rating,
		Reviews:          d.Reviews,
		CreatedAt:        d.CreatedAt,
	}
}
