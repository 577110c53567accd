// Package search scores catalog products and categories against free-text
// queries, serves paginated search results and search-bar suggestions, and
// keeps per-user recent searches.
package search

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/storefront/internal/listing"
	"github.com/pitabwire/storefront/model"
)

// Suggestion filters accepted by Suggest.
const (
	FilterAll        = "all"
	FilterProducts   = "products"
	FilterCategories = "categories"
)

// Catalog is the read side of the catalog that search runs over.
type Catalog interface {
	Products() []model.Product
	Categories() []model.Category
}

// Options tunes a Provider. Zero values take defaults.
type Options struct {
	MinQueryLength  int
	DefaultPageSize int
	MaxPageSize     int
	SuggestionLimit int
	Trending        []string
}

// Query is a full search request.
type Query struct {
	Text     string
	Sort     model.SortKey
	Price    model.PriceRange
	Page     int
	PageSize int
}

// Provider answers search and suggestion requests over a Catalog.
type Provider struct {
	catalog Catalog
	cache   *SuggestionCache
	opts    Options
}

// NewProvider creates a new Provider. cache may be nil.
func NewProvider(catalog Catalog, cache *SuggestionCache, opts Options) *Provider {
	if opts.MinQueryLength <= 0 {
		opts.MinQueryLength = 1
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 20
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 50
	}
	if opts.SuggestionLimit <= 0 {
		opts.SuggestionLimit = 8
	}
	return &Provider{catalog: catalog, cache: cache, opts: opts}
}

// Search returns the matching products of q ordered by relevance, or by
// q.Sort when an explicit non-featured sort is requested. The price range
// is applied before ordering.
func (sp *Provider) Search(_ context.Context, q Query) (model.SearchResponse, error) {
	// 1. Validate query.
	text := strings.TrimSpace(q.Text)
	if len([]rune(text)) < sp.opts.MinQueryLength {
		return model.SearchResponse{}, model.NewBadRequestError(
			fmt.Sprintf("Search query must be at least %d character(s)", sp.opts.MinQueryLength),
		)
	}

	// 2. Normalize pagination.
	if q.PageSize <= 0 {
		q.PageSize = sp.opts.DefaultPageSize
	}
	if q.PageSize > sp.opts.MaxPageSize {
		q.PageSize = sp.opts.MaxPageSize
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Price == "" {
		q.Price = model.PriceAll
	}
	if q.Sort == "" {
		q.Sort = model.SortRelevance
	}

	startTime := time.Now()

	// 3. Score, then apply the price predicate.
	ranked := RankProducts(sp.catalog.Products(), text)
	ranked = slices.DeleteFunc(ranked, func(r model.SearchResult) bool {
		return !q.Price.Contains(r.Product.Price)
	})

	// 4. An explicit sort replaces relevance order.
	if cmpFn := listing.Comparator(q.Sort); cmpFn != nil {
		slices.SortStableFunc(ranked, func(a, b model.SearchResult) int {
			return cmpFn(a.Product, b.Product)
		})
	}

	totalCount := len(ranked)

	// 5. Apply pagination.
	page := listing.Paginate(ranked, q.Page, q.PageSize)

	return model.SearchResponse{
		Data: model.SearchPayload{
			Results:    page,
			TotalCount: totalCount,
			Query:      text,
			Page:       q.Page,
			PageSize:   q.PageSize,
		},
		Meta: map[string]any{
			"sort":          string(q.Sort),
			"price_range":   string(q.Price),
			"query_time_ms": time.Since(startTime).Milliseconds(),
		},
	}, nil
}

// Suggest returns the search-bar suggestions for query: products and
// categories scored together, filtered by typ and cut to the suggestion
// limit. A blank query has no suggestions.
func (sp *Provider) Suggest(ctx context.Context, query, typ string) (model.SuggestionResponse, error) {
	typ = normalizeFilter(typ)
	q := normalize(query)
	resp := model.SuggestionResponse{Query: query, Suggestions: []model.Suggestion{}}
	if q == "" {
		return resp, nil
	}

	if sp.cache != nil {
		if cached, hit := sp.cache.Get(typ, q); hit {
			resp.Suggestions = cached
			return resp, nil
		}
	}

	var products, categories []model.Suggestion
	g, gctx := errgroup.WithContext(ctx)
	if typ != FilterCategories {
		g.Go(func() error {
			products = productSuggestions(sp.catalog.Products(), q)
			return gctx.Err()
		})
	}
	if typ != FilterProducts {
		g.Go(func() error {
			categories = categorySuggestions(sp.catalog.Categories(), q)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return model.SuggestionResponse{}, err
	}

	merged := append(products, categories...)
	slices.SortStableFunc(merged, func(a, b model.Suggestion) int {
		return b.Score - a.Score
	})
	if len(merged) > sp.opts.SuggestionLimit {
		merged = merged[:sp.opts.SuggestionLimit]
	}
	if merged == nil {
		merged = []model.Suggestion{}
	}

	if sp.cache != nil {
		sp.cache.Put(typ, q, merged)
	}
	resp.Suggestions = merged
	return resp, nil
}

// Trending returns the configured trending searches.
func (sp *Provider) Trending() []string {
	return slices.Clone(sp.opts.Trending)
}

func productSuggestions(products []model.Product, q string) []model.Suggestion {
	var out []model.Suggestion
	for _, p := range products {
		if score := ScoreProduct(p, q); score > 0 {
			out = append(out, model.Suggestion{Type: model.SuggestionProduct, Score: score, Product: &p})
		}
	}
	return out
}

func categorySuggestions(categories []model.Category, q string) []model.Suggestion {
	var out []model.Suggestion
	for _, c := range categories {
		if score := ScoreCategory(c, q); score > 0 {
			out = append(out, model.Suggestion{Type: model.SuggestionCategory, Score: score, Category: &c})
		}
	}
	return out
}

func normalizeFilter(typ string) string {
	switch t := strings.ToLower(strings.TrimSpace(typ)); t {
	case FilterProducts, FilterCategories:
		return t
	default:
		return FilterAll
	}
}
