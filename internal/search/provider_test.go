package search

import (
	"context"
	"testing"
	"time"

	"github.com/pitabwire/storefront/model"
)

type stubCatalog struct {
	products   []model.Product
	categories []model.Category
}

func (s stubCatalog) Products() []model.Product     { return s.products }
func (s stubCatalog) Categories() []model.Category { return s.categories }

func testCatalog() stubCatalog {
	return stubCatalog{
		products: []model.Product{
			{ID: "1", Name: "Cotton Shirt", Description: "Breathable", Price: 899, Category: "Men", Rating: 4.2},
			{ID: "2", Name: "Jeans", Description: "Goes with any shirt", Price: 1499, Category: "Men", Rating: 4.7},
			{ID: "3", Name: "Graphic Tee", Description: "Soft jersey", Price: 299, Category: "Men", Rating: 3.9},
			{ID: "4", Name: "Shirt Dress", Description: "Midi", Price: 450, Category: "Women", Rating: 4.9},
		},
		categories: []model.Category{
			{ID: "1", Name: "Men", Subcategories: []string{"Shirts", "Topwear"}},
			{ID: "2", Name: "Women", Subcategories: []string{"Dresses"}},
		},
	}
}

func resultIDs(r model.SearchResponse) []string {
	out := make([]string, 0, len(r.Data.Results))
	for _, res := range r.Data.Results {
		out = append(out, res.Product.ID)
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestProvider_Search_relevance(t *testing.T) {
	p := NewProvider(testCatalog(), nil, Options{})

	resp, err := p.Search(context.Background(), Query{Text: "shirt"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := resultIDs(resp); !equalIDs(got, []string{"1", "4", "2"}) {
		t.Errorf("results = %v, want [1 4 2]", got)
	}
	if resp.Data.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want 3", resp.Data.TotalCount)
	}
	if resp.Data.PageSize != 20 || resp.Data.Page != 1 {
		t.Errorf("page/page_size = %d/%d, want 1/20", resp.Data.Page, resp.Data.PageSize)
	}
	if _, ok := resp.Meta["query_time_ms"]; !ok {
		t.Error("meta.query_time_ms missing")
	}
}

func TestProvider_Search_explicit_sort(t *testing.T) {
	p := NewProvider(testCatalog(), nil, Options{})

	resp, err := p.Search(context.Background(), Query{Text: "shirt", Sort: model.SortPriceLow})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := resultIDs(resp); !equalIDs(got, []string{"4", "1", "2"}) {
		t.Errorf("results = %v, want [4 1 2]", got)
	}
}

func TestProvider_Search_price_range(t *testing.T) {
	p := NewProvider(testCatalog(), nil, Options{})

	tests := []struct {
		price model.PriceRange
		want  []string
	}{
		{model.PriceUnder500, []string{"4"}},
		{model.Price500To1K, []string{"1"}},
		{model.PriceOver1K, []string{"2"}},
		{model.PriceAll, []string{"1", "4", "2"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.price), func(t *testing.T) {
			resp, err := p.Search(context.Background(), Query{Text: "shirt", Price: tt.price})
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if got := resultIDs(resp); !equalIDs(got, tt.want) {
				t.Errorf("results = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProvider_Search_pagination(t *testing.T) {
	p := NewProvider(testCatalog(), nil, Options{})

	resp, err := p.Search(context.Background(), Query{Text: "shirt", Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := resultIDs(resp); !equalIDs(got, []string{"2"}) {
		t.Errorf("page 2 = %v, want [2]", got)
	}
	if resp.Data.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want 3", resp.Data.TotalCount)
	}

	resp, _ = p.Search(context.Background(), Query{Text: "shirt", PageSize: 500})
	if resp.Data.PageSize != 50 {
		t.Errorf("PageSize = %d, want clamp to 50", resp.Data.PageSize)
	}
}

func TestProvider_Search_blank_query(t *testing.T) {
	p := NewProvider(testCatalog(), nil, Options{})

	_, err := p.Search(context.Background(), Query{Text: "   "})
	if err == nil {
		t.Fatal("Search(blank) error = nil, want BAD_REQUEST")
	}
	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok || envErr.Code != model.ErrBadRequest {
		t.Errorf("error = %v, want BAD_REQUEST envelope", err)
	}
}

func TestProvider_Suggest(t *testing.T) {
	p := NewProvider(testCatalog(), nil, Options{})

	resp, err := p.Suggest(context.Background(), "shirt", "")
	if err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	// products 1 and 4 score 3, category Men scores 2, product 2 scores 2.
	if len(resp.Suggestions) != 4 {
		t.Fatalf("Suggestions = %d, want 4", len(resp.Suggestions))
	}
	first := resp.Suggestions[0]
	if first.Type != model.SuggestionProduct || first.Product.ID != "1" {
		t.Errorf("first suggestion = %+v, want product 1", first)
	}
	last := resp.Suggestions[3]
	if last.Type != model.SuggestionCategory || last.Category.Name != "Men" {
		t.Errorf("last suggestion = %+v, want category Men", last)
	}
}

func TestProvider_Suggest_filters(t *testing.T) {
	p := NewProvider(testCatalog(), nil, Options{})

	resp, _ := p.Suggest(context.Background(), "shirt", FilterCategories)
	if len(resp.Suggestions) != 1 || resp.Suggestions[0].Type != model.SuggestionCategory {
		t.Errorf("categories filter = %+v", resp.Suggestions)
	}

	resp, _ = p.Suggest(context.Background(), "shirt", FilterProducts)
	for _, s := range resp.Suggestions {
		if s.Type != model.SuggestionProduct {
			t.Errorf("products filter returned %s", s.Type)
		}
	}
}

func TestProvider_Suggest_limit(t *testing.T) {
	cat := testCatalog()
	for i := 0; i < 20; i++ {
		cat.products = append(cat.products, model.Product{ID: "x", Name: "Shirt"})
	}
	p := NewProvider(cat, nil, Options{})

	resp, _ := p.Suggest(context.Background(), "shirt", FilterAll)
	if len(resp.Suggestions) != 8 {
		t.Errorf("Suggestions = %d, want 8", len(resp.Suggestions))
	}
}

func TestProvider_Suggest_blank(t *testing.T) {
	p := NewProvider(testCatalog(), nil, Options{})

	resp, err := p.Suggest(context.Background(), "  ", FilterAll)
	if err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	if resp.Suggestions == nil || len(resp.Suggestions) != 0 {
		t.Errorf("Suggestions = %#v, want empty", resp.Suggestions)
	}
}

func TestProvider_Suggest_cached(t *testing.T) {
	cache := NewSuggestionCache(time.Minute, 10)
	p := NewProvider(testCatalog(), cache, Options{})

	_, _ = p.Suggest(context.Background(), "Shirt", FilterAll)
	if cache.Len() != 1 {
		t.Fatalf("cache Len() = %d, want 1", cache.Len())
	}
	if _, hit := cache.Get(FilterAll, "shirt"); !hit {
		t.Error("cache keyed on the raw query, want normalized")
	}
}

func TestProvider_Trending(t *testing.T) {
	p := NewProvider(testCatalog(), nil, Options{Trending: []string{"Jeans", "Sneakers"}})
	got := p.Trending()
	if !equalIDs(got, []string{"Jeans", "Sneakers"}) {
		t.Errorf("Trending() = %v", got)
	}
	got[0] = "mutated"
	if p.Trending()[0] != "Jeans" {
		t.Error("Trending() returned shared slice")
	}
}
