package listing

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/pitabwire/storefront/model"
)

func prices(ps []model.Product) []float64 {
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = p.Price
	}
	return out
}

func ids(ps []model.Product) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func fixture() []model.Product {
	return []model.Product{
		{ID: "1", Name: "Oxford Shirt", Price: 300, Category: "Men", Subcategory: "Shirts", Rating: 4.1, InStock: true},
		{ID: "2", Name: "Chinos", Price: 100, Category: "men", Subcategory: "Bottomwear", Rating: 4.8, InStock: true},
		{ID: "3", Name: "Steel Watch", Price: 500, Category: "Accessories", Subcategory: "For Him", SubSubcategories: []string{"Watches"}, Rating: 3.9},
		{ID: "4", Name: "Leather Belt", Price: 250, Category: "Accessories", Subcategory: "For Him", SubSubcategories: []string{"Belts"}, Rating: 4.4, InStock: true},
		{ID: "5", Name: "Gift Box", Price: 700, Category: "Accessories", Subcategory: "For Him", InStock: true},
	}
}

func TestSort_prices(t *testing.T) {
	in := []model.Product{{ID: "a", Price: 300}, {ID: "b", Price: 100}, {ID: "c", Price: 500}}

	tests := []struct {
		key  model.SortKey
		want []float64
	}{
		{model.SortPriceLow, []float64{100, 300, 500}},
		{model.SortPriceHigh, []float64{500, 300, 100}},
		{model.SortFeatured, []float64{300, 100, 500}},
		{model.SortKey("bogus"), []float64{300, 100, 500}},
	}
	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			got := prices(Sort(in, tt.key))
			if !slices.Equal(got, tt.want) {
				t.Errorf("Sort(%s) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
	if !slices.Equal(prices(in), []float64{300, 100, 500}) {
		t.Errorf("input mutated: %v", prices(in))
	}
}

func TestSort_rating_is_stable(t *testing.T) {
	in := []model.Product{
		{ID: "a", Rating: 4},
		{ID: "b", Rating: 5},
		{ID: "c", Rating: 4},
	}
	if got := ids(Sort(in, model.SortRating)); !slices.Equal(got, []string{"b", "a", "c"}) {
		t.Errorf("Sort(rating) = %v", got)
	}
}

func TestSort_newest(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	t.Run("ids", func(t *testing.T) {
		in := []model.Product{{ID: "2"}, {ID: "sku-x"}, {ID: "10"}, {ID: "sku-a"}, {ID: "7"}}
		want := []string{"10", "7", "2", "sku-x", "sku-a"}
		if got := ids(Sort(in, model.SortNewest)); !slices.Equal(got, want) {
			t.Errorf("Sort(newest) = %v, want %v", got, want)
		}
	})
	t.Run("created_at", func(t *testing.T) {
		in := []model.Product{{ID: "9", CreatedAt: &older}, {ID: "1", CreatedAt: &newer}}
		if got := ids(Sort(in, model.SortNewest)); !slices.Equal(got, []string{"1", "9"}) {
			t.Errorf("Sort(newest) = %v, want [1 9]", got)
		}
	})
	t.Run("mixed", func(t *testing.T) {
		y2020 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		y2021 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
		in := []model.Product{
			{ID: "1", CreatedAt: &y2021},
			{ID: "3", CreatedAt: &y2020},
			{ID: "2"},
			{ID: "12"},
			{ID: "sku-a"},
		}
		want := []string{"1", "3", "12", "2", "sku-a"}
		for _, perm := range permutations(in) {
			if got := ids(Sort(perm, model.SortNewest)); !slices.Equal(got, want) {
				t.Errorf("Sort(newest, %v) = %v, want %v", ids(perm), got, want)
			}
		}
	})
}

func permutations(ps []model.Product) [][]model.Product {
	if len(ps) <= 1 {
		return [][]model.Product{slices.Clone(ps)}
	}
	var out [][]model.Product
	for i := range ps {
		rest := slices.Concat(ps[:i:i], ps[i+1:])
		for _, tail := range permutations(rest) {
			out = append(out, append([]model.Product{ps[i]}, tail...))
		}
	}
	return out
}

func TestFilter_category_case_insensitive(t *testing.T) {
	got := ids(Filter(fixture(), Selection{Category: "Men"}))
	if !slices.Equal(got, []string{"1", "2"}) {
		t.Errorf("Filter(Men) = %v, want [1 2]", got)
	}
}

func TestFilter_subcategory_is_exact(t *testing.T) {
	got := Filter(fixture(), Selection{Category: "Men", Subcategory: "shirts"})
	if len(got) != 0 {
		t.Errorf("Filter(shirts) = %v, want none", ids(got))
	}
	got = Filter(fixture(), Selection{Category: "Men", Subcategory: "Shirts"})
	if !slices.Equal(ids(got), []string{"1"}) {
		t.Errorf("Filter(Shirts) = %v, want [1]", ids(got))
	}
}

func TestFilter_subsubcategory(t *testing.T) {
	sel := Selection{Category: "Accessories", Subcategory: "For Him", SubSubcategory: "Watches"}
	got := ids(Filter(fixture(), sel))
	if !slices.Equal(got, []string{"3", "5"}) {
		t.Errorf("Filter(Watches) = %v, want [3 5]", got)
	}
}

func TestFilter_in_stock_only(t *testing.T) {
	sel := Selection{Category: "Accessories", InStockOnly: true}
	if got := ids(Filter(fixture(), sel)); !slices.Equal(got, []string{"4", "5"}) {
		t.Errorf("Filter(in stock) = %v, want [4 5]", got)
	}
}

func TestApply_idempotent(t *testing.T) {
	products := fixture()
	sels := []Selection{
		{},
		{Category: "men"},
		{Category: "Accessories", Subcategory: "For Him"},
	}
	keys := []model.SortKey{model.SortFeatured, model.SortPriceLow, model.SortPriceHigh, model.SortRating, model.SortNewest}

	for _, sel := range sels {
		for _, key := range keys {
			a, _ := json.Marshal(Apply(products, sel, key))
			b, _ := json.Marshal(Apply(products, sel, key))
			if string(a) != string(b) {
				t.Errorf("Apply(%+v, %s) not idempotent", sel, key)
			}
		}
	}
}

func TestApply_empty(t *testing.T) {
	got := Apply(nil, Selection{Category: "Men"}, model.SortPriceLow)
	if got == nil || len(got) != 0 {
		t.Errorf("Apply(nil) = %#v, want empty non-nil slice", got)
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	tests := []struct {
		page, size int
		want       []int
	}{
		{1, 2, []int{1, 2}},
		{3, 2, []int{5}},
		{4, 2, []int{}},
		{0, 10, []int{1, 2, 3, 4, 5}},
		{1, 0, []int{}},
	}
	for _, tt := range tests {
		if got := Paginate(items, tt.page, tt.size); !slices.Equal(got, tt.want) {
			t.Errorf("Paginate(%d, %d) = %v, want %v", tt.page, tt.size, got, tt.want)
		}
	}
}
