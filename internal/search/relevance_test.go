package search

import (
	"testing"

	"github.com/pitabwire/storefront/model"
)

func TestScoreProduct(t *testing.T) {
	tests := []struct {
		name    string
		product model.Product
		want    int
	}{
		{"name only", model.Product{Name: "Cotton Shirt", Category: "Men"}, 3},
		{"description only", model.Product{Name: "Polo", Description: "A classic shirt cut", Category: "Men"}, 2},
		{"name and category", model.Product{Name: "Shirt Dress", Category: "Shirts"}, 4},
		{"everything", model.Product{Name: "Shirt", Description: "shirt", Category: "shirts"}, 6},
		{"no match", model.Product{Name: "Jeans", Description: "Denim", Category: "Men"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreProduct(tt.product, "shirt"); got != tt.want {
				t.Errorf("ScoreProduct() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreProduct_blank_query(t *testing.T) {
	if got := ScoreProduct(model.Product{Name: "Shirt"}, ""); got != 0 {
		t.Errorf("ScoreProduct(blank) = %d, want 0", got)
	}
}

func TestRankProducts(t *testing.T) {
	products := []model.Product{
		{ID: "1", Name: "Denim Jacket", Description: "Pairs with any shirt", Category: "Men"},
		{ID: "2", Name: "Jeans", Category: "Men"},
		{ID: "3", Name: "Cotton Shirt", Category: "Men"},
		{ID: "4", Name: "Linen Shirt", Category: "Men"},
	}
	got := RankProducts(products, "  SHIRT ")
	if len(got) != 3 {
		t.Fatalf("RankProducts() = %d results, want 3", len(got))
	}
	wantIDs := []string{"3", "4", "1"}
	for i, id := range wantIDs {
		if got[i].Product.ID != id {
			t.Errorf("result[%d] = %s, want %s", i, got[i].Product.ID, id)
		}
	}
	for _, r := range got {
		if r.Product.ID == "2" {
			t.Error("non-matching product in results")
		}
	}
}

func TestScoreCategory(t *testing.T) {
	cat := model.Category{Name: "Men", Subcategories: []string{"Shirts", "Footwear"}}
	if got := ScoreCategory(cat, "shirt"); got != 2 {
		t.Errorf("ScoreCategory(shirt) = %d, want 2", got)
	}
	if got := ScoreCategory(cat, "men"); got != 3 {
		t.Errorf("ScoreCategory(men) = %d, want 3", got)
	}
	if got := ScoreCategory(cat, "bag"); got != 0 {
		t.Errorf("ScoreCategory(bag) = %d, want 0", got)
	}
}
