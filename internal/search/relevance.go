package search

import (
	"cmp"
	"slices"
	"strings"

	"github.com/pitabwire/storefront/model"
)

// Relevance weights.
const (
	weightName        = 3
	weightDescription = 2
	weightCategory    = 1
	weightSubcategory = 2
)

// normalize lowercases and trims a query for substring matching.
func normalize(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// ScoreProduct returns the relevance of p for an already normalized query:
// 3 for a name match, 2 for a description match and 1 for a category match.
func ScoreProduct(p model.Product, q string) int {
	if q == "" {
		return 0
	}
	score := 0
	if strings.Contains(strings.ToLower(p.Name), q) {
		score += weightName
	}
	if strings.Contains(strings.ToLower(p.Description), q) {
		score += weightDescription
	}
	if strings.Contains(strings.ToLower(p.Category), q) {
		score += weightCategory
	}
	return score
}

// ScoreCategory returns the relevance of c for an already normalized query:
// 3 for a name match and 2 when any subcategory matches.
func ScoreCategory(c model.Category, q string) int {
	if q == "" {
		return 0
	}
	score := 0
	if strings.Contains(strings.ToLower(c.Name), q) {
		score += weightName
	}
	if slices.ContainsFunc(c.Subcategories, func(s string) bool {
		return strings.Contains(strings.ToLower(s), q)
	}) {
		score += weightSubcategory
	}
	return score
}

// RankProducts scores every product against query, drops non-matches and
// returns the rest ordered by score, highest first. Equal scores keep
// catalog order.
func RankProducts(products []model.Product, query string) []model.SearchResult {
	q := normalize(query)
	results := make([]model.SearchResult, 0)
	for _, p := range products {
		if score := ScoreProduct(p, q); score > 0 {
			results = append(results, model.SearchResult{Product: p, Score: score})
		}
	}
	slices.SortStableFunc(results, func(a, b model.SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return results
}

// CategoryResult is a scored category.
type CategoryResult struct {
	Category model.Category
	Score    int
}

// RankCategories scores categories the same way RankProducts scores
// products.
func RankCategories(categories []model.Category, query string) []CategoryResult {
	q := normalize(query)
	results := make([]CategoryResult, 0)
	for _, c := range categories {
		if score := ScoreCategory(c, q); score > 0 {
			results = append(results, CategoryResult{Category: c, Score: score})
		}
	}
	slices.SortStableFunc(results, func(a, b CategoryResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return results
}
