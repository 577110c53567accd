package search

import (
	"testing"
	"time"

	"github.com/pitabwire/storefront/model"
)

func TestSuggestionCache_PutGet(t *testing.T) {
	c := NewSuggestionCache(time.Minute, 10)
	want := []model.Suggestion{{Type: model.SuggestionProduct, Score: 3}}

	if _, hit := c.Get("all", "shirt"); hit {
		t.Fatal("Get() on empty cache hit")
	}
	c.Put("all", "shirt", want)

	got, hit := c.Get("all", "shirt")
	if !hit || len(got) != 1 {
		t.Fatalf("Get() = %v, %v", got, hit)
	}
	if _, hit := c.Get("products", "shirt"); hit {
		t.Error("Get() with a different type hit")
	}
}

func TestSuggestionCache_expiry(t *testing.T) {
	c := NewSuggestionCache(time.Millisecond, 10)
	c.Put("all", "shirt", nil)
	time.Sleep(5 * time.Millisecond)
	if _, hit := c.Get("all", "shirt"); hit {
		t.Error("Get() after TTL hit")
	}
}

func TestSuggestionCache_capacity(t *testing.T) {
	c := NewSuggestionCache(time.Minute, 2)
	c.Put("all", "a", nil)
	c.Put("all", "b", nil)
	c.Put("all", "c", nil)
	if c.Len() > 2 {
		t.Errorf("Len() = %d, want <= 2", c.Len())
	}
	if _, hit := c.Get("all", "c"); !hit {
		t.Error("latest entry missing")
	}
}

func TestSuggestionCache_Invalidate(t *testing.T) {
	c := NewSuggestionCache(time.Minute, 10)
	c.Put("all", "a", nil)
	c.Put("all", "b", nil)
	c.Invalidate()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Invalidate, want 0", c.Len())
	}
}
