package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/storefront/internal/catalog"
	"github.com/pitabwire/storefront/internal/listing"
	"github.com/pitabwire/storefront/model"
)

func handleMenu(menu *catalog.MenuProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, menu.GetMenu())
	}
}

func handleCategory(store *catalog.Store, menu *catalog.MenuProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		c, ok := store.FindCategory(id)
		if !ok {
			WriteNotFound(w, "Category "+strconv.Quote(id)+" not found")
			return
		}
		WriteJSON(w, http.StatusOK, menu.Describe(c))
	}
}

// handleCategoryProducts lists a category's products without a navigation
// session. Supports sort, subcategory, in_stock, page and page_size.
func handleCategoryProducts(store *catalog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		c, ok := store.FindCategory(id)
		if !ok {
			WriteNotFound(w, "Category "+strconv.Quote(id)+" not found")
			return
		}

		q := r.URL.Query()
		inStock, _ := strconv.ParseBool(q.Get("in_stock"))
		products := listing.Apply(store.Products(), listing.Selection{
			Category:       c.Name,
			Subcategory:    q.Get("subcategory"),
			SubSubcategory: q.Get("subsubcategory"),
			InStockOnly:    inStock,
		}, model.ParseSortKey(q.Get("sort")))

		page := max(queryInt(r, "page", 1), 1)
		pageSize := queryInt(r, "page_size", 20)
		if pageSize < 1 || pageSize > 100 {
			pageSize = 20
		}
		WriteJSON(w, http.StatusOK, model.DataResponse{
			Data: model.DataPayload{
				Items:      listing.Paginate(products, page, pageSize),
				TotalCount: len(products),
				Page:       page,
				PageSize:   pageSize,
			},
		})
	}
}

func handleProduct(store *catalog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		p, ok := store.Product(id)
		if !ok {
			WriteNotFound(w, "Product "+strconv.Quote(id)+" not found")
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}
