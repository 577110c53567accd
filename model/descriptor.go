package model

// MenuTree is the top-level category menu returned to the frontend.
type MenuTree struct {
	Items []MenuNode `json:"items"`
}

// MenuNode is a single node in the category menu.
type MenuNode struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Icon        string     `json:"icon,omitempty"`
	Image       string     `json:"image,omitempty"`
	Route       string     `json:"route,omitempty"`
	HasChildren bool       `json:"has_children"`
	Children    []MenuNode `json:"children"`
}

// CategoryDescriptor is a resolved category with its selectable subcategories.
type CategoryDescriptor struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Icon  string           `json:"icon,omitempty"`
	Image string           `json:"image,omitempty"`
	Items []ItemDescriptor `json:"items"`
}

// ItemDescriptor is one selectable label at a navigation level.
type ItemDescriptor struct {
	Label       string `json:"label"`
	Image       string `json:"image"`
	HasChildren bool   `json:"has_children"`
	Selected    bool   `json:"selected"`
}

// LevelDescriptor describes the active navigation level.
type LevelDescriptor struct {
	Kind   string `json:"kind"`
	Parent string `json:"parent,omitempty"`
	Title  string `json:"title"`
}

// NavigationView is everything the frontend needs to render a category page.
type NavigationView struct {
	SessionID              string           `json:"session_id"`
	Version                int              `json:"version"`
	Category               CategoryRef      `json:"category"`
	Level                  LevelDescriptor  `json:"level"`
	Breadcrumb             []string         `json:"breadcrumb"`
	Items                  []ItemDescriptor `json:"items"`
	SelectedSubcategory    string           `json:"selected_subcategory,omitempty"`
	SelectedSubSubcategory string           `json:"selected_subsubcategory,omitempty"`
	Sort                   SortKey          `json:"sort"`
	CanGoBack              bool             `json:"can_go_back"`
	Products               []Product        `json:"products"`
	TotalCount             int              `json:"total_count"`
}

// CategoryRef identifies a category in a view.
type CategoryRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// DataResponse is the standardized data response for list endpoints.
type DataResponse struct {
	Data DataPayload    `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

// DataPayload contains the items and pagination for a data response.
type DataPayload struct {
	Items      []Product `json:"items"`
	TotalCount int       `json:"total_count"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
}

// SearchResponse is the response from a product search query.
type SearchResponse struct {
	Data SearchPayload  `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

// SearchPayload contains the search results.
type SearchPayload struct {
	Results    []SearchResult `json:"results"`
	TotalCount int            `json:"total_count"`
	Query      string         `json:"query"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

// SearchResult is a single scored product.
type SearchResult struct {
	Product Product `json:"product"`
	Score   int     `json:"score"`
}

// Suggestion types.
const (
	SuggestionProduct  = "product"
	SuggestionCategory = "category"
)

// Suggestion is a search-bar result, either a product or a category.
type Suggestion struct {
	Type     string    `json:"type"`
	Score    int       `json:"score"`
	Product  *Product  `json:"product,omitempty"`
	Category *Category `json:"category,omitempty"`
}

// SuggestionResponse is returned by the search-bar endpoint and the live
// search channel.
type SuggestionResponse struct {
	Query       string       `json:"query"`
	Generation  uint64       `json:"generation,omitempty"`
	Suggestions []Suggestion `json:"suggestions"`
}
