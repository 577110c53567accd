package model

import "time"

// CatalogDefinition is the root structure of a catalog definition file. Each
// file declares a set of categories, the products listed under them, and the
// image references used for taxonomy labels.
type CatalogDefinition struct {
	Catalog    string               `yaml:"catalog"    json:"catalog"`
	Version    string               `yaml:"version"    json:"version"`
	Categories []CategoryDefinition `yaml:"categories" json:"categories"`
	Products   []ProductDefinition  `yaml:"products"   json:"products,omitempty"`
	Images     ImageDefinition      `yaml:"images"     json:"images,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// CategoryDefinition describes one top-level category and its subcategory tree.
// A subcategory with no entry in SubSubcategories (or an empty entry) is a leaf.
type CategoryDefinition struct {
	ID               string              `yaml:"id"               json:"id"`
	Name             string              `yaml:"name"             json:"name"`
	Icon             string              `yaml:"icon"             json:"icon,omitempty"`
	Image            string              `yaml:"image"            json:"image,omitempty"`
	Order            int                 `yaml:"order"            json:"order"`
	Subcategories    []string            `yaml:"subcategories"    json:"subcategories"`
	SubSubcategories map[string][]string `yaml:"subsubcategories" json:"subsubcategories,omitempty"`
}

// ProductDefinition describes a product in the static catalog.
type ProductDefinition struct {
	ID               string     `yaml:"id"               json:"id"`
	Name             string     `yaml:"name"             json:"name"`
	Description      string     `yaml:"description"      json:"description"`
	Price            float64    `yaml:"price"            json:"price"`
	Image            string     `yaml:"image"            json:"image"`
	Category         string     `yaml:"category"         json:"category"`
	Subcategory      string     `yaml:"subcategory"      json:"subcategory"`
	SubSubcategories []string   `yaml:"subsubcategories" json:"subsubcategories,omitempty"`
	InStock          *bool      `yaml:"in_stock"         json:"in_stock,omitempty"`
	Rating           float64    `yaml:"rating"           json:"rating"`
	Reviews          int        `yaml:"reviews"          json:"reviews"`
	CreatedAt        *time.Time `yaml:"created_at"       json:"created_at,omitempty"`
}

// ImageDefinition maps taxonomy labels to image references.
type ImageDefinition struct {
	Default string            `yaml:"default" json:"default"`
	Labels  map[string]string `yaml:"labels"  json:"labels"`
}
