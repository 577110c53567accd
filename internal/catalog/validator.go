package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pitabwire/storefront/model"
)

// VError describes a single validation error in a catalog definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks catalog definitions structurally and referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions together, so product references may point
// at categories declared in another file.
func (v *Validator) Validate(defs []model.CatalogDefinition) []VError {
	var errs []VError

	categoriesByName := make(map[string]model.CategoryDefinition)
	categoryIDs := make(map[string]string)
	productIDs := make(map[string]string)

	for i, def := range defs {
		prefix := fmt.Sprintf("catalogs[%d]", i)
		if def.Catalog == "" {
			errs = append(errs, VError{Path: prefix + ".catalog", Code: "REQUIRED", Message: "catalog is required"})
		}
		if def.Version == "" {
			errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
		}

		for j, c := range def.Categories {
			cp := fmt.Sprintf("%s.categories[%d]", prefix, j)
			errs = append(errs, v.validateCategory(cp, c)...)
			if prev, dup := categoryIDs[c.ID]; dup && c.ID != "" {
				errs = append(errs, VError{
					Path:    cp + ".id",
					Code:    "DUPLICATE_ID",
					Message: fmt.Sprintf("category id %q already declared in %s", c.ID, prev),
				})
			}
			categoryIDs[c.ID] = def.SourceFile
			categoriesByName[strings.ToLower(c.Name)] = c
		}
	}

	for i, def := range defs {
		for j, p := range def.Products {
			pp := fmt.Sprintf("catalogs[%d].products[%d]", i, j)
			errs = append(errs, v.validateProduct(pp, p, categoriesByName)...)
			if prev, dup := productIDs[p.ID]; dup && p.ID != "" {
				errs = append(errs, VError{
					Path:    pp + ".id",
					Code:    "DUPLICATE_ID",
					Message: fmt.Sprintf("product id %q already declared in %s", p.ID, prev),
				})
			}
			productIDs[p.ID] = def.SourceFile
		}
	}

	return errs
}

func (v *Validator) validateCategory(prefix string, c model.CategoryDefinition) []VError {
	var errs []VError

	if c.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if c.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}

	seen := make(map[string]bool, len(c.Subcategories))
	for k, sub := range c.Subcategories {
		if sub == "" {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.subcategories[%d]", prefix, k),
				Code:    "REQUIRED",
				Message: "subcategory label must not be empty",
			})
			continue
		}
		if seen[sub] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.subcategories[%d]", prefix, k),
				Code:    "DUPLICATE_LABEL",
				Message: fmt.Sprintf("subcategory %q is listed twice", sub),
			})
		}
		seen[sub] = true
	}

	for parent := range c.SubSubcategories {
		if !seen[parent] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.subsubcategories[%s]", prefix, parent),
				Code:    "UNKNOWN_SUBCATEGORY",
				Message: fmt.Sprintf("%q is not a subcategory of %q", parent, c.Name),
			})
		}
	}

	return errs
}

func (v *Validator) validateProduct(prefix string, p model.ProductDefinition, categories map[string]model.CategoryDefinition) []VError {
	var errs []VError

	if p.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if p.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if p.Price < 0 {
		errs = append(errs, VError{Path: prefix + ".price", Code: "OUT_OF_RANGE", Message: "price must not be negative"})
	}
	if p.Rating < 0 || p.Rating > 5 {
		errs = append(errs, VError{Path: prefix + ".rating", Code: "OUT_OF_RANGE", Message: "rating must be between 0 and 5"})
	}
	if p.Reviews < 0 {
		errs = append(errs, VError{Path: prefix + ".reviews", Code: "OUT_OF_RANGE", Message: "reviews must not be negative"})
	}

	cat, ok := categories[strings.ToLower(p.Category)]
	if !ok {
		errs = append(errs, VError{
			Path:    prefix + ".category",
			Code:    "UNKNOWN_CATEGORY",
			Message: fmt.Sprintf("category %q is not declared", p.Category),
		})
		return errs
	}
	if p.Subcategory == "" {
		return errs
	}
	if !slices.Contains(cat.Subcategories, p.Subcategory) {
		errs = append(errs, VError{
			Path:    prefix + ".subcategory",
			Code:    "UNKNOWN_SUBCATEGORY",
			Message: fmt.Sprintf("%q is not a subcategory of %q", p.Subcategory, cat.Name),
		})
		return errs
	}
	children := cat.SubSubcategories[p.Subcategory]
	for k, label := range p.SubSubcategories {
		if !slices.Contains(children, label) {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.subsubcategories[%d]", prefix, k),
				Code:    "UNKNOWN_SUBSUBCATEGORY",
				Message: fmt.Sprintf("%q is not listed under %q", label, p.Subcategory),
			})
		}
	}

	return errs
}
