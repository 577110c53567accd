// Package openapi indexes the backend's OpenAPI description so callers can
// resolve an operationId to its method and path and check request bodies
// against the declared required fields.
package openapi

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Operation is a resolved OpenAPI operation.
type Operation struct {
	ID             string
	Method         string
	PathTemplate   string
	PathParams     []string
	RequiredFields []string
}

// ValidationError describes a request body field that fails the operation's
// schema.
type ValidationError struct {
	Field   string
	Message string
}

// Index is an in-memory index of OpenAPI operations keyed by operationId.
type Index struct {
	baseURL    string
	operations map[string]Operation
}

// LoadFile parses and validates an OpenAPI description from disk.
func LoadFile(path string) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading %s: %w", path, err)
	}
	return build(doc)
}

// LoadData parses and validates an OpenAPI description held in memory.
func LoadData(data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: parsing description: %w", err)
	}
	return build(doc)
}

func build(doc *openapi3.T) (*Index, error) {
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validating description: %w", err)
	}

	idx := &Index{operations: make(map[string]Operation)}
	if len(doc.Servers) > 0 {
		idx.baseURL = doc.Servers[0].URL
	}

	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			if _, dup := idx.operations[op.OperationID]; dup {
				return nil, fmt.Errorf("openapi: duplicate operationId %q", op.OperationID)
			}

			// Path-level and operation-level parameters both apply.
			var pathParams []string
			for _, refs := range []openapi3.Parameters{item.Parameters, op.Parameters} {
				for _, ref := range refs {
					if ref.Value != nil && ref.Value.In == openapi3.ParameterInPath {
						pathParams = append(pathParams, ref.Value.Name)
					}
				}
			}

			idx.operations[op.OperationID] = Operation{
				ID:             op.OperationID,
				Method:         method,
				PathTemplate:   path,
				PathParams:     pathParams,
				RequiredFields: requiredFields(op.RequestBody),
			}
		}
	}
	return idx, nil
}

func requiredFields(body *openapi3.RequestBodyRef) []string {
	if body == nil || body.Value == nil {
		return nil
	}
	ct := body.Value.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}
	return slices.Clone(ct.Schema.Value.Required)
}

// BaseURL returns the first server URL of the description, if any.
func (idx *Index) BaseURL() string {
	return idx.baseURL
}

// Operation returns the operation with the given id.
func (idx *Index) Operation(id string) (Operation, bool) {
	op, ok := idx.operations[id]
	return op, ok
}

// OperationIDs returns every indexed operationId, sorted.
func (idx *Index) OperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Require reports every id that the description does not declare.
func (idx *Index) Require(ids ...string) error {
	var missing []string
	for _, id := range ids {
		if _, ok := idx.operations[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("openapi: description lacks operations %s", strings.Join(missing, ", "))
	}
	return nil
}

// Resolve returns the method and expanded path of an operation. Path
// parameter values are escaped, so a value may itself contain slashes.
func (idx *Index) Resolve(id string, params map[string]string) (method, path string, err error) {
	op, ok := idx.operations[id]
	if !ok {
		return "", "", fmt.Errorf("openapi: operation %q not found", id)
	}
	path = op.PathTemplate
	for _, name := range op.PathParams {
		v, ok := params[name]
		if !ok || v == "" {
			return "", "", fmt.Errorf("openapi: operation %q needs path parameter %q", id, name)
		}
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(v))
	}
	return op.Method, path, nil
}

// ValidateRequest checks body against the operation's required fields.
// Returns an empty slice if valid.
func (idx *Index) ValidateRequest(id string, body map[string]any) []ValidationError {
	op, ok := idx.operations[id]
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("operation %q not found", id)}}
	}

	var errs []ValidationError
	for _, field := range op.RequiredFields {
		if v, exists := body[field]; !exists || v == nil || v == "" {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s is required", field),
			})
		}
	}
	return errs
}
