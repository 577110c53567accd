// Package catalog loads catalog definition files, validates them, and serves
// the immutable category taxonomy and product list through an atomically
// swapped snapshot.
package catalog

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/storefront/model"
)

// Loader scans directories for YAML catalog files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new catalog Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a CatalogDefinition. Files are returned in lexical path order so
// product order is stable across restarts.
func (l *Loader) LoadAll(directories []string) ([]model.CatalogDefinition, error) {
	var defs []model.CatalogDefinition

	for _, dir := range directories {
		var paths []string
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if isCatalogFile(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}

		sort.Strings(paths)
		for _, path := range paths {
			def, err := l.LoadFile(path)
			if err != nil {
				return nil, fmt.Errorf("loading %s: %w", path, err)
			}
			defs = append(defs, def)
		}
	}

	return defs, nil
}

// LoadFile loads and parses a single YAML catalog file. It computes the
// SHA-256 checksum and records the source file path.
func (l *Loader) LoadFile(path string) (model.CatalogDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.CatalogDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var def model.CatalogDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.CatalogDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path

	return def, nil
}

func isCatalogFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
