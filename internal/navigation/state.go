// Package navigation implements the category drill-down state machine and
// the per-session store that owns each shopper's navigation state.
package navigation

import (
	"fmt"
	"slices"

	"github.com/pitabwire/storefront/model"
)

// LevelKind identifies a navigation level.
type LevelKind int

// Navigation levels. LevelSubSubcategory is never a current level: picking a
// sub-subcategory is a leaf action at LevelSubcategory.
const (
	LevelMain LevelKind = iota
	LevelSubcategory
	LevelSubSubcategory
)

var levelNames = map[LevelKind]string{
	LevelMain:           "main",
	LevelSubcategory:    "subcategory",
	LevelSubSubcategory: "subsubcategory",
}

func (k LevelKind) String() string {
	if s, ok := levelNames[k]; ok {
		return s
	}
	return fmt.Sprintf("LevelKind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k LevelKind) MarshalText() ([]byte, error) {
	s, ok := levelNames[k]
	if !ok {
		return nil, fmt.Errorf("navigation: unknown level kind %d", int(k))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *LevelKind) UnmarshalText(b []byte) error {
	for kind, name := range levelNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("navigation: unknown level kind %q", b)
}

// Level is one screen of selectable items.
type Level struct {
	Kind   LevelKind `json:"kind"`
	Parent string    `json:"parent,omitempty"`
	Items  []string  `json:"items"`
	Title  string    `json:"title"`
}

// Equal reports whether two levels have the same kind, parent, items, and title.
func (l Level) Equal(o Level) bool {
	return l.Kind == o.Kind && l.Parent == o.Parent && l.Title == o.Title && slices.Equal(l.Items, o.Items)
}

// State is the navigation state of one category view. Values are never
// shared: every transition returns a new State and leaves the receiver
// untouched. An empty selection string means nothing is selected.
type State struct {
	CategoryID             string  `json:"category_id"`
	Level                  Level   `json:"level"`
	SelectedSubcategory    string  `json:"selected_subcategory,omitempty"`
	SelectedSubSubcategory string  `json:"selected_subsubcategory,omitempty"`
	History                []Level `json:"history"`
}

// MainLevel returns the top level of a category.
func MainLevel(cat model.Category) Level {
	return Level{
		Kind:  LevelMain,
		Items: slices.Clone(cat.Subcategories),
		Title: cat.Name,
	}
}

// New returns the initial state for a category view.
func New(cat model.Category) State {
	return State{
		CategoryID: cat.ID,
		Level:      MainLevel(cat),
		History:    []Level{},
	}
}

func (s State) clone() State {
	c := s
	c.Level.Items = slices.Clone(s.Level.Items)
	c.History = make([]Level, len(s.History))
	for i, l := range s.History {
		l.Items = slices.Clone(l.Items)
		c.History[i] = l
	}
	return c
}

// SelectAtMain picks a subcategory. A branch drills into its children and
// pushes the current level onto the history; a leaf only changes the
// selection. Whether item is a branch is decided from cat at call time.
// Labels that are not subcategories of cat leave the state unchanged.
func (s State) SelectAtMain(cat model.Category, item string) State {
	node, ok := cat.Node(item)
	if !ok {
		return s
	}

	next := s.clone()
	switch n := node.(type) {
	case model.Branch:
		next.History = append(next.History, s.Level)
		next.Level = Level{
			Kind:   LevelSubcategory,
			Parent: n.Name,
			Items:  n.Children,
			Title:  n.Name,
		}
	case model.Leaf:
	default:
		panic(fmt.Sprintf("navigation: unknown taxonomy node %T", node))
	}
	next.SelectedSubcategory = item
	next.SelectedSubSubcategory = ""
	return next
}

// SelectAtSubcategory picks a sub-subcategory of the drilled-in level
// without changing level or history. An empty item clears the pick. Outside
// a subcategory level the state is returned unchanged.
func (s State) SelectAtSubcategory(item string) State {
	if s.Level.Kind != LevelSubcategory {
		return s
	}
	if item != "" && !slices.Contains(s.Level.Items, item) {
		return s
	}
	next := s.clone()
	next.SelectedSubSubcategory = item
	return next
}

// Select dispatches to SelectAtMain or SelectAtSubcategory depending on the
// current level.
func (s State) Select(cat model.Category, item string) State {
	if s.Level.Kind == LevelSubcategory {
		return s.SelectAtSubcategory(item)
	}
	return s.SelectAtMain(cat, item)
}

// ClearSelection returns to the main level with no selections and an empty
// history.
func (s State) ClearSelection(cat model.Category) State {
	return New(cat)
}

// NavigateBack restores the most recently pushed level. Returning to the
// main level clears the sub-subcategory pick but keeps the subcategory.
// On an empty history it is a no-op.
func (s State) NavigateBack() State {
	if len(s.History) == 0 {
		return s
	}
	next := s.clone()
	prev := next.History[len(next.History)-1]
	next.History = next.History[:len(next.History)-1]
	next.Level = prev
	if prev.Kind == LevelMain {
		next.SelectedSubSubcategory = ""
	}
	return next
}

// CanGoBack reports whether NavigateBack would change the state.
func (s State) CanGoBack() bool {
	return len(s.History) > 0
}

// Breadcrumb returns the category name followed by the active selections.
func (s State) Breadcrumb(cat model.Category) []string {
	crumbs := []string{cat.Name}
	if s.SelectedSubcategory != "" {
		crumbs = append(crumbs, s.SelectedSubcategory)
	}
	if s.SelectedSubSubcategory != "" {
		crumbs = append(crumbs, s.SelectedSubSubcategory)
	}
	return crumbs
}

// Item is a selectable label at the current level.
type Item struct {
	Label       string
	HasChildren bool
	Selected    bool
}

// Items returns the selectable labels of the current level. HasChildren is
// evaluated against cat; sub-subcategories never have children.
func (s State) Items(cat model.Category) []Item {
	items := make([]Item, 0, len(s.Level.Items))
	for _, label := range s.Level.Items {
		it := Item{Label: label}
		switch s.Level.Kind {
		case LevelMain:
			n, _ := cat.Node(label)
			_, it.HasChildren = n.(model.Branch)
			it.Selected = s.SelectedSubcategory == label
		default:
			it.Selected = s.SelectedSubSubcategory == label
		}
		items = append(items, it)
	}
	return items
}

// Validate checks the state invariants against cat.
func (s State) Validate(cat model.Category) error {
	if s.CategoryID != cat.ID {
		return fmt.Errorf("navigation: state belongs to category %q, not %q", s.CategoryID, cat.ID)
	}
	if s.SelectedSubSubcategory != "" {
		if s.SelectedSubcategory == "" {
			return fmt.Errorf("navigation: sub-subcategory %q selected without a subcategory", s.SelectedSubSubcategory)
		}
		if _, ok := cat.SubSubcategories[s.SelectedSubcategory]; !ok {
			return fmt.Errorf("navigation: %q has no sub-subcategories", s.SelectedSubcategory)
		}
	}
	if s.Level.Kind == LevelSubSubcategory {
		return fmt.Errorf("navigation: %s is not a navigable level", s.Level.Kind)
	}
	return nil
}
