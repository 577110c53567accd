package catalog

import (
	"fmt"

	"github.com/pitabwire/storefront/model"
)

// MenuProvider builds the category menu and category descriptors from the
// current store snapshot.
type MenuProvider struct {
	store *Store
}

// NewMenuProvider creates a MenuProvider backed by the given store.
func NewMenuProvider(store *Store) *MenuProvider {
	return &MenuProvider{store: store}
}

// GetMenu builds the menu tree: one node per category in menu order, each
// with its subcategories and, for branches, their children.
func (p *MenuProvider) GetMenu() model.MenuTree {
	categories := p.store.Categories()

	nodes := make([]model.MenuNode, 0, len(categories))
	for _, c := range categories {
		node := model.MenuNode{
			ID:          c.ID,
			Label:       c.Name,
			Icon:        c.Icon,
			Image:       c.Image,
			Route:       fmt.Sprintf("/category/%s", c.ID),
			HasChildren: len(c.Subcategories) > 0,
			Children:    make([]model.MenuNode, 0, len(c.Subcategories)),
		}
		for _, n := range c.Nodes() {
			node.Children = append(node.Children, p.subcategoryNode(c, n))
		}
		nodes = append(nodes, node)
	}

	return model.MenuTree{Items: nodes}
}

func (p *MenuProvider) subcategoryNode(c model.Category, n model.TaxonomyNode) model.MenuNode {
	node := model.MenuNode{
		ID:       c.ID + "/" + n.Label(),
		Label:    n.Label(),
		Image:    p.store.ImageFor(n.Label()),
		Children: []model.MenuNode{},
	}
	switch n := n.(type) {
	case model.Branch:
		node.HasChildren = true
		for _, child := range n.Children {
			node.Children = append(node.Children, model.MenuNode{
				ID:       c.ID + "/" + n.Name + "/" + child,
				Label:    child,
				Image:    p.store.ImageFor(child),
				Children: []model.MenuNode{},
			})
		}
	case model.Leaf:
	}
	return node
}

// Describe returns the category with its top-level items.
func (p *MenuProvider) Describe(c model.Category) model.CategoryDescriptor {
	d := model.CategoryDescriptor{
		ID:    c.ID,
		Name:  c.Name,
		Icon:  c.Icon,
		Image: c.Image,
		Items: make([]model.ItemDescriptor, 0, len(c.Subcategories)),
	}
	for _, n := range c.Nodes() {
		_, branch := n.(model.Branch)
		d.Items = append(d.Items, model.ItemDescriptor{
			Label:       n.Label(),
			Image:       p.store.ImageFor(n.Label()),
			HasChildren: branch,
		})
	}
	return d
}
