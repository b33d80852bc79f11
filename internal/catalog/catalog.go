// Package catalog holds the persisted snapshot of discovered categories and items.
//
// The snapshot is the single source of truth across runs. Every pass loads it,
// mutates items in place strictly forward, and writes the whole document back
// atomically. Progress is gated by field presence (a content hash means the
// asset was downloaded, a remote id means it was synchronized), so a crash
// between a side effect and the next save is always safe to resume.
package catalog

import (
	"encoding/json"
	"fmt"
)

// RootID identifies the synthetic root category of the forest.
const RootID = "0"

// Catalog maps category ids to categories in first-seen order.
type Catalog struct {
	categories Ordered[*Category]
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{}
}

// Len returns the number of categories, including the root.
func (c *Catalog) Len() int {
	return c.categories.Len()
}

// Get looks up a category by id.
func (c *Catalog) Get(id string) (*Category, bool) {
	return c.categories.Get(id)
}

// Categories returns the categories in first-seen order.
func (c *Catalog) Categories() []*Category {
	out := make([]*Category, 0, c.categories.Len())
	for _, id := range c.categories.keys {
		out = append(out, c.categories.values[id])
	}
	return out
}

// Add registers a new category. A category that is already known is returned
// unchanged together with false; discovery never revisits a known id.
func (c *Catalog) Add(id, title, url string) (*Category, bool) {
	if existing, ok := c.categories.Get(id); ok {
		return existing, false
	}
	cat := &Category{ID: id, Title: title, URL: url, NextSequence: 1}
	c.categories.Set(id, cat)
	return cat, true
}

// EnsureRoot returns the root category, creating it when absent.
func (c *Catalog) EnsureRoot(title, url string) *Category {
	root, _ := c.Add(RootID, title, url)
	return root
}

// ItemCount returns the total number of items across all categories.
func (c *Catalog) ItemCount() int {
	n := 0
	for _, cat := range c.Categories() {
		n += cat.Items.Len()
	}
	return n
}

// Walk calls fn for every item in category order, then item order. Returning
// an error from fn stops the walk.
func (c *Catalog) Walk(fn func(cat *Category, sourceURL string, item *Item) error) error {
	for _, cat := range c.Categories() {
		for _, key := range cat.Items.keys {
			if err := fn(cat, key, cat.Items.values[key]); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarshalJSON encodes the catalog as a top-level object keyed by category id.
func (c *Catalog) MarshalJSON() ([]byte, error) {
	return c.categories.MarshalJSON()
}

// UnmarshalJSON decodes a snapshot document and restores category ids from keys.
func (c *Catalog) UnmarshalJSON(data []byte) error {
	var categories Ordered[*Category]
	if err := json.Unmarshal(data, &categories); err != nil {
		return err
	}
	for _, id := range categories.keys {
		cat := categories.values[id]
		if cat == nil {
			return fmt.Errorf("category %q is null", id)
		}
		if cat.ID == "" {
			cat.ID = id
		}
		if cat.ID != id {
			return fmt.Errorf("category key %q does not match id %q", id, cat.ID)
		}
		if cat.NextSequence < 1 {
			cat.NextSequence = 1
		}
	}
	c.categories = categories
	return nil
}

// Category is one node of the discovered hierarchy.
type Category struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	URL           string         `json:"url"`
	Subcategories []string       `json:"subcategories,omitempty"`
	NextSequence  int            `json:"nextSequence"`
	Items         Ordered[*Item] `json:"items"`
}

// HasItems reports whether the category carries any items.
func (c *Category) HasItems() bool {
	return c.Items.Len() > 0
}

// LinkSubcategory appends id to the subcategory list unless already present.
func (c *Category) LinkSubcategory(id string) bool {
	for _, existing := range c.Subcategories {
		if existing == id {
			return false
		}
	}
	c.Subcategories = append(c.Subcategories, id)
	return true
}

// AddItem registers an item discovered at sourceURL and assigns it the next
// sequence number. Known URLs are returned unchanged together with false.
func (c *Category) AddItem(sourceURL string) (*Item, bool) {
	if existing, ok := c.Items.Get(sourceURL); ok {
		return existing, false
	}
	item := &Item{
		Sequence:       c.NextSequence,
		SourceFilename: SourceFilename(sourceURL),
		SourceURL:      sourceURL,
	}
	c.NextSequence++
	c.Items.Set(sourceURL, item)
	return item, true
}
