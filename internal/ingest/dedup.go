package ingest

import (
	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

type itemRef struct {
	categoryID string
	sourceURL  string
}

// hashIndex maps a content hash to the item that owns it for this run.
type hashIndex map[string]itemRef

// buildIndex registers every known hash before the scan. Synchronized items
// claim their hash first so an earlier, unsynchronized copy can never take
// ownership from an item that already exists remotely. It returns how many
// items were newly flagged as duplicates.
func buildIndex(cat *catalog.Catalog) (hashIndex, int) {
	index := make(hashIndex)
	_ = cat.Walk(func(c *catalog.Category, sourceURL string, item *catalog.Item) error {
		if item.ContentHash != "" && item.Synchronized() && !item.DuplicateOfExisting {
			if _, ok := index[item.ContentHash]; !ok {
				index[item.ContentHash] = itemRef{c.ID, sourceURL}
			}
		}
		return nil
	})

	flagged := 0
	_ = cat.Walk(func(c *catalog.Category, sourceURL string, item *catalog.Item) error {
		if item.ContentHash == "" || item.DuplicateOfExisting {
			return nil
		}
		ref := itemRef{c.ID, sourceURL}
		owner, ok := index[item.ContentHash]
		switch {
		case !ok:
			index[item.ContentHash] = ref
		case owner != ref && !item.Synchronized():
			item.DuplicateOfExisting = true
			flagged++
		}
		return nil
	})
	return index, flagged
}

// claim registers hash for ref. It reports false when another item owns it.
func (idx hashIndex) claim(hash string, ref itemRef) bool {
	owner, ok := idx[hash]
	if !ok {
		idx[hash] = ref
		return true
	}
	return owner == ref
}
