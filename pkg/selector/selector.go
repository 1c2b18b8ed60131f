// Package selector reduces scanned items to the newest item per group key.
package selector

import (
	"iter"
	"slices"

	"github.com/pixelgardenlabs/shotsync/pkg/naming"
	"github.com/pixelgardenlabs/shotsync/pkg/scan"
)

// Filter excludes items before grouping. A nil Filter keeps everything.
type Filter func(scan.Item) bool

// ReferenceMap maps a group key to its reference item.
type ReferenceMap map[string]scan.Item

// Select makes one pass over items and keeps, per key, the item with the
// greatest modification time. Equal times are broken by the lexicographically
// greatest path, so the result does not depend on traversal order. Items the
// filter rejects or the extractor cannot key are dropped.
func Select(items iter.Seq[scan.Item], extractor naming.KeyExtractor, filter Filter) ReferenceMap {
	refs := make(ReferenceMap)
	for item := range items {
		if filter != nil && !filter(item) {
			continue
		}
		key, ok := extractor.Extract(item.Name)
		if !ok {
			continue
		}
		if cur, seen := refs[key]; !seen || Newer(item, cur) {
			refs[key] = item
		}
	}
	return refs
}

// Newer reports whether a should replace b as the reference of their group.
func Newer(a, b scan.Item) bool {
	if a.ModTime.Equal(b.ModTime) {
		return a.Path > b.Path
	}
	return a.ModTime.After(b.ModTime)
}

// Keys returns the keys in sorted order.
func (m ReferenceMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
