// Package reviewable holds the building blocks shared by every reviewable
// kind: capability catalogs, perform results, the kind registry and the
// lifecycle event bus.
package reviewable

// Item is anything a Collection can hold.
type Item interface {
	ItemID() string
}

// Collection is an ordered, append-only set of items keyed by id. A
// collection is rebuilt for every authorization check and never shared.
type Collection[T Item] struct {
	items []T
	index map[string]int
}

// Add appends item. Adding an id that is already present keeps the first
// entry so ordering stays stable.
func (c *Collection[T]) Add(item T) {
	if c.index == nil {
		c.index = make(map[string]int)
	}
	id := item.ItemID()
	if _, exists := c.index[id]; exists {
		return
	}
	c.index[id] = len(c.items)
	c.items = append(c.items, item)
}

// Has reports whether an item with exactly this id exists. Dotted ids are
// not prefix-matched.
func (c *Collection[T]) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Get returns the item with the given id.
func (c *Collection[T]) Get(id string) (T, bool) {
	i, ok := c.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return c.items[i], true
}

// Items returns a copy of the items in insertion order.
func (c *Collection[T]) Items() []T {
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// IDs returns the item ids in insertion order.
func (c *Collection[T]) IDs() []string {
	ids := make([]string, len(c.items))
	for i, item := range c.items {
		ids[i] = item.ItemID()
	}
	return ids
}

func (c *Collection[T]) Len() int {
	return len(c.items)
}

// IsEmpty reports whether nothing was added.
func (c *Collection[T]) IsEmpty() bool {
	return len(c.items) == 0
}
