package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/udp-quote-service/internal/protocol"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// ErrUnknownItem is returned for item ids outside the catalog
var ErrUnknownItem = errors.New("unknown catalog item")

// Item is one selectable entry with its ordered fragments
type Item struct {
	Title     string   `yaml:"title" json:"title"`
	Fragments []string `yaml:"fragments" json:"fragments"`
}

// Catalog is an immutable, 1-based table of items.
// Every item carries exactly FragmentsPerItem fragments.
type Catalog struct {
	fragmentsPerItem int
	items            []Item
}

// file mirrors the on-disk YAML layout
type file struct {
	FragmentsPerItem int    `yaml:"fragments_per_item"`
	Items            []Item `yaml:"items"`
}

// Default returns the catalog compiled into the binary
func Default() (*Catalog, error) {
	cat, err := Parse(defaultCatalogYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}
	return cat, nil
}

// Load reads and validates a catalog file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes and validates a YAML catalog document
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	return New(f.FragmentsPerItem, f.Items)
}

// New builds a catalog from in-memory items. The items are copied.
func New(fragmentsPerItem int, items []Item) (*Catalog, error) {
	if fragmentsPerItem < 1 {
		return nil, fmt.Errorf("fragments_per_item must be at least 1, got %d", fragmentsPerItem)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("catalog must contain at least one item")
	}

	copied := make([]Item, len(items))
	for i, item := range items {
		id := i + 1
		if item.Title == "" {
			return nil, fmt.Errorf("item %d: title cannot be empty", id)
		}

		if len(item.Fragments) != fragmentsPerItem {
			return nil, fmt.Errorf("item %d (%s): expected %d fragments, got %d",
				id, item.Title, fragmentsPerItem, len(item.Fragments))
		}

		for j, fragment := range item.Fragments {
			if fragment == "" {
				return nil, fmt.Errorf("item %d fragment %d: cannot be empty", id, j)
			}
			if err := protocol.ValidateFragment(fragment); err != nil {
				return nil, fmt.Errorf("item %d fragment %d: %w", id, j, err)
			}
		}

		copied[i] = Item{
			Title:     item.Title,
			Fragments: append([]string(nil), item.Fragments...),
		}
	}

	return &Catalog{fragmentsPerItem: fragmentsPerItem, items: copied}, nil
}

// Len returns the number of items
func (c *Catalog) Len() int {
	return len(c.items)
}

// FragmentsPerItem returns F, the fragment count shared by every item
func (c *Catalog) FragmentsPerItem() int {
	return c.fragmentsPerItem
}

// Contains reports whether itemID addresses an item
func (c *Catalog) Contains(itemID uint32) bool {
	return itemID >= 1 && uint64(itemID) <= uint64(len(c.items))
}

// Item returns a copy of the item with the given 1-based id
func (c *Catalog) Item(itemID uint32) (Item, error) {
	if !c.Contains(itemID) {
		return Item{}, fmt.Errorf("%w: id %d (catalog has %d items)", ErrUnknownItem, itemID, len(c.items))
	}

	item := c.items[itemID-1]
	return Item{
		Title:     item.Title,
		Fragments: append([]string(nil), item.Fragments...),
	}, nil
}

// Fragments returns the ordered fragments of an item
func (c *Catalog) Fragments(itemID uint32) ([]string, error) {
	item, err := c.Item(itemID)
	if err != nil {
		return nil, err
	}
	return item.Fragments, nil
}

// Fragment returns a single fragment by item id and 0-based index
func (c *Catalog) Fragment(itemID uint32, index int) (string, error) {
	if !c.Contains(itemID) {
		return "", fmt.Errorf("%w: id %d", ErrUnknownItem, itemID)
	}

	if index < 0 || index >= c.fragmentsPerItem {
		return "", fmt.Errorf("fragment index %d out of range [0, %d)", index, c.fragmentsPerItem)
	}

	return c.items[itemID-1].Fragments[index], nil
}

// Titles returns the item titles in id order
func (c *Catalog) Titles() []string {
	titles := make([]string, len(c.items))
	for i, item := range c.items {
		titles[i] = item.Title
	}
	return titles
}

// Items returns a copy of every item in id order
func (c *Catalog) Items() []Item {
	items := make([]Item, len(c.items))
	for i, item := range c.items {
		items[i] = Item{
			Title:     item.Title,
			Fragments: append([]string(nil), item.Fragments...),
		}
	}
	return items
}
