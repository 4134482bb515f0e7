package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidCatalog = errors.New("catalog: invalid catalog")
	ErrUnknownTier    = errors.New("catalog: unknown tier")
	ErrUnknownPrice   = errors.New("catalog: no price for interval")
)

// Config points at the catalog file.
type Config struct {
	Path string `env:"CATALOG_PATH" envDefault:"config/catalog.yaml"`
}

// Tier is one sellable plan.
type Tier struct {
	Name   string            `yaml:"name"`
	Prices map[string]string `yaml:"prices"` // billing interval -> processor price id
}

type file struct {
	Tiers map[string]Tier `yaml:"tiers"`
}

// Catalog maps tiers and billing intervals to processor price ids.
// It is immutable after loading.
type Catalog struct {
	tiers map[string]Tier
}

// Load reads and parses the catalog at path.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML catalog. Unknown keys are rejected so typos in price
// ids do not go unnoticed.
func Parse(raw []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	if len(f.Tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers", ErrInvalidCatalog)
	}

	tiers := make(map[string]Tier, len(f.Tiers))
	for key, t := range f.Tiers {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" || len(t.Prices) == 0 {
			return nil, fmt.Errorf("%w: tier %q has no prices", ErrInvalidCatalog, key)
		}
		for interval, price := range t.Prices {
			if interval != "monthly" && interval != "annual" {
				return nil, fmt.Errorf("%w: tier %q: unsupported interval %q", ErrInvalidCatalog, key, interval)
			}
			if strings.TrimSpace(price) == "" {
				return nil, fmt.Errorf("%w: tier %q: empty %s price", ErrInvalidCatalog, key, interval)
			}
		}
		if t.Name == "" {
			t.Name = key
		}
		tiers[key] = t
	}
	return &Catalog{tiers: tiers}, nil
}

// HasTier implements billing.PriceCatalog.
func (c *Catalog) HasTier(tier string) bool {
	_, ok := c.tiers[tier]
	return ok
}

// PriceID implements billing.PriceCatalog.
func (c *Catalog) PriceID(tier, interval string) (string, error) {
	t, ok := c.tiers[tier]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	price, ok := t.Prices[interval]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownPrice, tier, interval)
	}
	return price, nil
}

// Tiers returns the tier keys in sorted order.
func (c *Catalog) Tiers() []string {
	keys := make([]string, 0, len(c.tiers))
	for k := range c.tiers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Tier returns the display data of one tier.
func (c *Catalog) Tier(key string) (Tier, bool) {
	t, ok := c.tiers[key]
	return t, ok
}
