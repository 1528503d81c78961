/*
Package catalog provides the category/qualification registry.

PURPOSE:
  Maps each training category (umbrella) to the credit requirement of
  each qualification level. The claim pipeline snapshots a requirement
  from here at submission time. Categories are configured in JSON so
  administrators can add umbrellas without code changes.

JSON SCHEMA:
  [
    {
      "key": "Criminology",
      "name": "Criminology",
      "levels": {
        "foundation": 25,
        "advanced": 50,
        "expert": 100
      }
    }
  ]

KEY FEATURES:
  - Validates unique keys and positive credit requirements
  - Ships a built-in default catalog for dev and demo scenarios
  - Lookup by category key, requirement by (key, level)

USAGE:
  cat, err := catalog.Parse(jsonBytes)
  required, err := cat.Required("Criminology", "foundation")

SEE ALSO:
  - claims/service.go: Snapshots requirements at claim submission
*/
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TYPES
// =============================================================================

var (
	// ErrUnknownCategory is returned when a category key is not registered.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrUnknownLevel is returned when a qualification level is not defined
	// for the category.
	ErrUnknownLevel = errors.New("unknown qualification level")
)

// Category is one umbrella of training credits.
type Category struct {
	Key    string
	Name   string
	Levels map[string]decimal.Decimal
}

// Catalog is the registry of categories, keyed by category key.
type Catalog struct {
	categories map[string]Category
}

// =============================================================================
// JSON PARSING
// =============================================================================

type categoryJSON struct {
	Key    string             `json:"key"`
	Name   string             `json:"name"`
	Levels map[string]float64 `json:"levels"`
}

// Parse builds a Catalog from a JSON array of category definitions.
func Parse(data []byte) (*Catalog, error) {
	var raw []categoryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}

	categories := make(map[string]Category, len(raw))
	for _, cj := range raw {
		if cj.Key == "" {
			return nil, errors.New("category key is required")
		}
		if _, dup := categories[cj.Key]; dup {
			return nil, fmt.Errorf("duplicate category key %q", cj.Key)
		}
		if len(cj.Levels) == 0 {
			return nil, fmt.Errorf("category %q has no qualification levels", cj.Key)
		}

		levels := make(map[string]decimal.Decimal, len(cj.Levels))
		for level, credits := range cj.Levels {
			if credits <= 0 {
				return nil, fmt.Errorf("category %q level %q: credit requirement must be positive", cj.Key, level)
			}
			levels[level] = decimal.NewFromFloat(credits)
		}

		name := cj.Name
		if name == "" {
			name = cj.Key
		}
		categories[cj.Key] = Category{Key: cj.Key, Name: name, Levels: levels}
	}

	return &Catalog{categories: categories}, nil
}

// =============================================================================
// LOOKUPS
// =============================================================================

// Lookup returns the category for a key.
func (c *Catalog) Lookup(key string) (Category, error) {
	cat, ok := c.categories[key]
	if !ok {
		return Category{}, fmt.Errorf("%w: %q", ErrUnknownCategory, key)
	}
	return cat, nil
}

// Required returns the credit requirement for a category + level.
func (c *Catalog) Required(key, level string) (decimal.Decimal, error) {
	cat, err := c.Lookup(key)
	if err != nil {
		return decimal.Zero, err
	}
	required, ok := cat.Levels[level]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q in %q", ErrUnknownLevel, level, key)
	}
	return required, nil
}

// Has reports whether the key is a registered category.
func (c *Catalog) Has(key string) bool {
	_, ok := c.categories[key]
	return ok
}

// Categories returns all categories, sorted by key for stable listings.
func (c *Catalog) Categories() []Category {
	out := make([]Category, 0, len(c.categories))
	for _, cat := range c.categories {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// =============================================================================
// DEFAULT CATALOG
// =============================================================================

// DefaultJSON is the built-in catalog used by dev servers and demo
// scenarios. Production deployments load their own JSON.
const DefaultJSON = `[
  {
    "key": "Criminology",
    "name": "Criminology",
    "levels": {"foundation": 25, "advanced": 50, "expert": 100}
  },
  {
    "key": "Forensics",
    "name": "Forensic Science",
    "levels": {"foundation": 25, "advanced": 50, "expert": 100}
  },
  {
    "key": "PoliceAdministration",
    "name": "Police Administration",
    "levels": {"foundation": 20, "advanced": 40, "expert": 80}
  },
  {
    "key": "CyberSecurity",
    "name": "Cyber Security",
    "levels": {"foundation": 30, "advanced": 60, "expert": 120}
  }
]`

// Default returns the built-in catalog. Panics only if DefaultJSON is
// malformed, which would be a programming error caught by tests.
func Default() *Catalog {
	c, err := Parse([]byte(DefaultJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid default catalog: %v", err))
	}
	return c
}
