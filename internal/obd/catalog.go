// Package obd serves the built-in catalog of OBD-II trouble codes.
package obd

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/carhelperai/carhelper/pkg/models"
	"gopkg.in/yaml.v3"
)

//go:embed codes.yaml
var defaultCodes []byte

// Catalog is an immutable, case-insensitive index of trouble codes.
type Catalog struct {
	codes map[string]models.OBDCode
}

// Load parses a YAML list of codes. Duplicate codes are rejected.
func Load(data []byte) (*Catalog, error) {
	var entries []models.OBDCode
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse obd catalog: %w", err)
	}

	c := &Catalog{codes: make(map[string]models.OBDCode, len(entries))}
	for _, e := range entries {
		key := normalize(e.Code)
		if key == "" {
			return nil, fmt.Errorf("obd catalog: entry with empty code")
		}
		if _, dup := c.codes[key]; dup {
			return nil, fmt.Errorf("obd catalog: duplicate code %s", key)
		}
		e.Code = key
		c.codes[key] = e
	}
	return c, nil
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Load(defaultCodes)
}

// Lookup finds a code regardless of case and surrounding whitespace.
func (c *Catalog) Lookup(code string) (models.OBDCode, bool) {
	e, ok := c.codes[normalize(code)]
	return e, ok
}

func (c *Catalog) Len() int { return len(c.codes) }

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
