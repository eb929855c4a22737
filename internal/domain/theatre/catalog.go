package theatre

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the static configuration of the generator: the session
// archetypes and the procedure duration table.
type Catalog struct {
	Archetypes       []SessionArchetype `yaml:"archetypes"`
	Durations        map[string]int     `yaml:"durations"`
	DefaultMinutes   int                `yaml:"default_minutes"`
	UrgentMultiplier float64            `yaml:"urgent_multiplier"`
	TurnoverMinutes  int                `yaml:"turnover_minutes"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog file. An empty path returns the built-in one.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := ParseCatalog([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and validates catalog YAML, filling defaults for
// omitted scalar settings.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return &c, nil
}

func (c *Catalog) applyDefaults() {
	if c.DefaultMinutes == 0 {
		c.DefaultMinutes = 90
	}
	if c.UrgentMultiplier == 0 {
		c.UrgentMultiplier = 1.2
	}
	if c.TurnoverMinutes == 0 {
		c.TurnoverMinutes = 30
	}
	for i, a := range c.Archetypes {
		if t, ok := ParseSessionType(string(a.Type)); ok {
			c.Archetypes[i].Type = t
		}
	}
	normalized := make(map[string]int, len(c.Durations))
	for name, minutes := range c.Durations {
		normalized[NormalizeProcedureName(name)] = minutes
	}
	c.Durations = normalized
}

// Validate checks archetype windows and table entries.
func (c *Catalog) Validate() error {
	if len(c.Archetypes) == 0 {
		return fmt.Errorf("no archetypes defined")
	}
	seen := make(map[SessionType]bool)
	for i, a := range c.Archetypes {
		if _, ok := ParseSessionType(string(a.Type)); !ok {
			return fmt.Errorf("archetype[%d]: unknown type %q", i, a.Type)
		}
		if seen[a.Type] {
			return fmt.Errorf("archetype[%d]: duplicate type %s", i, a.Type)
		}
		seen[a.Type] = true

		start, err := time.Parse("15:04", a.Start)
		if err != nil {
			return fmt.Errorf("archetype[%d]: invalid start %q, expected HH:MM", i, a.Start)
		}
		end, err := time.Parse("15:04", a.End)
		if err != nil {
			return fmt.Errorf("archetype[%d]: invalid end %q, expected HH:MM", i, a.End)
		}
		if !end.After(start) {
			return fmt.Errorf("archetype[%d]: end %s is not after start %s", i, a.End, a.Start)
		}
		if window := int(end.Sub(start).Minutes()); window != a.DurationMinutes {
			return fmt.Errorf("archetype[%d]: duration_minutes %d does not match window of %d minutes", i, a.DurationMinutes, window)
		}
	}
	if !seen[SessionAM] {
		return fmt.Errorf("the AM archetype is required as the default session")
	}
	if c.DefaultMinutes <= 0 {
		return fmt.Errorf("default_minutes must be positive")
	}
	if c.UrgentMultiplier < 1 {
		return fmt.Errorf("urgent_multiplier must be at least 1")
	}
	if c.TurnoverMinutes < 0 {
		return fmt.Errorf("turnover_minutes cannot be negative")
	}
	for name, minutes := range c.Durations {
		if minutes <= 0 {
			return fmt.Errorf("durations[%s]: minutes must be positive", name)
		}
	}
	return nil
}

// Archetype returns the archetype of the given type.
func (c *Catalog) Archetype(t SessionType) (SessionArchetype, bool) {
	for _, a := range c.Archetypes {
		if a.Type == t {
			return a, true
		}
	}
	return SessionArchetype{}, false
}

// NormalizeProcedureName lower-cases, trims and collapses internal whitespace.
func NormalizeProcedureName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
