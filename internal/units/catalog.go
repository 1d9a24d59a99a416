package units

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

//go:embed default_units.json
var defaultCatalog []byte

// Index is the stable position of a unit type in its catalog. Hot-path
// components carry the index; string IDs stay at the boundary.
type Index int

// Footprint is the number of grid cells one squad member occupies.
type Footprint struct {
	W int `json:"w" jsonschema:"minimum=1"`
	H int `json:"h" jsonschema:"minimum=1"`
}

// UnitType is one entry of the unit catalog.
type UnitType struct {
	Index            Index     `json:"-"`
	ID               string    `json:"id" jsonschema:"title=Unit ID,pattern=^[a-z0-9-]+$,minLength=1,required"`
	Name             string    `json:"name,omitempty"`
	Cost             int       `json:"cost" jsonschema:"minimum=0"`
	Supply           int       `json:"supply" jsonschema:"minimum=0"`
	SquadSize        int       `json:"squadSize" jsonschema:"minimum=1"`
	Footprint        Footprint `json:"footprint"`
	Spacing          float64   `json:"spacing,omitempty"`
	HP               float64   `json:"hp" jsonschema:"exclusiveMinimum=0"`
	Damage           float64   `json:"damage,omitempty"`
	Range            float64   `json:"range,omitempty"`
	Speed            float64   `json:"speed,omitempty"`
	Armor            float64   `json:"armor,omitempty"`
	Abilities        []string  `json:"abilities,omitempty"`
	Building         bool      `json:"building,omitempty"`
	CommandStructure bool      `json:"commandStructure,omitempty"`
	ClaimsResource   bool      `json:"claimsResource,omitempty"`
	Produces         []string  `json:"produces,omitempty"`
	BuildTime        float64   `json:"buildTime,omitempty" jsonschema:"description=Seconds until construction completes"`
	GoldPerRound     int       `json:"goldPerRound,omitempty"`
}

// Validate reports configuration errors that would make a spawn impossible.
func (u *UnitType) Validate() error {
	if u == nil {
		return errors.New("unit type is nil")
	}
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("unit type missing id")
	}
	if u.SquadSize < 1 {
		return fmt.Errorf("unit %q: squad size must be at least 1", u.ID)
	}
	if u.Footprint.W < 1 || u.Footprint.H < 1 {
		return fmt.Errorf("unit %q: footprint must be at least 1x1", u.ID)
	}
	if u.HP <= 0 {
		return fmt.Errorf("unit %q: hp must be positive", u.ID)
	}
	return nil
}

// Catalog is an immutable lookup of unit types by ID and by index.
type Catalog struct {
	types []UnitType
	byID  map[string]Index
}

// Default returns the catalog embedded in the binary.
func Default() *Catalog {
	catalog, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("units: embedded catalog invalid: %v", err))
	}
	return catalog
}

// Load reads a catalog from disk. Missing files fall back to the embedded
// default so binaries work without a config directory.
func Load(path string) (*Catalog, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("units: failed loading %s: %w", trimmed, err)
	}
	catalog, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("units: failed parsing %s: %w", trimmed, err)
	}
	return catalog, nil
}

// Parse decodes a JSON array of unit types. Indices follow file order.
func Parse(data []byte) (*Catalog, error) {
	var documents []UnitType
	if err := json.Unmarshal(data, &documents); err != nil {
		return nil, err
	}
	return New(documents...)
}

// New builds a catalog from unit types in the given order.
func New(types ...UnitType) (*Catalog, error) {
	catalog := &Catalog{
		types: make([]UnitType, 0, len(types)),
		byID:  make(map[string]Index, len(types)),
	}
	for _, unit := range types {
		unit.ID = strings.TrimSpace(unit.ID)
		if err := unit.Validate(); err != nil {
			return nil, err
		}
		if _, dup := catalog.byID[unit.ID]; dup {
			return nil, fmt.Errorf("duplicate unit id %q", unit.ID)
		}
		unit.Index = Index(len(catalog.types))
		unit.Abilities = append([]string(nil), unit.Abilities...)
		unit.Produces = append([]string(nil), unit.Produces...)
		catalog.byID[unit.ID] = unit.Index
		catalog.types = append(catalog.types, unit)
	}
	for _, unit := range catalog.types {
		for _, produced := range unit.Produces {
			if _, ok := catalog.byID[produced]; !ok {
				return nil, fmt.Errorf("unit %q produces unknown unit %q", unit.ID, produced)
			}
		}
	}
	return catalog, nil
}

// ByID resolves a boundary identifier. The returned value is a copy.
func (c *Catalog) ByID(id string) (*UnitType, bool) {
	if c == nil {
		return nil, false
	}
	idx, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	unit := c.types[idx]
	return &unit, true
}

// ByIndex resolves a hot-path index. The returned value is a copy.
func (c *Catalog) ByIndex(idx Index) (*UnitType, bool) {
	if c == nil {
		return nil, false
	}
	if idx < 0 || int(idx) >= len(c.types) {
		return nil, false
	}
	unit := c.types[idx]
	return &unit, true
}

// All returns every unit type in index order.
func (c *Catalog) All() []UnitType {
	if c == nil {
		return nil
	}
	out := make([]UnitType, len(c.types))
	copy(out, c.types)
	return out
}

// Len reports the number of unit types.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.types)
}
