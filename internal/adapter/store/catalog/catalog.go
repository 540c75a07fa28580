// Package catalog provides the static tables of the reanalysis archive:
// variables, models, levels, data types, model bounds and the years each
// combination is offered for.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"go.ngs.io/cams-clip/internal/domain"
)

//go:embed catalog.toml
var embedded string

// Variable is a pollutant on offer.
type Variable struct {
	Display       string `toml:"display" json:"display"`
	API           string `toml:"api" json:"api"`
	NetCDF        string `toml:"netcdf" json:"netcdf"`
	ValidatedOnly bool   `toml:"validated_only" json:"validated_only,omitempty"`
}

// Entry pairs a display label with its archive request value.
type Entry struct {
	Display string `toml:"display" json:"display"`
	API     string `toml:"api" json:"api"`
}

type availability struct {
	Variable string           `toml:"variable"`
	Type     string           `toml:"type"`
	Years    []int            `toml:"years"`
	Models   map[string][]int `toml:"models"`
}

type document struct {
	Dataset      string             `toml:"dataset"`
	DefaultDir   string             `toml:"default_dir"`
	FirstYear    int                `toml:"first_year"`
	LastYear     int                `toml:"last_year"`
	Levels       []string           `toml:"levels"`
	Bounds       domain.BoundingBox `toml:"bounds"`
	Variables    []Variable         `toml:"variables"`
	Models       []Entry            `toml:"models"`
	Types        []Entry            `toml:"types"`
	Availability []availability     `toml:"availability"`
}

type yearRange struct{ from, to int }

type comboKey struct{ variable, model, dataType string }

// Catalog is immutable after Load and safe for concurrent use.
type Catalog struct {
	doc   document
	years map[comboKey]yearRange
}

// Load decodes the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(embedded)
}

// Parse decodes a catalog document.
func Parse(data string) (*Catalog, error) {
	var doc document
	md, err := toml.Decode(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown catalog keys: %v", undecoded)
	}

	c := &Catalog{doc: doc, years: make(map[comboKey]yearRange)}
	for i, a := range doc.Availability {
		if _, ok := c.Variable(a.Variable); !ok {
			return nil, fmt.Errorf("availability %d: unknown variable %q", i, a.Variable)
		}
		if _, ok := c.Type(a.Type); !ok {
			return nil, fmt.Errorf("availability %d: unknown data type %q", i, a.Type)
		}
		def, err := toRange(a.Years)
		if err != nil {
			return nil, fmt.Errorf("availability %d (%s, %s): %w", i, a.Variable, a.Type, err)
		}
		for _, m := range doc.Models {
			c.years[comboKey{a.Variable, m.API, a.Type}] = def
		}
		for model, ys := range a.Models {
			if _, ok := c.Model(model); !ok {
				return nil, fmt.Errorf("availability %d: unknown model %q", i, model)
			}
			r, err := toRange(ys)
			if err != nil {
				return nil, fmt.Errorf("availability %d (%s, %s, %s): %w", i, a.Variable, model, a.Type, err)
			}
			c.years[comboKey{a.Variable, model, a.Type}] = r
		}
	}
	return c, nil
}

func toRange(ys []int) (yearRange, error) {
	if len(ys) != 2 || ys[0] > ys[1] {
		return yearRange{}, fmt.Errorf("year range must be [from, to], got %v", ys)
	}
	return yearRange{from: ys[0], to: ys[1]}, nil
}

// Dataset returns the archive dataset name.
func (c *Catalog) Dataset() string { return c.doc.Dataset }

// Bounds returns the extent covered by the regional models.
func (c *Catalog) Bounds() domain.BoundingBox { return c.doc.Bounds }

// Levels returns the vertical levels in metres.
func (c *Catalog) Levels() []string { return append([]string(nil), c.doc.Levels...) }

// Variables returns every variable in display order.
func (c *Catalog) Variables() []Variable { return append([]Variable(nil), c.doc.Variables...) }

// Models returns every model in display order.
func (c *Catalog) Models() []Entry { return append([]Entry(nil), c.doc.Models...) }

// Types returns every data type.
func (c *Catalog) Types() []Entry { return append([]Entry(nil), c.doc.Types...) }

// YearSpan returns the first and last year of the archive.
func (c *Catalog) YearSpan() (int, int) { return c.doc.FirstYear, c.doc.LastYear }

// Variable looks up a variable by its request value.
func (c *Catalog) Variable(api string) (Variable, bool) {
	for _, v := range c.doc.Variables {
		if v.API == api {
			return v, true
		}
	}
	return Variable{}, false
}

// VariableByDisplay looks up a variable by its display label.
func (c *Catalog) VariableByDisplay(display string) (Variable, bool) {
	for _, v := range c.doc.Variables {
		if v.Display == display {
			return v, true
		}
	}
	return Variable{}, false
}

// Model looks up a model by its request value.
func (c *Catalog) Model(api string) (Entry, bool) {
	return find(c.doc.Models, api)
}

// Type looks up a data type by its request value.
func (c *Catalog) Type(api string) (Entry, bool) {
	return find(c.doc.Types, api)
}

func find(entries []Entry, api string) (Entry, bool) {
	for _, e := range entries {
		if e.API == api {
			return e, true
		}
	}
	return Entry{}, false
}

// HasLevel reports whether level is offered.
func (c *Catalog) HasLevel(level string) bool {
	for _, l := range c.doc.Levels {
		if l == level {
			return true
		}
	}
	return false
}

// Availability returns the years offered for a combination, oldest
// first. Unknown combinations have none.
func (c *Catalog) Availability(variable, model, dataType string) []string {
	r, ok := c.years[comboKey{variable, model, dataType}]
	if !ok {
		return nil
	}
	out := make([]string, 0, r.to-r.from+1)
	for y := r.from; y <= r.to; y++ {
		out = append(out, strconv.Itoa(y))
	}
	return out
}

// Available reports whether year is offered for a combination.
func (c *Catalog) Available(variable, model, dataType, year string) bool {
	y, err := strconv.Atoi(year)
	if err != nil {
		return false
	}
	r, ok := c.years[comboKey{variable, model, dataType}]
	return ok && y >= r.from && y <= r.to
}

// Covers reports whether box lies inside the model bounds.
func (c *Catalog) Covers(box domain.BoundingBox) bool {
	b := c.doc.Bounds
	return box.South >= b.South && box.North <= b.North && box.West >= b.West && box.East <= b.East
}

// DefaultDir returns the default download directory with ~ expanded.
func (c *Catalog) DefaultDir() string {
	dir := c.doc.DefaultDir
	if rest, ok := strings.CutPrefix(dir, "~"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return dir
}
