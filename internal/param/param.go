// Package param implements the Parameter Table (spec.md §3, §4.5): named
// 16-bit signed runtime values with a declared range and default, created
// on program load and destroyed on unload.
package param

import (
	"errors"
	"fmt"

	"github.com/rpled/firmware/internal/vmimage"
)

var (
	ErrUnknownParam = errors.New("param: unknown name")
	ErrOutOfRange   = errors.New("param: value out of declared range")
)

// Entry is one parameter's declared bounds and current value.
type Entry struct {
	Min, Max, Value int16
}

// Table is a program's live parameter set, populated from a Program
// Image's parameter block (vmimage.ParamDecl) at load time.
type Table struct {
	entries map[string]*Entry
	order   []string
}

// New builds a table from an image's declared parameters, seeding every
// entry at its declared default.
func New(decls []vmimage.ParamDecl) *Table {
	t := &Table{entries: make(map[string]*Entry, len(decls))}
	for _, d := range decls {
		t.entries[d.Name] = &Entry{Min: d.Min, Max: d.Max, Value: d.Default}
		t.order = append(t.order, d.Name)
	}
	return t
}

// Get returns the current value of a named parameter.
func (t *Table) Get(name string) (int16, bool) {
	e, ok := t.entries[name]
	if !ok {
		return 0, false
	}
	return e.Value, true
}

// Set validates and applies SetParameter (spec.md §4.5): an unknown name
// or an out-of-range value is rejected and the table is left unchanged.
func (t *Table) Set(name string, value int16) error {
	e, ok := t.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	if value < e.Min || value > e.Max {
		return fmt.Errorf("%w: %q value %d not in [%d,%d]", ErrOutOfRange, name, value, e.Min, e.Max)
	}
	e.Value = value
	return nil
}

// Names returns parameter names in declaration order, for QueryStatus-style
// introspection.
func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}
