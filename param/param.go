// Package param implements the parameter store of a node: a fixed table of
// named values addressed by fast index, each carrying a stable identifier
// that survives firmware rebuilds. Values are held as Q5 fixed point.
package param

import (
	"errors"
	"fmt"
)

// ErrValueOutOfRange is returned by Set calls whose value violates the
// parameter's min/max attributes.
var ErrValueOutOfRange = errors.New("value out of range")

// ErrUnknownParam is returned when an index does not denote any entry of the
// table.
var ErrUnknownParam = errors.New("unknown parameter")

// Attributes describes one table entry. ID is the stable identifier persisted
// to flash and used by the configuration protocol's 0x2001 index; it must be
// unique within a table and must not change across firmware versions even
// when the entry's position (its fast index) does.
type Attributes struct {
	Name    string
	ID      uint16
	Unit    string
	Min     float32
	Max     float32
	Default float32
	// IsParam marks a managed parameter: settable, range checked, fixed
	// point. Entries with IsParam false are ad-hoc spot values fed from
	// measurements or the bus, with no range enforcement.
	IsParam bool
}

// Table is an in-memory parameter store.
type Table struct {
	defs   []Attributes
	values []int32
}

// NewTable creates a store holding the given definitions, each initialized to
// its default value.
func NewTable(defs []Attributes) (*Table, error) {
	seen := make(map[uint16]struct{}, len(defs))
	values := make([]int32, len(defs))
	for i, d := range defs {
		if _, ok := seen[d.ID]; ok {
			return nil, fmt.Errorf("duplicate stable id %d (%s)", d.ID, d.Name)
		}
		seen[d.ID] = struct{}{}
		values[i] = FromFloat(d.Default)
	}
	return &Table{defs: defs, values: values}, nil
}

// Count returns the number of entries. Indices in [0, Count()) are valid;
// Count() itself serves as the inert "invalid" index.
func (t *Table) Count() int { return len(t.defs) }

// IsParam reports whether index denotes a managed parameter.
func (t *Table) IsParam(index int) bool {
	return index >= 0 && index < len(t.defs) && t.defs[index].IsParam
}

// SetFixed sets a value from its fixed point representation. Managed
// parameters are range checked against their attributes; out of range values
// are rejected without touching the stored value.
func (t *Table) SetFixed(index int, value int32) error {
	if index < 0 || index >= len(t.defs) {
		return ErrUnknownParam
	}
	d := t.defs[index]
	if d.IsParam && (value < FromFloat(d.Min) || value > FromFloat(d.Max)) {
		return ErrValueOutOfRange
	}
	t.values[index] = value
	return nil
}

// SetFloat sets a value without range checking. Out of table indices are
// ignored.
func (t *Table) SetFloat(index int, value float32) {
	if index < 0 || index >= len(t.values) {
		return
	}
	t.values[index] = FromFloat(value)
}

// GetFixed returns the fixed point value, or 0 for an invalid index.
func (t *Table) GetFixed(index int) int32 {
	if index < 0 || index >= len(t.values) {
		return 0
	}
	return t.values[index]
}

// GetFloat returns the value as a float, or 0 for an invalid index.
func (t *Table) GetFloat(index int) float32 {
	return ToFloat(t.GetFixed(index))
}

// StableID returns the stable identifier of the entry at index, or 0xFFFF for
// an invalid index.
func (t *Table) StableID(index int) uint16 {
	if index < 0 || index >= len(t.defs) {
		return 0xFFFF
	}
	return t.defs[index].ID
}

// IndexOfStableID resolves a stable identifier to the entry's fast index.
// Unknown identifiers resolve to Count().
func (t *Table) IndexOfStableID(id uint16) int {
	for i := range t.defs {
		if t.defs[i].ID == id {
			return i
		}
	}
	return len(t.defs)
}

// IndexOfName resolves a name to the entry's fast index, or Count() when no
// entry has that name.
func (t *Table) IndexOfName(name string) int {
	for i := range t.defs {
		if t.defs[i].Name == name {
			return i
		}
	}
	return len(t.defs)
}

// Attributes returns the definition of the entry at index.
func (t *Table) Attributes(index int) (Attributes, bool) {
	if index < 0 || index >= len(t.defs) {
		return Attributes{}, false
	}
	return t.defs[index], true
}
