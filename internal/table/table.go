// Package table implements the typed, row-oriented tables that flow
// through the feature pipeline and the cache.
//
// Tables are values: every operation except Append returns a new table and
// leaves its receiver untouched, so a table handed out by the cache can be
// shared safely as long as nobody appends to it.
package table

import (
	"fmt"
	"time"
)

// Table is an ordered set of typed columns and rows of cells.
type Table struct {
	columns []Column
	index   map[string]int
	rows    [][]any
}

// New creates an empty table. It panics on duplicate column names.
func New(cols ...Column) *Table {
	t := &Table{
		columns: make([]Column, len(cols)),
		index:   make(map[string]int, len(cols)),
	}
	copy(t.columns, cols)
	for i, c := range cols {
		if _, dup := t.index[c.Name]; dup {
			panic(fmt.Sprintf("table: duplicate column %q", c.Name))
		}
		t.index[c.Name] = i
	}
	return t
}

// Columns returns a copy of the column list.
func (t *Table) Columns() []Column {
	cols := make([]Column, len(t.columns))
	copy(cols, t.columns)
	return cols
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

// Has reports whether the table has a column called name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Append adds one row. Values are positional and converted to the column
// types; a wrong arity or type is an error and leaves the table unchanged.
func (t *Table) Append(values ...any) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("table: append %d values to %d columns", len(values), len(t.columns))
	}
	row := make([]any, len(values))
	for i, v := range values {
		nv, err := normalize(t.columns[i].Type, v)
		if err != nil {
			return fmt.Errorf("column %q: %w", t.columns[i].Name, err)
		}
		row[i] = nv
	}
	t.rows = append(t.rows, row)
	return nil
}

// AppendMap adds one row from a name→value map. Missing columns are null;
// names that are not columns are an error.
func (t *Table) AppendMap(m map[string]any) error {
	values := make([]any, len(t.columns))
	for name, v := range m {
		i, ok := t.index[name]
		if !ok {
			return fmt.Errorf("table: unknown column %q", name)
		}
		values[i] = v
	}
	return t.Append(values...)
}

// Rec returns an accessor for row i.
func (t *Table) Rec(i int) Record {
	return Record{t: t, row: t.rows[i]}
}

// Records returns accessors for all rows in order.
func (t *Table) Records() []Record {
	recs := make([]Record, len(t.rows))
	for i, row := range t.rows {
		recs[i] = Record{t: t, row: row}
	}
	return recs
}

// Values returns the cells of one column. Unknown columns yield nil.
func (t *Table) Values(name string) []any {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	out := make([]any, len(t.rows))
	for r, row := range t.rows {
		out[r] = row[i]
	}
	return out
}

// Clone returns a copy that shares no row storage with t.
func (t *Table) Clone() *Table {
	c := New(t.columns...)
	c.rows = make([][]any, len(t.rows))
	for i, row := range t.rows {
		c.rows[i] = append([]any(nil), row...)
	}
	return c
}

// Equal reports whether both tables have the same columns and the same rows
// in the same order.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.columns) != len(o.columns) || len(t.rows) != len(o.rows) {
		return false
	}
	for i := range t.columns {
		if t.columns[i] != o.columns[i] {
			return false
		}
	}
	for r := range t.rows {
		for c := range t.rows[r] {
			if !equalValues(t.rows[r][c], o.rows[r][c]) {
				return false
			}
		}
	}
	return true
}

// Record is a read-only view of one row.
type Record struct {
	t   *Table
	row []any
}

// Get returns the cell for column name, or nil if null or unknown.
func (r Record) Get(name string) any {
	i, ok := r.t.index[name]
	if !ok {
		return nil
	}
	return r.row[i]
}

// IsNull reports whether the cell is null (or the column is unknown).
func (r Record) IsNull(name string) bool { return r.Get(name) == nil }

func (r Record) String(name string) (string, bool) {
	v, ok := r.Get(name).(string)
	return v, ok
}

func (r Record) Int(name string) (int64, bool) {
	v, ok := r.Get(name).(int64)
	return v, ok
}

func (r Record) Float(name string) (float64, bool) {
	switch v := r.Get(name).(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func (r Record) Bool(name string) (bool, bool) {
	v, ok := r.Get(name).(bool)
	return v, ok
}

func (r Record) Time(name string) (time.Time, bool) {
	v, ok := r.Get(name).(time.Time)
	return v, ok
}
