package table

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"
	"time"
)

// Filter returns the rows for which keep returns true.
func (t *Table) Filter(keep func(Record) bool) *Table {
	out := New(t.columns...)
	for _, row := range t.rows {
		if keep(Record{t: t, row: row}) {
			out.rows = append(out.rows, row)
		}
	}
	return out
}

// WithColumn returns a table with col computed by fn for every row. An
// existing column of the same name is replaced in place.
func (t *Table) WithColumn(col Column, fn func(Record) (any, error)) (*Table, error) {
	cols := t.Columns()
	pos, exists := t.index[col.Name]
	if exists {
		cols[pos] = col
	} else {
		pos = len(cols)
		cols = append(cols, col)
	}
	out := New(cols...)
	out.rows = make([][]any, len(t.rows))
	for r, row := range t.rows {
		v, err := fn(Record{t: t, row: row})
		if err != nil {
			return nil, err
		}
		nv, err := normalize(col.Type, v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		newRow := make([]any, len(cols))
		copy(newRow, row)
		newRow[pos] = nv
		out.rows[r] = newRow
	}
	return out, nil
}

// WithConst returns a table with col set to v on every row.
func (t *Table) WithConst(col Column, v any) (*Table, error) {
	return t.WithColumn(col, func(Record) (any, error) { return v, nil })
}

// Select returns only the named columns, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]Column, len(names))
	idx := make([]int, len(names))
	for i, n := range names {
		p, ok := t.index[n]
		if !ok {
			return nil, fmt.Errorf("table: unknown column %q", n)
		}
		cols[i] = t.columns[p]
		idx[i] = p
	}
	out := New(cols...)
	out.rows = make([][]any, len(t.rows))
	for r, row := range t.rows {
		newRow := make([]any, len(idx))
		for i, p := range idx {
			newRow[i] = row[p]
		}
		out.rows[r] = newRow
	}
	return out, nil
}

// Concat stacks tables. The result has the union of all columns in order of
// first appearance; cells of columns a table lacks are null. A column whose
// type differs between tables is an error.
func Concat(tables ...*Table) (*Table, error) {
	var cols []Column
	seen := map[string]Type{}
	for _, t := range tables {
		for _, c := range t.columns {
			if typ, ok := seen[c.Name]; ok {
				if typ != c.Type {
					return nil, fmt.Errorf("table: column %q is %s and %s", c.Name, typ, c.Type)
				}
				continue
			}
			seen[c.Name] = c.Type
			cols = append(cols, c)
		}
	}
	out := New(cols...)
	for _, t := range tables {
		for _, row := range t.rows {
			newRow := make([]any, len(cols))
			for i, c := range cols {
				if p, ok := t.index[c.Name]; ok {
					newRow[i] = row[p]
				}
			}
			out.rows = append(out.rows, newRow)
		}
	}
	return out, nil
}

// Group is the set of rows sharing one key.
type Group struct {
	Key   []any
	Table *Table
}

// GroupBy partitions rows by the given columns. Groups are ordered by key
// (nulls first); rows keep their order within a group.
func (t *Table) GroupBy(cols ...string) ([]Group, error) {
	idx := make([]int, len(cols))
	for i, n := range cols {
		p, ok := t.index[n]
		if !ok {
			return nil, fmt.Errorf("table: unknown column %q", n)
		}
		idx[i] = p
	}

	byKey := map[string]*Group{}
	var order []*Group
	for _, row := range t.rows {
		key := make([]any, len(idx))
		for i, p := range idx {
			key[i] = row[p]
		}
		enc := encodeKey(key)
		g, ok := byKey[enc]
		if !ok {
			g = &Group{Key: key, Table: New(t.columns...)}
			byKey[enc] = g
			order = append(order, g)
		}
		g.Table.rows = append(g.Table.rows, row)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return compareKeys(order[i].Key, order[j].Key) < 0
	})
	groups := make([]Group, len(order))
	for i, g := range order {
		groups[i] = *g
	}
	return groups, nil
}

// Sample draws min(n, Len()) rows uniformly without replacement. The draw is
// a pure function of (rows, n, seed); picked rows keep their input order.
func (t *Table) Sample(n int, seed uint64) *Table {
	out := New(t.columns...)
	if n <= 0 {
		return out
	}
	if n >= len(t.rows) {
		out.rows = append(out.rows, t.rows...)
		return out
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	picked := rng.Perm(len(t.rows))[:n]
	slices.Sort(picked)
	for _, i := range picked {
		out.rows = append(out.rows, t.rows[i])
	}
	return out
}

// encodeKey renders a composite key with type tags so that, e.g., the
// string "1" and the int 1 never collide.
func encodeKey(values []any) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		switch x := v.(type) {
		case nil:
			b.WriteString("n:")
		case string:
			b.WriteString("s:")
			b.WriteString(x)
		case int64:
			b.WriteString("i:")
			b.WriteString(formatValue(x))
		case float64:
			b.WriteString("f:")
			b.WriteString(formatValue(x))
		case bool:
			b.WriteString("b:")
			b.WriteString(formatValue(x))
		case time.Time:
			b.WriteString("t:")
			b.WriteString(x.UTC().Format(time.RFC3339Nano))
		default:
			fmt.Fprintf(&b, "?:%v", x)
		}
	}
	return b.String()
}

func compareKeys(a, b []any) int {
	for i := range a {
		if c := compareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
