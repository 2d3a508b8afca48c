package table

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

const documentKind = "gratsample.table/v1"

// ErrFormat is returned by Decode for payloads that are not a valid table
// document.
var ErrFormat = errors.New("table: invalid document")

type document struct {
	Kind    string      `json:"kind"`
	Columns []docColumn `json:"columns"`
	Rows    [][]any     `json:"rows"`
}

type docColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Encode serializes t as a JSON table document.
func Encode(t *Table) ([]byte, error) {
	doc := document{
		Kind:    documentKind,
		Columns: make([]docColumn, len(t.columns)),
		Rows:    make([][]any, len(t.rows)),
	}
	for i, c := range t.columns {
		doc.Columns[i] = docColumn{Name: c.Name, Type: c.Type.String()}
	}
	for r, row := range t.rows {
		cells := make([]any, len(row))
		for i, v := range row {
			if tm, ok := v.(time.Time); ok {
				cells[i] = tm.UTC().Format(time.RFC3339Nano)
				continue
			}
			cells[i] = v
		}
		doc.Rows[r] = cells
	}
	return json.Marshal(doc)
}

// Decode parses a document produced by Encode. Any structural or typing
// problem is reported as ErrFormat.
func Decode(data []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if doc.Kind != documentKind {
		return nil, fmt.Errorf("%w: kind %q", ErrFormat, doc.Kind)
	}

	cols := make([]Column, len(doc.Columns))
	seen := map[string]bool{}
	for i, c := range doc.Columns {
		typ, err := ParseType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrFormat, c.Name)
		}
		seen[c.Name] = true
		cols[i] = Column{Name: c.Name, Type: typ}
	}

	t := New(cols...)
	for r, cells := range doc.Rows {
		if len(cells) != len(cols) {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrFormat, r, len(cells), len(cols))
		}
		row := make([]any, len(cells))
		for i, cell := range cells {
			v, err := decodeCell(cols[i].Type, cell)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %q: %v", ErrFormat, r, cols[i].Name, err)
			}
			row[i] = v
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func decodeCell(typ Type, cell any) (any, error) {
	if cell == nil {
		return nil, nil
	}
	switch typ {
	case String:
		if s, ok := cell.(string); ok {
			return s, nil
		}
	case Int:
		if n, ok := cell.(json.Number); ok {
			return n.Int64()
		}
	case Float:
		if n, ok := cell.(json.Number); ok {
			return n.Float64()
		}
	case Bool:
		if b, ok := cell.(bool); ok {
			return b, nil
		}
	case Time:
		if s, ok := cell.(string); ok {
			return time.Parse(time.RFC3339Nano, s)
		}
	}
	return nil, fmt.Errorf("unexpected %T for %s", cell, typ)
}

// Fingerprint is a content hash of columns and rows (order-sensitive).
func (t *Table) Fingerprint() uint64 {
	data, err := Encode(t)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
