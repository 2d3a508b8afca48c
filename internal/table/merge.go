package table

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-memdb"
)

// ErrDuplicateKey is returned when a table that must be unique on a set of
// key columns holds two rows with the same key.
var ErrDuplicateKey = errors.New("table: duplicate key")

const keyTable = "rows"

var keySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		keyTable: {
			Name: keyTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
			},
		},
	},
}

type keyedRow struct {
	Key string
	Row []any
}

// keyIndex is a unique index over the encoded key columns of a table.
type keyIndex struct {
	db *memdb.MemDB
}

func buildKeyIndex(t *Table, on []string) (*keyIndex, error) {
	idx, err := t.positions(on)
	if err != nil {
		return nil, err
	}
	db, err := memdb.NewMemDB(keySchema)
	if err != nil {
		return nil, err
	}
	txn := db.Txn(true)
	defer txn.Abort()
	for _, row := range t.rows {
		key := encodeKey(pick(row, idx))
		existing, err := txn.First(keyTable, "id", key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("%w on %v: %v", ErrDuplicateKey, on, pick(row, idx))
		}
		if err := txn.Insert(keyTable, &keyedRow{Key: key, Row: row}); err != nil {
			return nil, err
		}
	}
	txn.Commit()
	return &keyIndex{db: db}, nil
}

func (k *keyIndex) lookup(key string) ([]any, bool) {
	txn := k.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(keyTable, "id", key)
	if err != nil || raw == nil {
		return nil, false
	}
	return raw.(*keyedRow).Row, true
}

// CheckUnique returns ErrDuplicateKey if two rows share the same values in
// the given columns.
func (t *Table) CheckUnique(on ...string) error {
	_, err := buildKeyIndex(t, on)
	return err
}

// LeftMerge joins right onto left by the key columns on. Every left row is
// kept, in order; right cells are null where no right row matches. right
// must be unique on the key, and its non-key columns must not already exist
// in left.
func LeftMerge(left, right *Table, on ...string) (*Table, error) {
	if len(on) == 0 {
		return nil, errors.New("table: merge without key columns")
	}
	leftIdx, err := left.positions(on)
	if err != nil {
		return nil, fmt.Errorf("left: %w", err)
	}
	if _, err := right.positions(on); err != nil {
		return nil, fmt.Errorf("right: %w", err)
	}
	for _, k := range on {
		lc, _ := left.Column(k)
		rc, _ := right.Column(k)
		if lc.Type != rc.Type {
			return nil, fmt.Errorf("table: key %q is %s on the left and %s on the right", k, lc.Type, rc.Type)
		}
	}

	isKey := make(map[string]bool, len(on))
	for _, k := range on {
		isKey[k] = true
	}
	cols := left.Columns()
	var rightPos []int
	for i, c := range right.columns {
		if isKey[c.Name] {
			continue
		}
		if left.Has(c.Name) {
			return nil, fmt.Errorf("table: column %q exists on both sides of merge", c.Name)
		}
		cols = append(cols, c)
		rightPos = append(rightPos, i)
	}

	index, err := buildKeyIndex(right, on)
	if err != nil {
		return nil, fmt.Errorf("right: %w", err)
	}

	out := New(cols...)
	out.rows = make([][]any, len(left.rows))
	for r, row := range left.rows {
		newRow := make([]any, len(cols))
		copy(newRow, row)
		if match, ok := index.lookup(encodeKey(pick(row, leftIdx))); ok {
			for i, p := range rightPos {
				newRow[len(left.columns)+i] = match[p]
			}
		}
		out.rows[r] = newRow
	}
	return out, nil
}

func (t *Table) positions(names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		p, ok := t.index[n]
		if !ok {
			return nil, fmt.Errorf("table: unknown column %q", n)
		}
		idx[i] = p
	}
	return idx, nil
}

func pick(row []any, idx []int) []any {
	out := make([]any, len(idx))
	for i, p := range idx {
		out[i] = row[p]
	}
	return out
}
