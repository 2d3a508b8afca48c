package table

import (
	"encoding/csv"
	"io"
)

// WriteCSV writes a header row followed by every row. Nulls are empty
// cells, bools are True/False and times use "2006-01-02 15:04:05".
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Names()); err != nil {
		return err
	}
	record := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, v := range row {
			record[i] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
