package confounds

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// MissingMarker is written in place of a missing value.
const MissingMarker = "n/a"

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return MissingMarker
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteTSV writes a header row of column names followed by one row per frame.
func WriteTSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	if err := cw.Write(t.Names()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	row := make([]string, len(t.Columns))
	for f := 0; f < t.Frames; f++ {
		for c, col := range t.Columns {
			row[c] = formatValue(col.Values[f])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", f, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the table to path, creating parent directories.
func WriteFile(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteTSV(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadTSV parses a table written by WriteTSV. The missing marker reads back as NaN.
func ReadTSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse confound table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("confound table has no header")
	}

	t := &Table{Frames: len(records) - 1, Columns: make([]Column, len(records[0]))}
	for c, name := range records[0] {
		t.Columns[c] = Column{Name: name, Values: make([]float64, t.Frames)}
	}
	for f, rec := range records[1:] {
		for c, field := range rec {
			if field == MissingMarker {
				t.Columns[c].Values[f] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %s: %w", f+2, t.Columns[c].Name, err)
			}
			t.Columns[c].Values[f] = v
		}
	}
	return t, nil
}
