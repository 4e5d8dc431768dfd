package submission

import (
	"fmt"
	"strings"

	"github.com/hbomb79/Muse/internal/sheet"
)

type (
	// ScannedRow is one intake row awaiting processing. Position is the
	// 1-based index of the row in the data region of the source (the header
	// row is excluded from the count). Fields holds the raw input cells,
	// padded with empty strings up to the schema's input column count.
	ScannedRow struct {
		Position int
		Fields   []string
	}

	// Scanner reads the intake source and yields only rows not yet marked
	// committed. A scanner never mutates the source except through
	// MarkCommitted, and each call to Unprocessed re-reads the source in
	// full, so a scan may be restarted at any time.
	Scanner struct {
		ws     sheet.Worksheet
		schema Schema
	}
)

func NewScanner(ws sheet.Worksheet, schema Schema) *Scanner {
	return &Scanner{ws: ws, schema: schema}
}

// Unprocessed returns every data row whose commit flag is unset or not
// equal to the schema's commit marker, in source order. Rows shorter than
// the expected column count are padded with empty trailing cells. If the
// source cannot be read at all the error is returned and no rows are
// yielded; a partially-readable source is never silently skipped over.
func (scanner *Scanner) Unprocessed() ([]ScannedRow, error) {
	values, err := scanner.ws.ListRows()
	if err != nil {
		return nil, fmt.Errorf("failed to read intake source: %w", err)
	}

	if len(values) <= 1 {
		return []ScannedRow{}, nil
	}

	commitCol := scanner.schema.CommitColumn()
	marker := strings.ToUpper(scanner.schema.CommitMarker)

	unprocessed := make([]ScannedRow, 0)
	for idx, row := range values[1:] {
		for len(row) < commitCol {
			row = append(row, "")
		}

		if strings.ToUpper(strings.TrimSpace(row[commitCol-1])) == marker {
			continue
		}

		unprocessed = append(unprocessed, ScannedRow{
			Position: idx + 1,
			Fields:   row[:scanner.schema.InputColumnCount()],
		})
	}

	return unprocessed, nil
}

// MarkCommitted writes the schema's commit marker to the commit column of
// the row at the given data-region position. This is the ONLY mutation the
// scanner ever performs against the source, and callers must only invoke it
// once the row's full pipeline has succeeded.
func (scanner *Scanner) MarkCommitted(position int) error {
	// +1 converts the data-region position back to a worksheet row
	// (the header occupies row 1).
	return scanner.ws.SetCell(position+1, scanner.schema.CommitColumn(), scanner.schema.CommitMarker)
}

// Schema exposes the schema this scanner was configured with.
func (scanner *Scanner) Schema() Schema {
	return scanner.schema
}
