package sheet

import "errors"

var ErrWorksheetNotFound = errors.New("worksheet does not exist in this source")

type (
	// Worksheet is a single named tab of a tabular source. All coordinates
	// are 1-based, and ranges use A1-style references (e.g. "A2:F10").
	Worksheet interface {
		Name() string
		ListRows() ([][]string, error)
		HeaderRow() ([]string, error)
		SetCell(row int, col int, value string) error
		AppendRow(values []string) error
		ClearRange(ref string) error
		WriteRange(ref string, values [][]string) error
	}

	// Client is the tabular source/ledger collaborator the pipeline depends
	// on. Implementations own their wire format (workbook file, remote
	// spreadsheet, ...); the core only relies on this contract.
	Client interface {
		// Worksheet returns the named tab, or ErrWorksheetNotFound.
		Worksheet(name string) (Worksheet, error)

		// DefaultWorksheet returns the first tab of the source.
		DefaultWorksheet() (Worksheet, error)

		// EnsureWorksheet finds or creates a tab with the given name. When the
		// tab is created, the provided header row is written and the
		// implementations presentation formatting is applied. The boolean
		// return indicates whether a new tab was created.
		EnsureWorksheet(name string, headers []string) (Worksheet, bool, error)

		// WorksheetNames lists the names of every tab of the source, in
		// source order.
		WorksheetNames() ([]string, error)

		// Flush persists any pending mutations to the underlying source.
		Flush() error
	}
)
