// Package ledger maintains the per-category submission log: one worksheet
// per category, append-only rows, kept canonically sorted after every
// append.
package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hbomb79/Muse/internal/sheet"
	"github.com/hbomb79/Muse/pkg/logger"
)

var log = logger.Get("Ledger")

// Headers is the fixed header row applied to every category worksheet.
var Headers = []string{"Timestamp", "Partnership", "Division", "Routine Name", "Descriptor", "Version"}

const (
	partnershipColumn = 1
	versionColumn     = 5
)

type (
	// Row is one completed-transfer entry of the submission log.
	Row struct {
		Timestamp   string `json:"timestamp"`
		Partnership string `json:"partnership"`
		Division    string `json:"division"`
		RoutineName string `json:"routine_name"`
		Descriptor  string `json:"descriptor"`
		Version     int    `json:"version"`
	}

	// Writer owns the ledger: no other component may mutate it. The
	// ledger is a secondary, reconstructible view of the archive; every
	// operation here is expected to be treated as best-effort by callers.
	Writer struct {
		client sheet.Client
	}
)

func NewWriter(client sheet.Client) *Writer {
	return &Writer{client: client}
}

func (row Row) values() []string {
	return []string{
		row.Timestamp,
		row.Partnership,
		strings.TrimSpace(row.Division),
		strings.TrimSpace(row.RoutineName),
		strings.TrimSpace(row.Descriptor),
		strconv.Itoa(row.Version),
	}
}

// EnsureCategory finds or creates the worksheet for the named category.
// Newly created worksheets receive the standard header row and the
// clients presentation formatting; existing worksheets have their header
// row repaired if it has drifted.
func (writer *Writer) EnsureCategory(name string) (sheet.Worksheet, error) {
	ws, created, err := writer.client.EnsureWorksheet(name, Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure ledger category '%s': %w", name, err)
	}

	if created {
		log.Emit(logger.NEW, "Created ledger category '%s'\n", name)
		return ws, nil
	}

	existing, err := ws.HeaderRow()
	if err != nil {
		return nil, fmt.Errorf("failed to read header row for ledger category '%s': %w", name, err)
	}

	if !headersMatch(existing) {
		log.Emit(logger.WARNING, "Header row of ledger category '%s' has drifted; rewriting\n", name)
		if err := ws.WriteRange(headerRangeRef(), [][]string{Headers}); err != nil {
			return nil, fmt.Errorf("failed to repair header row for ledger category '%s': %w", name, err)
		}
	}

	return ws, nil
}

// AppendAndResort appends the row to the category worksheet and then
// rewrites the data region in canonical order: partnership ascending
// (case-insensitive), version descending. A failure during the resort is
// logged and swallowed - the appended row remains present, unsorted, until
// the next successful resort - but a failure of the append itself is
// returned to the caller.
func (writer *Writer) AppendAndResort(ws sheet.Worksheet, row Row) error {
	if err := ws.AppendRow(row.values()); err != nil {
		return fmt.Errorf("failed to append to ledger category '%s': %w", ws.Name(), err)
	}

	if err := writer.resort(ws); err != nil {
		log.Emit(logger.WARNING, "Failed to resort ledger category '%s' after append: %v\n", ws.Name(), err)
	}

	return nil
}

// Snapshot reads every category worksheet into memory, keyed by category
// name. Blank rows are dropped; short rows are padded. Categories whose
// rows cannot be read fail the whole snapshot, as a partial snapshot is
// worse than none.
func (writer *Writer) Snapshot() (map[string][]Row, error) {
	names, err := writer.client.WorksheetNames()
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger categories: %w", err)
	}

	snapshot := make(map[string][]Row, len(names))
	for _, name := range names {
		ws, err := writer.client.Worksheet(name)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger category '%s': %w", name, err)
		}

		values, err := ws.ListRows()
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger category '%s': %w", name, err)
		}

		rows := make([]Row, 0)
		if len(values) > 1 {
			for _, raw := range values[1:] {
				if isBlankRow(raw) {
					continue
				}

				for len(raw) < len(Headers) {
					raw = append(raw, "")
				}

				rows = append(rows, Row{
					Timestamp:   raw[0],
					Partnership: raw[1],
					Division:    raw[2],
					RoutineName: raw[3],
					Descriptor:  raw[4],
					Version:     versionOf(raw),
				})
			}
		}

		snapshot[name] = rows
	}

	return snapshot, nil
}

func (writer *Writer) resort(ws sheet.Worksheet) error {
	values, err := ws.ListRows()
	if err != nil {
		return err
	}

	if len(values) <= 2 {
		return nil
	}

	dataRows := make([][]string, 0, len(values)-1)
	for _, row := range values[1:] {
		if isBlankRow(row) {
			continue
		}

		for len(row) < len(Headers) {
			row = append(row, "")
		}
		dataRows = append(dataRows, row)
	}

	if len(dataRows) == 0 {
		return nil
	}

	sort.SliceStable(dataRows, func(i, j int) bool {
		left, right := partnershipKey(dataRows[i]), partnershipKey(dataRows[j])
		if left != right {
			return left < right
		}

		return versionOf(dataRows[i]) > versionOf(dataRows[j])
	})

	ref := dataRangeRef(len(dataRows))
	if err := ws.ClearRange(ref); err != nil {
		return err
	}

	return ws.WriteRange(ref, dataRows)
}

func headersMatch(existing []string) bool {
	if len(existing) < len(Headers) {
		return false
	}

	for idx, header := range Headers {
		if existing[idx] != header {
			return false
		}
	}

	return true
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}

	return true
}

func partnershipKey(row []string) string {
	return strings.ToLower(strings.TrimSpace(row[partnershipColumn]))
}

func versionOf(row []string) int {
	version, err := strconv.Atoi(strings.TrimSpace(row[versionColumn]))
	if err != nil {
		return 0
	}

	return version
}

// headerRangeRef is the A1-style reference of the header row ("A1:F1").
func headerRangeRef() string {
	return fmt.Sprintf("A1:%c1", 'A'+len(Headers)-1)
}

// dataRangeRef is the A1-style reference of the data region holding the
// given number of rows ("A2:F<N+1>").
func dataRangeRef(rows int) string {
	return fmt.Sprintf("A2:%c%d", 'A'+len(Headers)-1, rows+1)
}
