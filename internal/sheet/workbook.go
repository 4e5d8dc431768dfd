package sheet

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hbomb79/Muse/pkg/logger"
	"github.com/xuri/excelize/v2"
)

var workbookLogger = logger.Get("Workbook")

// Workbook is an xlsx-backed implementation of the tabular Client,
// suitable for both the intake source and the submission ledger. A
// workbook assumes a single writer process; no file locking is performed.
type Workbook struct {
	path string
	file *excelize.File
}

type workbookSheet struct {
	book *Workbook
	name string
}

// OpenWorkbook opens the workbook at the given path, creating a new
// empty workbook file if one does not yet exist.
func OpenWorkbook(path string) (*Workbook, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		file := excelize.NewFile()
		if err := file.SaveAs(path); err != nil {
			return nil, fmt.Errorf("failed to create workbook '%s': %w", path, err)
		}

		workbookLogger.Emit(logger.NEW, "Created new workbook at %s\n", path)
		return &Workbook{path: path, file: file}, nil
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook '%s': %w", path, err)
	}

	return &Workbook{path: path, file: file}, nil
}

func (book *Workbook) Worksheet(name string) (Worksheet, error) {
	idx, err := book.file.GetSheetIndex(name)
	if err != nil {
		return nil, err
	} else if idx < 0 {
		return nil, ErrWorksheetNotFound
	}

	return &workbookSheet{book: book, name: name}, nil
}

func (book *Workbook) DefaultWorksheet() (Worksheet, error) {
	sheets := book.file.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrWorksheetNotFound
	}

	return &workbookSheet{book: book, name: sheets[0]}, nil
}

func (book *Workbook) EnsureWorksheet(name string, headers []string) (Worksheet, bool, error) {
	if ws, err := book.Worksheet(name); err == nil {
		return ws, false, nil
	} else if !errors.Is(err, ErrWorksheetNotFound) {
		return nil, false, err
	}

	if _, err := book.file.NewSheet(name); err != nil {
		return nil, false, fmt.Errorf("failed to create worksheet '%s': %w", name, err)
	}

	ws := &workbookSheet{book: book, name: name}
	for col, header := range headers {
		if err := ws.SetCell(1, col+1, header); err != nil {
			return nil, false, err
		}
	}

	if err := book.applyHeaderFormatting(name, len(headers)); err != nil {
		// Presentation only; a tab with unstyled headers is still usable.
		workbookLogger.Emit(logger.WARNING, "Failed to apply formatting to new worksheet '%s': %v\n", name, err)
	}

	return ws, true, nil
}

func (book *Workbook) WorksheetNames() ([]string, error) {
	return book.file.GetSheetList(), nil
}

func (book *Workbook) Flush() error {
	return book.file.Save()
}

// applyHeaderFormatting emboldens the header row and freezes it in
// place so it survives scrolling and sorting in spreadsheet UIs.
func (book *Workbook) applyHeaderFormatting(name string, headerLen int) error {
	if headerLen == 0 {
		return nil
	}

	style, err := book.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	lastCell, err := excelize.CoordinatesToCellName(headerLen, 1)
	if err != nil {
		return err
	}

	if err := book.file.SetCellStyle(name, "A1", lastCell, style); err != nil {
		return err
	}

	return book.file.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func (ws *workbookSheet) Name() string { return ws.name }

func (ws *workbookSheet) ListRows() ([][]string, error) {
	return ws.book.file.GetRows(ws.name)
}

func (ws *workbookSheet) HeaderRow() ([]string, error) {
	rows, err := ws.ListRows()
	if err != nil {
		return nil, err
	} else if len(rows) == 0 {
		return []string{}, nil
	}

	return rows[0], nil
}

func (ws *workbookSheet) SetCell(row int, col int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}

	return ws.book.file.SetCellStr(ws.name, cell, value)
}

func (ws *workbookSheet) AppendRow(values []string) error {
	rows, err := ws.ListRows()
	if err != nil {
		return err
	}

	rowNum := len(rows) + 1
	for col, value := range values {
		if err := ws.SetCell(rowNum, col+1, value); err != nil {
			return err
		}
	}

	return nil
}

func (ws *workbookSheet) ClearRange(ref string) error {
	startCol, startRow, endCol, endRow, err := rangeBounds(ref)
	if err != nil {
		return err
	}

	for row := startRow; row <= endRow; row++ {
		for col := startCol; col <= endCol; col++ {
			if err := ws.SetCell(row, col, ""); err != nil {
				return err
			}
		}
	}

	return nil
}

func (ws *workbookSheet) WriteRange(ref string, values [][]string) error {
	startCol, startRow, _, _, err := rangeBounds(ref)
	if err != nil {
		return err
	}

	for r, rowValues := range values {
		for c, value := range rowValues {
			if err := ws.SetCell(startRow+r, startCol+c, value); err != nil {
				return err
			}
		}
	}

	return nil
}

// rangeBounds resolves an A1-style range reference to it's 1-based
// coordinate corners. Single-cell references (e.g. "B3") are accepted and
// treated as a 1x1 range.
func rangeBounds(ref string) (startCol int, startRow int, endCol int, endRow int, err error) {
	corners := strings.SplitN(ref, ":", 2)

	startCol, startRow, err = excelize.CellNameToCoordinates(corners[0])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("invalid range reference '%s': %w", ref, err)
	}

	if len(corners) == 1 {
		return startCol, startRow, startCol, startRow, nil
	}

	endCol, endRow, err = excelize.CellNameToCoordinates(corners[1])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("invalid range reference '%s': %w", ref, err)
	}

	return startCol, startRow, endCol, endRow, nil
}
