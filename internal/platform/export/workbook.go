package export

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

var ErrNoSheet = errors.New("no active sheet")

// Workbook writes tabular sheets into an xlsx file, row by row.
type Workbook struct {
	file       *excelize.File
	sheet      string
	row        int
	headerCols int
	bold       int
}

func NewWorkbook() *Workbook {
	return &Workbook{file: excelize.NewFile()}
}

// AddSheet starts a new sheet and makes it current. The first call renames
// the default sheet.
func (w *Workbook) AddSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}

	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.sheet = name
	w.row = 1
	w.headerCols = 0
	return nil
}

// WriteHeader writes bold column headers and freezes them.
func (w *Workbook) WriteHeader(columns []string) error {
	if w.sheet == "" {
		return ErrNoSheet
	}
	if err := w.writeCells(stringsToValues(columns)); err != nil {
		return err
	}

	if w.bold == 0 {
		style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return fmt.Errorf("create header style: %w", err)
		}
		w.bold = style
	}
	startCell, _ := excelize.CoordinatesToCellName(1, w.row)
	endCell, _ := excelize.CoordinatesToCellName(len(columns), w.row)
	if err := w.file.SetCellStyle(w.sheet, startCell, endCell, w.bold); err != nil {
		return err
	}
	if err := w.file.SetPanes(w.sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      w.row,
		TopLeftCell: fmt.Sprintf("A%d", w.row+1),
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	w.headerCols = len(columns)
	w.row++
	return nil
}

// WriteRow writes a data row to the current sheet.
func (w *Workbook) WriteRow(values []interface{}) error {
	if w.sheet == "" {
		return ErrNoSheet
	}
	if err := w.writeCells(values); err != nil {
		return err
	}
	w.row++
	return nil
}

// SetColumnWidths sets widths starting at column A.
func (w *Workbook) SetColumnWidths(widths ...float64) error {
	if w.sheet == "" {
		return ErrNoSheet
	}
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := w.file.SetColWidth(w.sheet, col, col, width); err != nil {
			return err
		}
	}
	return nil
}

// SetActive makes the named sheet the one shown when the file is opened.
func (w *Workbook) SetActive(name string) error {
	idx, err := w.file.GetSheetIndex(name)
	if err != nil {
		return err
	}
	if idx < 0 {
		return fmt.Errorf("sheet %s not found", name)
	}
	w.file.SetActiveSheet(idx)
	return nil
}

func (w *Workbook) writeCells(values []interface{}) error {
	for i, val := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, w.row)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.sheet, cell, val); err != nil {
			return err
		}
	}
	return nil
}

// Write streams the workbook to wr.
func (w *Workbook) Write(wr io.Writer) error {
	return w.file.Write(wr)
}

func (w *Workbook) SaveAs(path string) error {
	return w.file.SaveAs(path)
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

func stringsToValues(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
