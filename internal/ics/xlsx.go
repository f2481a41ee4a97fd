package ics

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	appLog "nlcal/internal/log"
	"nlcal/internal/model"
)

const xlsxSheet = "Events"

// WriteXLSX writes events as a single-sheet workbook with the CSV columns.
func WriteXLSX(w io.Writer, events []model.CalendarEvent) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			appLog.Error("xlsx: close workbook", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("xlsx: rename sheet: %w", err)
	}
	if err := setRow(f, 1, Columns); err != nil {
		return fmt.Errorf("xlsx: header: %w", err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(xlsxSheet, 1, 1, style)
	}

	for i, ev := range events {
		if err := setRow(f, i+2, Row(ev)); err != nil {
			return fmt.Errorf("xlsx: row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(xlsxSheet, "A", "B", 24)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx: write: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []string) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(xlsxSheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}
