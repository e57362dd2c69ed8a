package excel

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"hospital-radius/internal/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format (expected .csv or .xlsx)")
	ErrEmptyTable        = errors.New("file has no header row")
)

// ReadTable decodes an uploaded CSV or XLSX file. For workbooks the first
// sheet is read unless sheet is given.
func ReadTable(filename string, data []byte, sheet string) (*models.RawTable, error) {
	var (
		rows [][]string
		err  error
	)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		rows, err = readCSV(data)
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(data, sheet)
	default:
		return nil, fmt.Errorf("%s: %w", filename, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("reading %s: %w", filename, ErrEmptyTable)
	}

	return &models.RawTable{
		Source: filename,
		Header: rows[0],
		Rows:   rows[1:],
	}, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

func readWorkbook(data []byte, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptyTable
		}
		sheet = sheets[0]
	}

	// Raw values keep full coordinate precision regardless of cell format.
	return f.GetRows(sheet, excelize.Options{RawCellValue: true})
}

// WriteResult writes the filtered records and their summary as an xlsx
// workbook to w.
func WriteResult(w io.Writer, data []models.HospitalRecord, stats models.Stats, sheetName string) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheetName != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheetName); err != nil {
			return err
		}
	}

	// Use Stream Writer for performance
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return err
	}

	headers := []interface{}{
		models.ColumnName, models.ColumnBeds, models.ColumnLatitude, models.ColumnLongitude,
		"Distance (miles)",
	}
	if err := sw.SetRow("A1", headers); err != nil {
		return err
	}

	rowNum := 2
	for _, r := range data {
		cell, _ := excelize.CoordinatesToCellName(1, rowNum)
		var dist interface{} = ""
		if d, ok := r.Distance(); ok {
			dist = d
		}
		row := []interface{}{r.Name, r.BedCount, r.Latitude, r.Longitude, dist}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
		rowNum++
	}

	summary := [][]interface{}{
		{"Total Hospitals Shown", stats.Count},
		{"Total Beds Available", stats.TotalBeds},
		{"Average Beds per Hospital", stats.AverageBeds},
	}
	rowNum++
	for _, s := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, rowNum)
		if err := sw.SetRow(cell, s); err != nil {
			return err
		}
		rowNum++
	}

	if err := sw.Flush(); err != nil {
		return err
	}

	return f.Write(w)
}
