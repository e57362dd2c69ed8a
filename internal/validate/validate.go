// Package validate turns a raw uploaded table into clean hospital records.
package validate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"hospital-radius/internal/models"
)

// SchemaError reports required columns absent from the input header.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}

type Result struct {
	Records  []models.HospitalRecord
	Dropped  models.DropReport
	RowsRead int
}

// CheckSchema returns the column index of every required header, or a
// SchemaError naming those that are absent.
func CheckSchema(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}

	var missing []string
	cols := make(map[string]int, len(models.RequiredColumns))
	for _, col := range models.RequiredColumns {
		i, ok := idx[col]
		if !ok {
			missing = append(missing, col)
			continue
		}
		cols[col] = i
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}
	return cols, nil
}

// Validate checks the header and coerces every row. Malformed rows are
// counted in the drop report and left out; only a schema problem fails.
func Validate(table *models.RawTable) (Result, error) {
	if table == nil {
		return Result{}, &SchemaError{Missing: append([]string(nil), models.RequiredColumns...)}
	}
	cols, err := CheckSchema(table.Header)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Records:  make([]models.HospitalRecord, 0, len(table.Rows)),
		RowsRead: len(table.Rows),
	}

	for i, row := range table.Rows {
		name := strings.TrimSpace(cell(row, cols[models.ColumnName]))
		if name == "" {
			res.Dropped.MissingName++
			continue
		}

		lat, err1 := parseCoord(cell(row, cols[models.ColumnLatitude]))
		lon, err2 := parseCoord(cell(row, cols[models.ColumnLongitude]))
		if err1 != nil || err2 != nil {
			res.Dropped.UnparseableCoordinate++
			continue
		}
		if !InRange(lat, lon) {
			res.Dropped.OutOfRangeCoordinate++
			continue
		}

		beds, ok := parseBeds(cell(row, cols[models.ColumnBeds]))
		if !ok {
			res.Dropped.BedsDefaulted++
		}

		res.Records = append(res.Records, models.HospitalRecord{
			Name:      name,
			BedCount:  beds,
			Latitude:  lat,
			Longitude: lon,
			Row:       i + 1,
		})
	}

	return res, nil
}

// InRange reports whether lat/lon are a usable geographic position.
func InRange(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func parseNumber(val string) (float64, error) {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, fmt.Errorf("empty")
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %q", val)
	}
	return f, nil
}

func parseCoord(val string) (float64, error) {
	// A lone comma is a decimal separator in some locales.
	if strings.Count(val, ",") == 1 && !strings.Contains(val, ".") {
		val = strings.ReplaceAll(val, ",", ".")
	}
	return parseNumber(val)
}

// parseBeds returns 0 and false for anything that is not a non-negative number.
func parseBeds(val string) (float64, bool) {
	f, err := parseNumber(val)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}
