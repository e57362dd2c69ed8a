// Package pipeline wires the validator and distance calculator together and
// memoises their output per uploaded file.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"

	"hospital-radius/internal/calculator"
	"hospital-radius/internal/models"
	"hospital-radius/internal/validate"
)

// Prepared is a validated, distance-annotated record set. It is shared
// between callers and must be treated as read-only.
type Prepared struct {
	Source    string                  `json:"source"`
	Method    calculator.Method       `json:"method"`
	Reference models.Coordinate       `json:"reference"`
	Records   []models.HospitalRecord `json:"-"`
	Dropped   models.DropReport       `json:"dropped"`
	RowsRead  int                     `json:"rows_read"`
}

// Prepare validates the table and measures every surviving record from the
// reference point.
func Prepare(table *models.RawTable, method calculator.Method, onProgress calculator.ProgressCallback) (*Prepared, error) {
	res, err := validate.Validate(table)
	if err != nil {
		return nil, err
	}

	return &Prepared{
		Source:    table.Source,
		Method:    method,
		Reference: models.ReferencePoint,
		Records:   calculator.Annotate(res.Records, models.ReferencePoint, method, onProgress),
		Dropped:   res.Dropped,
		RowsRead:  res.RowsRead,
	}, nil
}

// Filter applies a radius to the prepared set.
func (p *Prepared) Filter(radius float64) (calculator.Result, error) {
	return calculator.FilterRadius(p.Records, radius)
}

// Key identifies an upload by content and distance method.
func Key(data []byte, method calculator.Method) string {
	h := sha256.New()
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(method))
	return hex.EncodeToString(h.Sum(nil))
}
