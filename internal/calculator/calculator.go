package calculator

import (
	"hospital-radius/internal/models"
)

type ProgressCallback func(current, total int, msg string)

// Annotate returns a copy of records with DistanceMiles measured from ref.
// The input slice is left untouched.
func Annotate(records []models.HospitalRecord, ref models.Coordinate, method Method, onProgress ProgressCallback) []models.HospitalRecord {
	total := len(records)
	out := make([]models.HospitalRecord, total)

	for i, r := range records {
		d := DistanceMiles(ref, r.Coordinate(), method)
		r.DistanceMiles = &d
		out[i] = r

		if onProgress != nil && (i+1)%500 == 0 {
			onProgress(i+1, total, "")
		}
	}

	if onProgress != nil {
		onProgress(total, total, "")
	}
	return out
}
