package calculator

import (
	"cmp"
	"errors"
	"math"
	"slices"

	"hospital-radius/internal/models"
)

var ErrInvalidRadius = errors.New("radius must be a finite number >= 0")

type Result struct {
	RadiusMiles float64                 `json:"radius_miles"`
	Filtered    []models.HospitalRecord `json:"records"`
	Stats       models.Stats            `json:"stats"`
}

func ValidRadius(radius float64) bool {
	return !math.IsNaN(radius) && !math.IsInf(radius, 0) && radius >= 0
}

// FilterRadius keeps records whose distance is <= radius, nearest first.
// Equal distances keep their input order. Records that were never
// annotated are skipped.
func FilterRadius(records []models.HospitalRecord, radius float64) (Result, error) {
	if !ValidRadius(radius) {
		return Result{}, ErrInvalidRadius
	}

	filtered := make([]models.HospitalRecord, 0, len(records))
	for _, r := range records {
		if d, ok := r.Distance(); ok && d <= radius {
			filtered = append(filtered, r)
		}
	}

	slices.SortStableFunc(filtered, func(a, b models.HospitalRecord) int {
		return cmp.Compare(*a.DistanceMiles, *b.DistanceMiles)
	})

	return Result{
		RadiusMiles: radius,
		Filtered:    filtered,
		Stats:       Summarize(filtered),
	}, nil
}

// Summarize counts records and beds. AverageBeds is rounded to one decimal,
// halves to even.
func Summarize(records []models.HospitalRecord) models.Stats {
	s := models.Stats{Count: len(records)}
	for _, r := range records {
		s.TotalBeds += r.BedCount
	}
	if s.Count > 0 {
		s.AverageBeds = math.RoundToEven(s.TotalBeds/float64(s.Count)*10) / 10
	}
	return s
}
