package models

// Column headers the uploaded table must carry. Matching is exact.
const (
	ColumnName      = "Hospital Name"
	ColumnBeds      = "Total Beds on 10/1/23"
	ColumnLatitude  = "Latitude"
	ColumnLongitude = "Longitude"
)

// RequiredColumns lists the headers in the order they are reported when missing.
var RequiredColumns = []string{ColumnName, ColumnBeds, ColumnLatitude, ColumnLongitude}

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ReferencePoint is S DuSable Lake Shore Drive and E 87th Street, Chicago.
var ReferencePoint = Coordinate{Lat: 41.736679, Lon: -87.554874}

// RawTable is the loader's output: a header row and the data rows as text.
type RawTable struct {
	Source string
	Header []string
	Rows   [][]string
}

// HospitalRecord is one cleaned row. DistanceMiles stays nil until the
// record has been through the calculator; Row is the 1-based data row the
// record came from.
type HospitalRecord struct {
	Name          string   `json:"name"`
	BedCount      float64  `json:"bed_count"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	DistanceMiles *float64 `json:"distance_miles,omitempty"`
	Row           int      `json:"row"`
}

func (r HospitalRecord) Coordinate() Coordinate {
	return Coordinate{Lat: r.Latitude, Lon: r.Longitude}
}

// Distance returns the annotated distance and whether it is present.
func (r HospitalRecord) Distance() (float64, bool) {
	if r.DistanceMiles == nil {
		return 0, false
	}
	return *r.DistanceMiles, true
}

type Stats struct {
	Count       int     `json:"count"`
	TotalBeds   float64 `json:"total_beds"`
	AverageBeds float64 `json:"average_beds"`
}

// DropReport aggregates the rows the validator rejected or repaired.
type DropReport struct {
	MissingName           int `json:"missing_name"`
	UnparseableCoordinate int `json:"unparseable_coordinate"`
	OutOfRangeCoordinate  int `json:"out_of_range_coordinate"`
	BedsDefaulted         int `json:"beds_defaulted"`
}

// Dropped is the number of rows excluded from the cleaned set.
func (d DropReport) Dropped() int {
	return d.MissingName + d.UnparseableCoordinate + d.OutOfRangeCoordinate
}
