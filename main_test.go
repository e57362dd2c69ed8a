package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"hospital-radius/internal/calculator"
	"hospital-radius/internal/logging"
	"hospital-radius/internal/monitoring"
)

const exampleCSV = "Hospital Name,Total Beds on 10/1/23,Latitude,Longitude\n" +
	"A,100,41.736679,-87.554874\n" +
	"B,50,42.0,-87.9\n" +
	"C,abc,41.7,-87.6\n" +
	"Bad,10,200,-87.6\n"

func testApp(t *testing.T) (*App, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	app := NewApp(logging.NewLoggerTo(io.Discard, "error", "json"), monitoring.NewMetrics(), 5, calculator.Geodesic, 1<<20, 8)
	return app, newRouter(app)
}

func upload(t *testing.T, r http.Handler, path, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("input_file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type recordJSON struct {
	Name          string   `json:"name"`
	BedCount      float64  `json:"bed_count"`
	DistanceMiles *float64 `json:"distance_miles"`
}

type responseJSON struct {
	Source      string       `json:"source"`
	Method      string       `json:"method"`
	RadiusMiles float64      `json:"radius_miles"`
	RowsRead    int          `json:"rows_read"`
	DroppedRows int          `json:"dropped_rows"`
	Records     []recordJSON `json:"records"`
	Stats       struct {
		Count       int     `json:"count"`
		TotalBeds   float64 `json:"total_beds"`
		AverageBeds float64 `json:"average_beds"`
	} `json:"stats"`
	Dropped struct {
		OutOfRange    int `json:"out_of_range_coordinate"`
		BedsDefaulted int `json:"beds_defaulted"`
	} `json:"dropped"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) responseJSON {
	t.Helper()
	var out responseJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestFilterEndpoint(t *testing.T) {
	_, r := testApp(t)

	w := upload(t, r, "/api/filter", "hospitals.csv", []byte(exampleCSV), map[string]string{"radius": "5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode(t, w)
	assert.Equal(t, "hospitals.csv", res.Source)
	assert.Equal(t, "geodesic", res.Method)
	assert.Equal(t, 5.0, res.RadiusMiles)
	assert.Equal(t, 4, res.RowsRead)
	assert.Equal(t, 1, res.DroppedRows)
	assert.Equal(t, 1, res.Dropped.OutOfRange)
	assert.Equal(t, 1, res.Dropped.BedsDefaulted)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "A", res.Records[0].Name)
	assert.Equal(t, 0.0, *res.Records[0].DistanceMiles)
	assert.Equal(t, "C", res.Records[1].Name)
	assert.Equal(t, 0.0, res.Records[1].BedCount)
	assert.InDelta(t, 3.44, *res.Records[1].DistanceMiles, 0.01)

	assert.Equal(t, 2, res.Stats.Count)
	assert.Equal(t, 100.0, res.Stats.TotalBeds)
	assert.Equal(t, 50.0, res.Stats.AverageBeds)
}

func TestFilterEndpoint_DefaultRadiusAndMethod(t *testing.T) {
	_, r := testApp(t)

	w := upload(t, r, "/api/filter", "hospitals.csv", []byte(exampleCSV), map[string]string{"radius": "30", "method": "haversine"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, "haversine", res.Method)
	assert.Equal(t, 3, res.Stats.Count)

	w = upload(t, r, "/api/filter", "hospitals.csv", []byte(exampleCSV), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5.0, decode(t, w).RadiusMiles)
}

func TestFilterEndpoint_SchemaError(t *testing.T) {
	_, r := testApp(t)
	csv := "Hospital Name,Total Beds on 10/1/23,Longitude\nA,1,-87\n"

	w := upload(t, r, "/api/filter", "hospitals.csv", []byte(csv), nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		OK      bool     `json:"ok"`
		Missing []string `json:"missing_columns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.OK)
	assert.Equal(t, []string{"Latitude"}, body.Missing)
}

func TestFilterEndpoint_BadRequests(t *testing.T) {
	_, r := testApp(t)

	w := upload(t, r, "/api/filter", "", nil, map[string]string{"radius": "5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = upload(t, r, "/api/filter", "hospitals.csv", []byte(exampleCSV), map[string]string{"radius": "-2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = upload(t, r, "/api/filter", "hospitals.csv", []byte(exampleCSV), map[string]string{"method": "flat"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = upload(t, r, "/api/filter", "hospitals.txt", []byte(exampleCSV), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported file format")
}

func TestFilterEndpoint_XLSX(t *testing.T) {
	_, r := testApp(t)

	f := excelize.NewFile()
	for i, row := range [][]interface{}{
		{"Hospital Name", "Total Beds on 10/1/23", "Latitude", "Longitude"},
		{"A", 100, 41.736679, -87.554874},
		{"B", 50, 42.0, -87.9},
	} {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w := upload(t, r, "/api/filter", "hospitals.xlsx", buf.Bytes(), map[string]string{"radius": "5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "A", res.Records[0].Name)
	assert.Equal(t, 100.0, res.Stats.AverageBeds)
}

func waitForJob(t *testing.T, app *App, id string) JobStatus {
	t.Helper()
	job := app.Jobs.Get(id)
	require.NotNil(t, job)

	var status JobStatus
	require.Eventually(t, func() bool {
		status, _, _, _, _, _ = job.Snapshot()
		return status != StatusRunning
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestJobFlow(t *testing.T) {
	app, r := testApp(t)

	w := upload(t, r, "/run", "hospitals.csv", []byte(exampleCSV), map[string]string{"radius": "5"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var started struct {
		OK    bool   `json:"ok"`
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.JobID)

	assert.Equal(t, StatusDone, waitForJob(t, app, started.JobID))

	w = get(r, "/status?job_id="+started.JobID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"done"`)
	assert.Contains(t, w.Body.String(), `"shown":2`)

	w = get(r, "/logs?job_id="+started.JobID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Processing file: hospitals.csv")
	assert.Contains(t, w.Body.String(), `"progress":100`)

	// The same job can be re-filtered without re-uploading.
	w = get(r, "/results/"+started.JobID+"?radius=30")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode(t, w)
	assert.Equal(t, 30.0, res.RadiusMiles)
	assert.Equal(t, []string{"A", "C", "B"}, []string{res.Records[0].Name, res.Records[1].Name, res.Records[2].Name})

	w = get(r, "/results/"+started.JobID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5.0, decode(t, w).RadiusMiles)

	w = get(r, "/results/"+started.JobID+"?radius=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = get(r, "/results/"+started.JobID+"/geojson?radius=0")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"FeatureCollection"`)
	assert.Equal(t, 2, strings.Count(w.Body.String(), `"type":"Feature"`))

	w = get(r, "/download-result/"+started.JobID+"?radius=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "hospitals_5mi.xlsx")
	xf, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	rows, err := xf.GetRows("Hospitals")
	require.NoError(t, err)
	assert.Equal(t, "A", rows[1][0])
	assert.Equal(t, "C", rows[2][0])
	require.NoError(t, xf.Close())
}

func TestJobFlow_SchemaError(t *testing.T) {
	app, r := testApp(t)

	w := upload(t, r, "/run", "hospitals.csv", []byte("Hospital Name,Latitude\nA,41\n"), nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var started struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, StatusError, waitForJob(t, app, started.JobID))

	w = get(r, "/results/"+started.JobID)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"missing_columns":["Total Beds on 10/1/23","Longitude"]`)
}

func TestJobEndpoints_UnknownJob(t *testing.T) {
	_, r := testApp(t)
	for _, path := range []string{"/status?job_id=nope", "/logs?job_id=nope", "/results/nope", "/download-result/nope"} {
		assert.Equal(t, http.StatusNotFound, get(r, path).Code, path)
	}
}

func TestResults_RunningJob(t *testing.T) {
	app, r := testApp(t)
	job := NewJob()
	app.Jobs.Add(job)

	assert.Equal(t, http.StatusConflict, get(r, "/results/"+job.ID).Code)
}

func TestPrepareIsCached(t *testing.T) {
	app, _ := testApp(t)
	p1, err := app.prepare(context.Background(), "a.csv", []byte(exampleCSV), calculator.Geodesic, nil)
	require.NoError(t, err)
	p2, err := app.prepare(context.Background(), "a.csv", []byte(exampleCSV), calculator.Geodesic, nil)
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	p3, err := app.prepare(context.Background(), "a.csv", []byte(exampleCSV+"D,1,41.8,-87.6\n"), calculator.Geodesic, nil)
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)
	assert.Len(t, p3.Records, 4)
}

func TestProcessJob_CachedUploadLogsRowCounts(t *testing.T) {
	app, _ := testApp(t)

	for i := 0; i < 2; i++ {
		job := NewJob()
		app.Jobs.Add(job)
		app.processJob(context.Background(), job, "hospitals.csv", []byte(exampleCSV), 5, calculator.Geodesic)

		status, progress, logs, _, _, res := job.Snapshot()
		require.Equal(t, StatusDone, status, "run %d", i)
		assert.Equal(t, 100, progress)
		assert.Equal(t, 2, res.Shown)

		joined := strings.Join(logs, "\n")
		assert.Contains(t, joined, "4 rows read from hospitals.csv.", "run %d", i)
		assert.Contains(t, joined, "1 rows dropped (missing name 0, unparseable coordinate 0, out of range 1).", "run %d", i)
	}
	assert.Equal(t, 1, app.Cache.Len())
}

func TestHealthAndMetrics(t *testing.T) {
	_, r := testApp(t)

	w := get(r, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	upload(t, r, "/api/filter", "hospitals.csv", []byte(exampleCSV), nil)

	w = get(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `hospital_radius_pipeline_runs_total{outcome="ok"} 1`)
	assert.Contains(t, body, `hospital_radius_rows_dropped_total{reason="out_of_range_coordinate"} 1`)
	assert.Contains(t, body, `hospital_radius_http_requests_total{endpoint="/api/filter",method="POST",status="200"} 1`)
}

func TestParseRadius(t *testing.T) {
	r, err := parseRadius("", 5)
	require.NoError(t, err)
	assert.Equal(t, 5.0, r)

	r, err = parseRadius(" 0 ", 5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r)

	_, err = parseRadius("NaN", 5)
	assert.ErrorIs(t, err, calculator.ErrInvalidRadius)
}
