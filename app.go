package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hospital-radius/internal/calculator"
	"hospital-radius/internal/excel"
	"hospital-radius/internal/logging"
	"hospital-radius/internal/monitoring"
	"hospital-radius/internal/pipeline"
	"hospital-radius/internal/validate"
)

type App struct {
	Logger        logging.Logger
	Metrics       *monitoring.Metrics
	Cache         *pipeline.Cache
	Jobs          *JobStore
	DefaultRadius float64
	Method        calculator.Method
	MaxUpload     int64
}

func NewApp(logger logging.Logger, metrics *monitoring.Metrics, radius float64, method calculator.Method, maxUploadBytes int64, cacheEntries int) *App {
	return &App{
		Logger:  logger,
		Metrics: metrics,
		Cache: pipeline.NewCache(cacheEntries, pipeline.Hooks{
			OnHit:  metrics.CacheHit,
			OnMiss: metrics.CacheMiss,
		}),
		Jobs:          NewJobStore(),
		DefaultRadius: radius,
		Method:        method,
		MaxUpload:     maxUploadBytes,
	}
}

// prepare loads, validates and measures an upload, reusing an earlier
// result when the same bytes were already prepared with the same method.
func (a *App) prepare(ctx context.Context, filename string, data []byte, method calculator.Method, onProgress calculator.ProgressCallback) (*pipeline.Prepared, error) {
	key := pipeline.Key(data, method)
	return a.Cache.Load(ctx, key, func(ctx context.Context) (*pipeline.Prepared, error) {
		start := time.Now()

		table, err := excel.ReadTable(filename, data, "")
		if err != nil {
			a.Metrics.ObservePipeline("load_error", time.Since(start))
			return nil, err
		}

		p, err := pipeline.Prepare(table, method, onProgress)
		if err != nil {
			a.Metrics.ObservePipeline("schema_error", time.Since(start))
			return nil, err
		}

		a.Metrics.ObservePipeline("ok", time.Since(start))
		a.Metrics.ObserveRows(p.RowsRead, p.Dropped)

		a.Logger.WithFields(logging.Fields{
			"source":      filename,
			"method":      method,
			"rows":        p.RowsRead,
			"valid":       len(p.Records),
			"dropped":     p.Dropped.Dropped(),
			"beds_zeroed": p.Dropped.BedsDefaulted,
			"duration":    time.Since(start),
		}).Debug("Prepared upload")
		return p, nil
	})
}

func (a *App) processJob(ctx context.Context, job *Job, filename string, data []byte, radius float64, method calculator.Method) {
	defer func() {
		if r := recover(); r != nil {
			job.fail(fmt.Sprintf("Panic: %v", r), nil)
			a.Logger.WithField("job_id", job.ID).Errorf("job panicked: %v", r)
		}
	}()

	job.Log(fmt.Sprintf("Processing file: %s", filename))

	p, err := a.prepare(ctx, filename, data, method, job.SetProgress)
	if err != nil {
		var schemaErr *validate.SchemaError
		if errors.As(err, &schemaErr) {
			job.fail(err.Error(), schemaErr.Missing)
		} else {
			job.fail(err.Error(), nil)
		}
		a.Logger.WithError(err).WithField("job_id", job.ID).Warn("Job failed")
		return
	}

	// A cached or shared result skips the loader, so report from p itself.
	job.Log(fmt.Sprintf("%d rows read from %s.", p.RowsRead, filename))
	if n := p.Dropped.Dropped(); n > 0 {
		job.Log(fmt.Sprintf("%d rows dropped (missing name %d, unparseable coordinate %d, out of range %d).",
			n, p.Dropped.MissingName, p.Dropped.UnparseableCoordinate, p.Dropped.OutOfRangeCoordinate))
	}

	job.Log(fmt.Sprintf("Filtering within %.1f miles (%s)...", radius, method))
	res, err := p.Filter(radius)
	if err != nil {
		job.fail(err.Error(), nil)
		return
	}

	job.finish(&JobResult{
		Source:      filename,
		Method:      method,
		RadiusMiles: radius,
		RowsRead:    p.RowsRead,
		Valid:       len(p.Records),
		Shown:       res.Stats.Count,
		prepared:    p,
	})
}
