package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jessevdk/go-flags"

	"hospital-radius/internal/calculator"
	"hospital-radius/internal/config"
	"hospital-radius/internal/excel"
	"hospital-radius/internal/logging"
	"hospital-radius/internal/monitoring"
	"hospital-radius/internal/pipeline"
	"hospital-radius/internal/render"
	"hospital-radius/internal/validate"
)

// === Main ===

func main() {
	loaded := config.LoadEnv()

	opts, err := config.Parse(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.NewLogger(opts.LogLevel, opts.LogFormat)
	if len(loaded) > 0 {
		logger.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
	}

	gin.SetMode(opts.GinMode)
	method, _ := opts.DistanceMethod()

	app := NewApp(logger, monitoring.NewMetrics(), opts.Radius, method, opts.MaxUpload<<20, opts.CacheSize)
	r := newRouter(app)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go app.sweepJobs(ctx, opts.JobTTL)

	srv := &http.Server{
		Addr:         opts.ListenAddr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithFields(logging.Fields{
			"addr":   srv.Addr,
			"radius": opts.Radius,
			"method": method,
		}).Info("Hospital radius server started")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}
}

func (a *App) sweepJobs(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.Jobs.Sweep(now, ttl); n > 0 {
				a.Logger.WithField("removed", n).Debug("Expired jobs removed")
			}
			a.Metrics.SetJobs(a.Jobs.Len())
		}
	}
}

func newRouter(app *App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(app.Logger))
	r.Use(app.Metrics.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/metrics", app.Metrics.Handler())

	r.POST("/run", func(c *gin.Context) {
		filename, data, ok := app.readUpload(c)
		if !ok {
			return
		}
		radius, method, ok := app.parseParams(c, c.PostForm("radius"), c.PostForm("method"))
		if !ok {
			return
		}

		job := NewJob()
		app.Jobs.Add(job)
		app.Metrics.SetJobs(app.Jobs.Len())

		// The job outlives the request, so it gets its own context.
		go app.processJob(context.Background(), job, filename, data, radius, method)

		c.JSON(http.StatusAccepted, gin.H{"ok": true, "job_id": job.ID})
	})

	r.GET("/logs", func(c *gin.Context) {
		job := app.Jobs.Get(c.Query("job_id"))
		if job == nil {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "Job not found"})
			return
		}
		status, progress, logs, _, _, _ := job.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"ok":       true,
			"logs":     logs,
			"status":   status,
			"progress": progress,
		})
	})

	r.GET("/status", func(c *gin.Context) {
		job := app.Jobs.Get(c.Query("job_id"))
		if job == nil {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "Job not found"})
			return
		}
		status, _, _, errMsg, missing, result := job.Snapshot()
		res := gin.H{
			"ok":     true,
			"status": status,
			"error":  errMsg,
		}
		if len(missing) > 0 {
			res["missing_columns"] = missing
		}
		if result != nil {
			res["result"] = result
		}
		c.JSON(http.StatusOK, res)
	})

	r.GET("/results/:job_id", func(c *gin.Context) {
		p, res, ok := app.jobResult(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, newFilterResponse(p, res))
	})

	r.GET("/results/:job_id/geojson", func(c *gin.Context) {
		p, res, ok := app.jobResult(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, render.FeatureCollection(p.Reference, res.RadiusMiles, res.Filtered))
	})

	r.GET("/download-result/:job_id", func(c *gin.Context) {
		p, res, ok := app.jobResult(c)
		if !ok {
			return
		}
		base := strings.TrimSuffix(filepath.Base(p.Source), filepath.Ext(p.Source))
		filename := fmt.Sprintf("%s_%gmi.xlsx", base, res.RadiusMiles)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := excel.WriteResult(c.Writer, res.Filtered, res.Stats, "Hospitals"); err != nil {
			app.Logger.WithError(err).Error("Writing result workbook failed")
			c.AbortWithStatus(http.StatusInternalServerError)
		}
	})

	r.POST("/api/filter", func(c *gin.Context) {
		filename, data, ok := app.readUpload(c)
		if !ok {
			return
		}
		radius, method, ok := app.parseParams(c, c.PostForm("radius"), c.PostForm("method"))
		if !ok {
			return
		}

		p, err := app.prepare(c.Request.Context(), filename, data, method, nil)
		if err != nil {
			writePipelineError(c, err)
			return
		}
		res, err := p.Filter(radius)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, newFilterResponse(p, res))
	})

	return r
}

type filterResponse struct {
	*pipeline.Prepared
	calculator.Result
	DroppedRows int `json:"dropped_rows"`
}

func newFilterResponse(p *pipeline.Prepared, res calculator.Result) filterResponse {
	return filterResponse{Prepared: p, Result: res, DroppedRows: p.Dropped.Dropped()}
}

func (a *App) readUpload(c *gin.Context) (string, []byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.MaxUpload+1<<20)

	file, err := c.FormFile("input_file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Please choose a file (input_file)."})
		return "", nil, false
	}
	if file.Size > a.MaxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false, "error": "File is too large."})
		return "", nil, false
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Could not read upload."})
		return "", nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Could not read upload."})
		return "", nil, false
	}
	return file.Filename, data, true
}

func (a *App) parseParams(c *gin.Context, radiusStr, methodStr string) (float64, calculator.Method, bool) {
	radius, err := parseRadius(radiusStr, a.DefaultRadius)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return 0, "", false
	}
	method := a.Method
	if methodStr != "" {
		method, err = calculator.ParseMethod(methodStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return 0, "", false
		}
	}
	return radius, method, true
}

// jobResult re-filters a finished job at the radius in the query string,
// falling back to the radius the job was started with.
func (a *App) jobResult(c *gin.Context) (*pipeline.Prepared, calculator.Result, bool) {
	job := a.Jobs.Get(c.Param("job_id"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "Job not found"})
		return nil, calculator.Result{}, false
	}
	status, _, _, errMsg, missing, result := job.Snapshot()
	switch status {
	case StatusRunning:
		c.JSON(http.StatusConflict, gin.H{"ok": false, "status": status, "error": "Job is still running"})
		return nil, calculator.Result{}, false
	case StatusError:
		body := gin.H{"ok": false, "status": status, "error": errMsg}
		if len(missing) > 0 {
			body["missing_columns"] = missing
		}
		c.JSON(http.StatusUnprocessableEntity, body)
		return nil, calculator.Result{}, false
	}

	radius, err := parseRadius(c.Query("radius"), result.RadiusMiles)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return nil, calculator.Result{}, false
	}
	res, err := result.prepared.Filter(radius)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return nil, calculator.Result{}, false
	}
	return result.prepared, res, true
}

func writePipelineError(c *gin.Context, err error) {
	var schemaErr *validate.SchemaError
	switch {
	case errors.As(err, &schemaErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"ok":              false,
			"error":           err.Error(),
			"missing_columns": schemaErr.Missing,
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
	}
}

func parseRadius(s string, def float64) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	radius, err := strconv.ParseFloat(s, 64)
	if err != nil || !calculator.ValidRadius(radius) {
		return 0, fmt.Errorf("invalid radius %q: %w", s, calculator.ErrInvalidRadius)
	}
	return radius, nil
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logging.Fields{
			"status":    c.Writer.Status(),
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"latency":   time.Since(start),
			"client_ip": c.ClientIP(),
		}).Info("HTTP request")
	}
}
