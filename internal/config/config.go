// Package config holds the service options and the .env loading that
// precedes flag parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"hospital-radius/internal/calculator"
)

type Options struct {
	Addr      string        `short:"a" long:"addr" env:"LISTEN_ADDRESS" description:"Address to listen on" default:"0.0.0.0"`
	Port      int           `short:"p" long:"port" env:"PORT" description:"Port to listen on" default:"9595"`
	LogLevel  string        `short:"l" long:"log-level" env:"LOG_LEVEL" description:"Log level (debug, info, warn, error)" default:"info"`
	LogFormat string        `long:"log-format" env:"LOG_FORMAT" description:"Log format (json, text)" default:"json"`
	GinMode   string        `long:"gin-mode" env:"GIN_MODE" description:"Gin mode (debug, release, test)" default:"release"`
	Radius    float64       `short:"r" long:"radius" env:"RADIUS_MILES" description:"Default radius in miles" default:"5"`
	Method    string        `short:"m" long:"method" env:"DISTANCE_METHOD" description:"Distance model (geodesic, haversine)" default:"geodesic"`
	MaxUpload int64         `long:"max-upload-mb" env:"MAX_UPLOAD_MB" description:"Maximum upload size in MB" default:"20"`
	CacheSize int           `long:"cache-entries" env:"CACHE_ENTRIES" description:"Prepared files kept in memory" default:"32"`
	JobTTL    time.Duration `long:"job-ttl" env:"JOB_TTL" description:"How long finished jobs are kept" default:"1h"`
}

// ListenAddr returns host:port for the HTTP server.
func (o Options) ListenAddr() string {
	return fmt.Sprintf("%s:%d", o.Addr, o.Port)
}

// DistanceMethod parses the configured distance model.
func (o Options) DistanceMethod() (calculator.Method, error) {
	return calculator.ParseMethod(o.Method)
}

func (o Options) Validate() error {
	if _, err := o.DistanceMethod(); err != nil {
		return err
	}
	if !calculator.ValidRadius(o.Radius) {
		return fmt.Errorf("radius: %w", calculator.ErrInvalidRadius)
	}
	switch o.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("gin-mode must be debug, release or test")
	}
	if o.MaxUpload <= 0 {
		return fmt.Errorf("max-upload-mb must be positive")
	}
	if o.JobTTL <= 0 {
		return fmt.Errorf("job-ttl must be positive")
	}
	return nil
}

// LoadEnv loads .env files from the working directory into the process
// environment, returning the names of the files that were applied.
// Variables already set in the environment win.
func LoadEnv(files ...string) []string {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var loaded []string
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			continue
		}
		loaded = append(loaded, file)
	}
	return loaded
}

// Parse reads options from args and the environment.
func Parse(args []string) (*Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}
