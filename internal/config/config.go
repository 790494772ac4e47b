package config

import (
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		Port       int    `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
		LogLevel   string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
		LogFormat  string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`
		UserAgent  string `env:"USER_AGENT" envDefault:"mapview/1.0"`
		Source     string `env:"SOURCE" envDefault:"Mapnik" validate:"required"`
		SourceFile string `env:"SOURCES_FILE"`
		// AllowedOrigin overrides the same-host CORS check of the preview server.
		AllowedOrigin string `env:"ALLOWED_ORIGIN"`

		Cache     Cache     `envPrefix:"CACHE_"`
		Store     Store     `envPrefix:"STORE_"`
		Loader    Loader
		Workers   Workers   `envPrefix:"WORKER_"`
		Prefetch  Prefetch  `envPrefix:"PREFETCH_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`
	}

	Cache struct {
		Type     string `env:"TYPE" envDefault:"memory" validate:"oneof=memory disabled"`
		Capacity int    `env:"CAPACITY" envDefault:"200" validate:"min=1"`
	}

	Store struct {
		Backend string `env:"BACKEND" envDefault:"file" validate:"oneof=file sqlite none"`
		Dir     string `env:"DIR"`
	}

	Loader struct {
		Freshness   time.Duration `env:"FRESHNESS" envDefault:"24h" validate:"gt=0"`
		ReadTimeout time.Duration `env:"READ_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	}

	Workers struct {
		Max         int           `env:"MAX" envDefault:"8" validate:"min=1,max=64"`
		IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"30s" validate:"gt=0"`
		Queue       string        `env:"QUEUE" envDefault:"fifo" validate:"oneof=fifo lifo"`
	}

	Prefetch struct {
		Enabled bool    `env:"ENABLED" envDefault:"false"`
		Lat     float64 `env:"LAT" envDefault:"0" validate:"min=-90,max=90"`
		Lon     float64 `env:"LON" envDefault:"0" validate:"min=-180,max=180"`
		MinZoom int     `env:"MIN_ZOOM" envDefault:"0" validate:"min=0"`
		MaxZoom int     `env:"MAX_ZOOM" envDefault:"3" validate:"min=0,gtefield=MinZoom"`
		Radius  int     `env:"RADIUS" envDefault:"1" validate:"min=0,max=8"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"mapview"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"development"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	}
)

const envPrefix = "MAPVIEW_"

// Load reads an optional .env file, then the MAPVIEW_* environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}
	return Parse(env.Options{Prefix: envPrefix})
}

// Parse parses and validates the configuration using the given env options.
func Parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Store.Dir == "" {
		cfg.Store.Dir = DefaultStoreDir()
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultStoreDir is a per-user directory below the OS temp dir; there is no
// per-user temp dir on most unix systems.
func DefaultStoreDir() string {
	name := "mapview_tiles"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name += "_" + sanitizeUser(u.Username)
	}
	return filepath.Join(os.TempDir(), name)
}

func sanitizeUser(name string) string {
	out := []rune(name)
	for i, r := range out {
		if r == '\\' || r == '/' || r == ':' {
			out[i] = '_'
		}
	}
	return string(out)
}

func (c *Config) LIFO() bool {
	return c.Workers.Queue == "lifo"
}
