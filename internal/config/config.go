package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	OCR      OCRConfig      `yaml:"ocr"`
	Optimize OptimizeConfig `yaml:"optimize"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxUploadSize ByteSize      `yaml:"maxUploadSize"`
	WorkerCount   int           `yaml:"workerCount"`   // bounded pool executing job pipelines
	QueueCapacity int           `yaml:"queueCapacity"` // pending work items before submit returns 503
	StorageDir    string        `yaml:"storageDir"`
	Store         string        `yaml:"store"`         // "sqlite" or "memory"
	DatabasePath  string        `yaml:"databasePath"`  // optional, overrides default storageDir/mangaocr.db
	ShutdownGrace time.Duration `yaml:"shutdownGrace"` // time to wait for workers before forced stop
	LogLevel      string        `yaml:"logLevel"`      // debug|info|warn|error
}

// OCRConfig selects the engine provider and its runtime knobs.
type OCRConfig struct {
	Provider             string        `yaml:"provider"` // "tesseract" or "mock"
	Languages            []string      `yaml:"languages"`
	EngineCacheTTL       time.Duration `yaml:"engineCacheTTL"`       // reload the engine after this age
	ProgressPollInterval time.Duration `yaml:"progressPollInterval"` // progress monitor tick
	Mock                 MockSettings  `yaml:"mock"`
}

// MockSettings config for the mock OCR engine.
type MockSettings struct {
	Delay         time.Duration `yaml:"delay"` // simulated per-page latency
	BlocksPerPage int           `yaml:"blocksPerPage"`
}

// OptimizeConfig holds page normalization settings.
type OptimizeConfig struct {
	MaxImageHeight         int     `yaml:"maxImageHeight"` // pages taller than this are downscaled
	JPEGQuality            int     `yaml:"jpegQuality"`
	BlankVarianceThreshold float64 `yaml:"blankVarianceThreshold"`
}

// Known store and provider names.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"

	ProviderTesseract = "tesseract"
	ProviderMock      = "mock"
)

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var MANGAOCR_CONFIG, then default to "config.yaml".
// A .env file next to the process, if present, is loaded first so that
// ${VAR} references in the YAML resolve against it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	if path == "" {
		if env := os.Getenv("MANGAOCR_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.StorageDir != "" {
		if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure storageDir: %w", err)
		}
	}
	if cfg.Server.Store == StoreSQLite && cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = filepath.Join(cfg.Server.StorageDir, "mangaocr.db")
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with the documented defaults.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(50 * 1024 * 1024) // 50 MiB, whole volumes arrive in one request
	}
	if cfg.Server.WorkerCount <= 0 {
		cfg.Server.WorkerCount = 4
	}
	if cfg.Server.QueueCapacity <= 0 {
		cfg.Server.QueueCapacity = 128
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.Store == "" {
		cfg.Server.Store = StoreSQLite
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// OCR defaults
	if cfg.OCR.Provider == "" {
		cfg.OCR.Provider = ProviderTesseract
	}
	if len(cfg.OCR.Languages) == 0 {
		cfg.OCR.Languages = []string{"jpn", "jpn_vert"}
	}
	if cfg.OCR.EngineCacheTTL == 0 {
		cfg.OCR.EngineCacheTTL = time.Hour
	}
	if cfg.OCR.ProgressPollInterval == 0 {
		cfg.OCR.ProgressPollInterval = 500 * time.Millisecond
	}
	if cfg.OCR.Mock.Delay == 0 {
		cfg.OCR.Mock.Delay = 100 * time.Millisecond
	}
	if cfg.OCR.Mock.BlocksPerPage <= 0 {
		cfg.OCR.Mock.BlocksPerPage = 1
	}

	// Optimization defaults
	if cfg.Optimize.MaxImageHeight <= 0 {
		cfg.Optimize.MaxImageHeight = 1600
	}
	if cfg.Optimize.JPEGQuality <= 0 {
		cfg.Optimize.JPEGQuality = 85
	}
	if cfg.Optimize.BlankVarianceThreshold <= 0 {
		cfg.Optimize.BlankVarianceThreshold = 100
	}
}

func validate(cfg *Config) error {
	switch cfg.Server.Store {
	case StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("server.store must be %q or %q, got %q", StoreSQLite, StoreMemory, cfg.Server.Store)
	}
	switch cfg.OCR.Provider {
	case ProviderTesseract, ProviderMock:
	default:
		return fmt.Errorf("ocr.provider must be %q or %q, got %q", ProviderTesseract, ProviderMock, cfg.OCR.Provider)
	}
	if cfg.Optimize.JPEGQuality > 100 {
		return fmt.Errorf("optimize.jpegQuality must be <= 100, got %d", cfg.Optimize.JPEGQuality)
	}
	return nil
}
