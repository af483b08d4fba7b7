// Package config loads docqa settings from defaults, the JSON config file,
// a .env file and DOCQA_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Service ServiceConfig
	Stub    StubConfig
	Ollama  OllamaConfig
	Log     LogConfig
}

// ServiceConfig points the client at the remote ingest/query service.
// A zero Timeout means requests are not bounded.
type ServiceConfig struct {
	BaseURL    string
	HealthPath string
	Timeout    time.Duration
}

// StubConfig configures the local development service.
type StubConfig struct {
	Port         int
	DataDir      string
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type LogConfig struct {
	Level string
	File  string
}

func defaults() Config {
	return Config{
		Service: ServiceConfig{
			BaseURL:    "http://localhost:8000",
			HealthPath: "/health",
		},
		Stub: StubConfig{
			Port:         8000,
			DataDir:      defaultDataDir(),
			ChunkSize:    1000,
			ChunkOverlap: 200,
			TopK:         5,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "qwen2.5:0.5b",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at FilePath(), then a .env
// file in the working directory, then DOCQA_* environment variables.
// Variables already set in the process environment win over .env entries.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()), ".env")
}

func loadWith(b ConfigBackend, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.Service.BaseURL == "" {
		errs = append(errs, errors.New("service.base_url must not be empty"))
	}
	if c.Service.Timeout < 0 {
		errs = append(errs, fmt.Errorf("service.timeout must not be negative, got %s", c.Service.Timeout))
	}
	if c.Stub.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("stub.chunk_size must be positive, got %d", c.Stub.ChunkSize))
	}
	if c.Stub.ChunkOverlap < 0 || c.Stub.ChunkOverlap >= c.Stub.ChunkSize {
		errs = append(errs, fmt.Errorf("stub.chunk_overlap must be in [0, chunk_size), got %d", c.Stub.ChunkOverlap))
	}
	if c.Stub.TopK <= 0 {
		errs = append(errs, fmt.Errorf("stub.top_k must be positive, got %d", c.Stub.TopK))
	}
	if c.Stub.Port <= 0 || c.Stub.Port > 65535 {
		errs = append(errs, fmt.Errorf("stub.port out of range: %d", c.Stub.Port))
	}
	return errors.Join(errs...)
}
