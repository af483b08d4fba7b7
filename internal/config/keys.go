package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "service.base_url", typ: kString, env: "DOCQA_SERVICE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Service.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Service.BaseURL },
	},
	{
		key: "service.health_path", typ: kString, env: "DOCQA_SERVICE_HEALTH_PATH",
		apply:   func(cfg *Config, v any) { cfg.Service.HealthPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Service.HealthPath },
	},
	{
		key: "service.timeout", typ: kDuration, env: "DOCQA_SERVICE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Service.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Service.Timeout },
	},
	{
		key: "stub.port", typ: kInt, env: "DOCQA_STUB_PORT",
		apply:   func(cfg *Config, v any) { cfg.Stub.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Stub.Port },
	},
	{
		key: "stub.data_dir", typ: kString, env: "DOCQA_STUB_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Stub.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Stub.DataDir },
	},
	{
		key: "stub.chunk_size", typ: kInt, env: "DOCQA_STUB_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Stub.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Stub.ChunkSize },
	},
	{
		key: "stub.chunk_overlap", typ: kInt, env: "DOCQA_STUB_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Stub.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Stub.ChunkOverlap },
	},
	{
		key: "stub.top_k", typ: kInt, env: "DOCQA_STUB_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Stub.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Stub.TopK },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DOCQA_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "DOCQA_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "log.level", typ: kString, env: "DOCQA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "DOCQA_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("invalid duration for %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("invalid duration in %s: %w", s.env, err)
			}
			s.apply(cfg, d)
		}
	}
	return nil
}
