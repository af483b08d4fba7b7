package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strs[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error  { m.strs[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m *memBackend) Delete(key string) error {
	delete(m.strs, key)
	delete(m.ints, key)
	return nil
}

// clearEnv blanks every DOCQA_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	cfg, err := loadWith(newMemBackend(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Service.BaseURL != "http://localhost:8000" {
		t.Errorf("Service.BaseURL = %q", cfg.Service.BaseURL)
	}
	if cfg.Service.HealthPath != "/health" {
		t.Errorf("Service.HealthPath = %q", cfg.Service.HealthPath)
	}
	if cfg.Service.Timeout != 0 {
		t.Errorf("Service.Timeout = %v, want 0", cfg.Service.Timeout)
	}
	if cfg.Stub.Port != 8000 {
		t.Errorf("Stub.Port = %d, want 8000", cfg.Stub.Port)
	}
	if cfg.Stub.DataDir != filepath.Join("/xdg/data", "docqa") {
		t.Errorf("Stub.DataDir = %q", cfg.Stub.DataDir)
	}
	if cfg.Stub.ChunkSize != 1000 || cfg.Stub.ChunkOverlap != 200 || cfg.Stub.TopK != 5 {
		t.Errorf("Stub chunking = %d/%d top %d, want 1000/200 top 5", cfg.Stub.ChunkSize, cfg.Stub.ChunkOverlap, cfg.Stub.TopK)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.Model != "qwen2.5:0.5b" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
	if cfg.Log.Level != "info" || cfg.Log.File != "" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.strs["service.base_url"] = "http://rag.internal:9000"
	b.strs["service.timeout"] = "90s"
	b.ints["stub.port"] = 8100
	b.ints["stub.top_k"] = 3
	b.strs["ollama.model"] = "llama3.2"

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.BaseURL != "http://rag.internal:9000" {
		t.Errorf("Service.BaseURL = %q", cfg.Service.BaseURL)
	}
	if cfg.Service.Timeout != 90*time.Second {
		t.Errorf("Service.Timeout = %v", cfg.Service.Timeout)
	}
	if cfg.Stub.Port != 8100 || cfg.Stub.TopK != 3 {
		t.Errorf("Stub = %+v", cfg.Stub)
	}
	if cfg.Ollama.Model != "llama3.2" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.strs["service.base_url"] = "http://from-file:8000"
	b.ints["stub.chunk_size"] = 500

	t.Setenv("DOCQA_SERVICE_BASE_URL", "http://from-env:8000")
	t.Setenv("DOCQA_STUB_CHUNK_SIZE", "800")
	t.Setenv("DOCQA_SERVICE_TIMEOUT", "2m")

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.BaseURL != "http://from-env:8000" {
		t.Errorf("Service.BaseURL = %q, want env value", cfg.Service.BaseURL)
	}
	if cfg.Stub.ChunkSize != 800 {
		t.Errorf("Stub.ChunkSize = %d, want 800", cfg.Stub.ChunkSize)
	}
	if cfg.Service.Timeout != 2*time.Minute {
		t.Errorf("Service.Timeout = %v, want 2m", cfg.Service.Timeout)
	}
}

func TestEnvBadIntKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCQA_STUB_PORT", "eighty")

	cfg, err := loadWith(newMemBackend(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stub.Port != 8000 {
		t.Errorf("Stub.Port = %d, want default 8000", cfg.Stub.Port)
	}
}

func TestBadDuration(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.strs["service.timeout"] = "soon"
	if _, err := loadWith(b, ""); err == nil || !strings.Contains(err.Error(), "service.timeout") {
		t.Errorf("file duration err = %v", err)
	}

	t.Setenv("DOCQA_SERVICE_TIMEOUT", "later")
	if _, err := loadWith(newMemBackend(), ""); err == nil || !strings.Contains(err.Error(), "DOCQA_SERVICE_TIMEOUT") {
		t.Errorf("env duration err = %v", err)
	}
}

func TestDotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv only fills variables that are absent; t.Setenv restores them.
	os.Unsetenv("DOCQA_OLLAMA_MODEL")
	os.Unsetenv("DOCQA_STUB_TOP_K")
	t.Setenv("DOCQA_LOG_LEVEL", "warn")

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "DOCQA_OLLAMA_MODEL=mistral\nDOCQA_STUB_TOP_K=8\nDOCQA_LOG_LEVEL=debug\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadWith(newMemBackend(), envFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ollama.Model != "mistral" {
		t.Errorf("Ollama.Model = %q, want value from .env", cfg.Ollama.Model)
	}
	if cfg.Stub.TopK != 8 {
		t.Errorf("Stub.TopK = %d, want 8", cfg.Stub.TopK)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, process env should win over .env", cfg.Log.Level)
	}
}

func TestMissingDotEnvIsIgnored(t *testing.T) {
	clearEnv(t)
	if _, err := loadWith(newMemBackend(), filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"overlap equals size", func(c *Config) { c.Stub.ChunkOverlap = c.Stub.ChunkSize }, "chunk_overlap"},
		{"negative overlap", func(c *Config) { c.Stub.ChunkOverlap = -1 }, "chunk_overlap"},
		{"zero size", func(c *Config) { c.Stub.ChunkSize = 0 }, "chunk_size"},
		{"zero top_k", func(c *Config) { c.Stub.TopK = 0 }, "top_k"},
		{"empty base url", func(c *Config) { c.Service.BaseURL = "" }, "base_url"},
		{"negative timeout", func(c *Config) { c.Service.Timeout = -time.Second }, "timeout"},
		{"bad port", func(c *Config) { c.Stub.Port = 70000 }, "port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()

	if err := setKey(b, "service.base_url", "http://x:1"); err != nil {
		t.Fatalf("set string: %v", err)
	}
	if err := setKey(b, "stub.top_k", "7"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := setKey(b, "service.timeout", "30s"); err != nil {
		t.Fatalf("set duration: %v", err)
	}
	if b.strs["service.base_url"] != "http://x:1" || b.ints["stub.top_k"] != 7 || b.strs["service.timeout"] != "30s" {
		t.Errorf("backend = %+v / %+v", b.strs, b.ints)
	}

	if err := setKey(b, "stub.top_k", "many"); err == nil {
		t.Error("expected error for non-integer value")
	}
	if err := setKey(b, "service.timeout", "forever"); err == nil {
		t.Error("expected error for bad duration")
	}
	if err := setKey(b, "nope.key", "x"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("unknown key err = %v", err)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docqa", "config.json")

	b := newFileBackend(path)
	if err := setKey(b, "ollama.model", "phi3"); err != nil {
		t.Fatal(err)
	}
	if err := setKey(b, "stub.port", "9001"); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	var onDisk map[string]any
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("config file is not JSON: %v", err)
	}
	if onDisk["ollama.model"] != "phi3" {
		t.Errorf("on disk = %v", onDisk)
	}

	clearEnv(t)
	cfg, err := loadWith(newFileBackend(path), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ollama.Model != "phi3" || cfg.Stub.Port != 9001 {
		t.Errorf("reloaded = %+v / %+v", cfg.Ollama, cfg.Stub)
	}

	if err := b.Delete("ollama.model"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := newFileBackend(path).GetString("ollama.model"); ok {
		t.Error("deleted key still present")
	}
}

func TestFileBackendGetIntErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"a": 1.5, "b": "12", "c": true}`), 0o600); err != nil {
		t.Fatal(err)
	}

	b := newFileBackend(path)
	if _, _, err := b.GetInt("a"); err == nil {
		t.Error("fractional value should fail")
	}
	if v, ok, err := b.GetInt("b"); err != nil || !ok || v != 12 {
		t.Errorf("GetInt(b) = %d, %v, %v", v, ok, err)
	}
	if _, _, err := b.GetInt("c"); err == nil {
		t.Error("bool value should fail")
	}
}

func TestShowAllAndValidKeys(t *testing.T) {
	infos := ShowAll(defaults())
	keys := ValidKeys()
	if len(infos) != len(keys) {
		t.Fatalf("ShowAll has %d entries, ValidKeys %d", len(infos), len(keys))
	}
	found := false
	for _, ki := range infos {
		if !strings.HasPrefix(ki.EnvVar, "DOCQA_") {
			t.Errorf("%s env var %q lacks DOCQA_ prefix", ki.Key, ki.EnvVar)
		}
		if ki.Key == "service.base_url" {
			found = true
			if ki.Value != "http://localhost:8000" {
				t.Errorf("service.base_url value = %q", ki.Value)
			}
		}
	}
	if !found {
		t.Error("service.base_url missing from ShowAll")
	}
}

func TestFilePath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	if got, want := FilePath(), filepath.Join("/xdg/config", "docqa", "config.json"); got != want {
		t.Errorf("FilePath() = %q, want %q", got, want)
	}
}
