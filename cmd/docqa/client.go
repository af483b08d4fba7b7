package main

import (
	"log/slog"

	"github.com/kalambet/docqa/internal/backend"
	"github.com/kalambet/docqa/internal/config"
	"github.com/kalambet/docqa/internal/session"
)

func newBackend(cfg config.ServiceConfig) *backend.Client {
	return backend.New(backend.Config{
		BaseURL:    cfg.BaseURL,
		HealthPath: cfg.HealthPath,
		Timeout:    cfg.Timeout,
	})
}

// newSession starts a session against the configured service. Callers
// must Close it.
func newSession() *session.Controller {
	return session.New(newBackend(appConfig.Service), slog.Default())
}
