package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"bgremover/internal/capability"
	"bgremover/internal/infra"
	"bgremover/internal/transfer"
)

// App carries the dependencies shared by every handler.
type App struct {
	Remover capability.Remover
	Encoder *transfer.Encoder
	Config  *infra.Config
	Logger  zerolog.Logger
}

// NewApp wires handlers around remover. The encoder used by /download-image
// fetches remote images with the configured process timeout.
func NewApp(cfg *infra.Config, remover capability.Remover, logger zerolog.Logger) *App {
	return &App{
		Remover: remover,
		Encoder: transfer.NewEncoder(transfer.EncoderOptions{
			HTTPClient: &http.Client{Timeout: cfg.ProcessTimeout},
			MaxBytes:   cfg.MaxUploadBytes * 4,
		}),
		Config: cfg,
		Logger: logger,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, capability.ProcessResponse{Success: false, Error: message})
}

func (a *App) processTimeout() time.Duration {
	if a.Config == nil || a.Config.ProcessTimeout <= 0 {
		return 30 * time.Second
	}
	return a.Config.ProcessTimeout
}

func (a *App) maxUploadBytes() int64 {
	if a.Config == nil || a.Config.MaxUploadBytes <= 0 {
		return transfer.DefaultMaxBytes
	}
	return a.Config.MaxUploadBytes
}
