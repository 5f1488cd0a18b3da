package capability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bgremover/internal/asset"
	"bgremover/internal/metrics"
)

// Remover is the contract every background removal variant fulfils.
type Remover interface {
	// RemoveBackground blocks until the capability answers. Errors are a
	// *TransportError or a *ProcessingFailedError.
	RemoveBackground(ctx context.Context, img asset.Image) (asset.Image, error)

	// Close releases any resources held by the variant.
	Close() error
}

// Backend names a Remover variant.
type Backend string

const (
	BackendEmbedded Backend = "embedded"
	BackendHTTP     Backend = "http"
	BackendFunction Backend = "function"
)

// ParseBackend sanitizes free-form input into a supported backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendEmbedded:
		return BackendEmbedded, nil
	case BackendHTTP, "remote":
		return BackendHTTP, nil
	case BackendFunction, "serverless":
		return BackendFunction, nil
	default:
		return "", fmt.Errorf("capability: unknown backend %q", s)
	}
}

// Config selects and configures a variant.
type Config struct {
	Backend Backend
	// Endpoint is the backend base URL for the http and function variants.
	Endpoint   string
	Timeout    time.Duration
	Workers    int
	Tolerance  float64
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// New builds the configured variant wrapped with metrics.
func New(cfg Config) (Remover, error) {
	var (
		r   Remover
		err error
	)
	switch cfg.Backend {
	case BackendEmbedded, "":
		r = NewEmbedded(EmbeddedOptions{
			Workers:   cfg.Workers,
			Tolerance: cfg.Tolerance,
			Logger:    cfg.Logger,
		})
		cfg.Backend = BackendEmbedded
	case BackendHTTP:
		r, err = NewHTTPRemover(HTTPOptions{
			BaseURL:        cfg.Endpoint,
			HTTPClient:     cfg.HTTPClient,
			RequestTimeout: cfg.Timeout,
			Logger:         cfg.Logger,
		})
	case BackendFunction:
		r, err = NewFunctionRemover(HTTPOptions{
			BaseURL:        cfg.Endpoint,
			HTTPClient:     cfg.HTTPClient,
			RequestTimeout: cfg.Timeout,
			Logger:         cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("capability: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(r, string(cfg.Backend)), nil
}

type instrumented struct {
	next    Remover
	backend string
}

// Instrument records call counts and latency for r.
func Instrument(r Remover, backend string) Remover {
	return &instrumented{next: r, backend: backend}
}

func (i *instrumented) RemoveBackground(ctx context.Context, img asset.Image) (asset.Image, error) {
	start := time.Now()
	out, err := i.next.RemoveBackground(ctx, img)
	metrics.CapabilityDuration.WithLabelValues(i.backend).Observe(time.Since(start).Seconds())
	metrics.CapabilityRequestsTotal.WithLabelValues(i.backend, Outcome(err)).Inc()
	return out, err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

func (i *instrumented) String() string {
	return i.backend
}

func loggerOrNop(l *zerolog.Logger) *zerolog.Logger {
	if l != nil {
		return l
	}
	nop := zerolog.Nop()
	return &nop
}
