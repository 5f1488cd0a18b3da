package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"bgremover/internal/asset"
	"bgremover/internal/metrics"
	"bgremover/internal/removal"
)

// Worker is one in-process removal run. Terminate must be called exactly once.
type Worker interface {
	Remove(ctx context.Context, data []byte) ([]byte, error)
	Terminate() error
}

// WorkerFactory starts a new Worker.
type WorkerFactory func() (Worker, error)

// EmbeddedOptions configures the embedded variant.
type EmbeddedOptions struct {
	// Workers bounds concurrent removals. Defaults to 1.
	Workers   int
	Tolerance float64
	Factory   WorkerFactory
	Logger    *zerolog.Logger
}

// Embedded runs the bundled removal engine in-process. Every call acquires
// its own worker and terminates it before returning.
type Embedded struct {
	sem     *semaphore.Weighted
	factory WorkerFactory
	logger  *zerolog.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

var _ Remover = (*Embedded)(nil)

// NewEmbedded constructs the embedded variant.
func NewEmbedded(opts EmbeddedOptions) *Embedded {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	factory := opts.Factory
	if factory == nil {
		engine := removal.Engine{Tolerance: opts.Tolerance}
		factory = func() (Worker, error) {
			return &engineWorker{engine: engine}, nil
		}
	}
	return &Embedded{
		sem:     semaphore.NewWeighted(int64(workers)),
		factory: factory,
		logger:  loggerOrNop(opts.Logger),
	}
}

// RemoveBackground fulfils the Remover interface.
func (e *Embedded) RemoveBackground(ctx context.Context, img asset.Image) (asset.Image, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return asset.Image{}, &ProcessingFailedError{Message: ErrClosed.Error(), Err: ErrClosed}
	}
	e.inflight.Add(1)
	e.mu.RUnlock()
	defer e.inflight.Done()

	if img.IsZero() {
		return asset.Image{}, Failed("no image data to process")
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return asset.Image{}, Classify(err)
	}
	defer e.sem.Release(1)

	worker, err := e.factory()
	if err != nil {
		return asset.Image{}, &ProcessingFailedError{Message: fmt.Sprintf("cannot start removal worker: %v", err), Err: err}
	}
	metrics.EmbeddedWorkersActive.Inc()
	defer func() {
		metrics.EmbeddedWorkersActive.Dec()
		if err := worker.Terminate(); err != nil {
			e.logger.Warn().Err(err).Msg("embedded: terminate worker")
		}
	}()

	out, err := worker.Remove(ctx, img.Data)
	if err != nil {
		if errors.Is(err, removal.ErrDecode) {
			return asset.Image{}, &ProcessingFailedError{Message: "the image could not be decoded", Err: err}
		}
		return asset.Image{}, Classify(err)
	}
	if len(out) == 0 {
		return asset.Image{}, Failed("background removal returned an empty image")
	}
	e.logger.Debug().
		Str("name", img.Name).
		Int("in_bytes", len(img.Data)).
		Int("out_bytes", len(out)).
		Msg("embedded: background removed")
	return asset.Image{Data: out, MIME: "image/png", Source: asset.SourceResult, Name: img.Name}, nil
}

// Close stops accepting work and waits for in-flight workers.
func (e *Embedded) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.inflight.Wait()
	return nil
}

func (e *Embedded) String() string {
	return string(BackendEmbedded)
}

type engineWorker struct {
	engine     removal.Engine
	terminated bool
}

func (w *engineWorker) Remove(ctx context.Context, data []byte) ([]byte, error) {
	if w.terminated {
		return nil, errors.New("embedded: worker terminated")
	}
	return w.engine.Remove(ctx, data)
}

func (w *engineWorker) Terminate() error {
	w.terminated = true
	return nil
}
