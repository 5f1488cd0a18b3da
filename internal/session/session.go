// Package session owns the upload, process, preview and download lifecycle
// of a single image.
//
// A Session moves Idle -> Loaded -> Processing -> Ready, or to Error when the
// capability fails. Each processing request carries a sequence number; a
// response whose number is no longer the latest is dropped, so a slow answer
// for an earlier selection can never replace the preview of a newer one.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bgremover/internal/asset"
	"bgremover/internal/capability"
	"bgremover/internal/metrics"
	"bgremover/internal/transfer"
)

// DefaultTimeout bounds one capability call.
const DefaultTimeout = 30 * time.Second

// Option customises a Session.
type Option func(*Session)

// WithTimeout sets the per-request capability timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithSaver delivers downloads through sv.
func WithSaver(sv transfer.Saver) Option {
	return func(s *Session) { s.saver = sv }
}

func WithRegistry(r *transfer.Registry) Option {
	return func(s *Session) {
		if r != nil {
			s.registry = r
		}
	}
}

func WithEncoder(e *transfer.Encoder) Option {
	return func(s *Session) {
		if e != nil {
			s.encoder = e
		}
	}
}

// WithMaxUploadBytes caps the size of a selected file.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// Delivery is the outcome of a download request.
type Delivery struct {
	transfer.Download
	// Location is where the Saver put the file; empty without a Saver.
	Location string
}

// Session is safe for concurrent use. The capability call runs on its own
// goroutine; every other operation returns without waiting for it.
type Session struct {
	remover  capability.Remover
	registry *transfer.Registry
	encoder  *transfer.Encoder
	saver    transfer.Saver
	logger   zerolog.Logger
	timeout  time.Duration
	maxBytes int64

	mu          sync.Mutex
	state       State
	seq         uint64
	original    *asset.Image
	result      *asset.Image
	originalURL string
	resultURL   string
	err         error
	cancel      context.CancelFunc
	closed      bool

	listeners map[int]Listener
	nextID    int
	pending   []Snapshot
	draining  bool

	inflight sync.WaitGroup
}

// New creates an Idle session backed by remover.
func New(remover capability.Remover, opts ...Option) *Session {
	s := &Session{
		remover:   remover,
		logger:    zerolog.Nop(),
		timeout:   DefaultTimeout,
		maxBytes:  transfer.DefaultMaxBytes,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = transfer.NewRegistry()
	}
	if s.encoder == nil {
		s.encoder = transfer.NewEncoder(transfer.EncoderOptions{Registry: s.registry})
	}
	return s
}

// Registry exposes the transient URL registry so a renderer can resolve
// preview URLs.
func (s *Session) Registry() *transfer.Registry {
	return s.registry
}

// Subscribe registers l for every subsequent transition, delivered in order.
// The returned func removes it.
func (s *Session) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Select loads f and starts processing it. A non-image file returns a
// *transfer.UnsupportedTypeError and leaves the session untouched. Selecting
// while a request is in flight supersedes it.
func (s *Session) Select(f transfer.File) error {
	img, err := transfer.Decode(f, s.maxBytes)
	if err != nil {
		s.logger.Info().Err(err).Msg("session: selection rejected")
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == Processing {
		s.logger.Debug().Uint64("seq", s.seq).Msg("session: superseding in-flight request")
	}
	s.abandonLocked()
	s.releaseLocked()

	s.original = &img
	s.originalURL = s.registry.Create(img)
	s.transitionLocked(Loaded)

	s.seq++
	seq := s.seq
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	s.cancel = cancel
	s.transitionLocked(Processing)
	s.inflight.Add(1)
	s.logger.Debug().
		Uint64("seq", seq).
		Str("name", img.Name).
		Int("bytes", len(img.Data)).
		Msg("session: processing request issued")
	s.flushAndUnlock()

	go s.process(ctx, cancel, seq, img.Clone())
	return nil
}

// Reset returns the session to Idle, revoking every transient URL and
// invalidating any in-flight request. Reset on an Idle session is a no-op.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.closed || s.state == Idle {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.abandonLocked()
	s.releaseLocked()
	s.transitionLocked(Idle)
	s.flushAndUnlock()
}

// Download encodes the displayed result as background-removed.png and, when
// a Saver is configured, delivers it. The state is not changed.
func (s *Session) Download(ctx context.Context) (Delivery, error) {
	s.mu.Lock()
	if s.state != Ready {
		s.mu.Unlock()
		return Delivery{}, ErrNotReady
	}
	ref := s.resultURL
	seq := s.seq
	s.mu.Unlock()

	dl, err := s.encoder.EncodeForDownload(ctx, ref)
	if err != nil {
		return Delivery{}, err
	}
	out := Delivery{Download: dl}
	if s.saver != nil {
		out.Location, err = s.saver.Save(ctx, dl.Filename, dl.Data)
		if err != nil {
			return Delivery{}, err
		}
	}
	s.logger.Info().
		Uint64("seq", seq).
		Str("filename", dl.Filename).
		Str("location", out.Location).
		Int("bytes", len(dl.Data)).
		Msg("session: result downloaded")
	return out, nil
}

// Wait blocks until no capability call is outstanding.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Close abandons in-flight work, releases all URLs and closes the remover.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.seq++
	s.abandonLocked()
	s.releaseLocked()
	s.state = Idle
	s.mu.Unlock()

	s.inflight.Wait()
	if s.remover != nil {
		return s.remover.Close()
	}
	return nil
}

func (s *Session) process(ctx context.Context, cancel context.CancelFunc, seq uint64, img asset.Image) {
	defer s.inflight.Done()
	defer cancel()

	out, err := s.remover.RemoveBackground(ctx, img)
	if err != nil {
		err = capability.Classify(err)
	}
	s.complete(seq, out, err)
}

// complete applies a capability response if seq is still current and
// reports whether it did.
func (s *Session) complete(seq uint64, out asset.Image, err error) bool {
	s.mu.Lock()
	if s.closed || seq != s.seq || s.state != Processing {
		current := s.seq
		s.mu.Unlock()
		metrics.StaleResultsDiscarded.Inc()
		s.logger.Debug().
			Err(err).
			Uint64("seq", seq).
			Uint64("current_seq", current).
			Msg(ErrStaleResult.Error())
		return false
	}
	s.cancel = nil
	if err != nil {
		s.err = err
		s.transitionLocked(Error)
		s.logger.Warn().Err(err).Uint64("seq", seq).Str("outcome", capability.Outcome(err)).Msg("session: processing failed")
	} else {
		res := out
		res.Source = asset.SourceResult
		s.result = &res
		s.resultURL = s.registry.Create(res)
		s.transitionLocked(Ready)
		s.logger.Info().Uint64("seq", seq).Int("bytes", len(res.Data)).Msg("session: result ready")
	}
	s.flushAndUnlock()
	return true
}

// abandonLocked stops waiting on the in-flight request, if any.
func (s *Session) abandonLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// releaseLocked revokes every transient URL and drops both assets.
func (s *Session) releaseLocked() {
	s.registry.Revoke(s.originalURL)
	s.registry.Revoke(s.resultURL)
	s.originalURL = ""
	s.resultURL = ""
	s.original = nil
	s.result = nil
	s.err = nil
}

func (s *Session) transitionLocked(to State) {
	from := s.state
	s.state = to
	metrics.SessionTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	s.pending = append(s.pending, s.snapshotLocked())
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       s.state,
		Seq:         s.seq,
		OriginalURL: s.originalURL,
		ResultURL:   s.resultURL,
		Err:         s.err,
	}
	if s.original != nil {
		o := s.original.Clone()
		snap.Original = &o
	}
	if s.result != nil {
		r := s.result.Clone()
		snap.Result = &r
	}
	return snap
}

// flushAndUnlock delivers pending snapshots outside the lock. Only one
// goroutine drains at a time, which keeps delivery in transition order.
func (s *Session) flushAndUnlock() {
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		batch := s.pending
		s.pending = nil
		listeners := s.orderedListenersLocked()
		s.mu.Unlock()
		for _, snap := range batch {
			for _, l := range listeners {
				l(snap)
			}
		}
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *Session) orderedListenersLocked() []Listener {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}
