package session

import (
	"errors"

	"bgremover/internal/asset"
)

// State enumerates the session lifecycle.
type State int

const (
	Idle State = iota
	Loaded
	Processing
	Ready
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loaded:
		return "loaded"
	case Processing:
		return "processing"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrNotReady is returned when a download is requested outside Ready.
	ErrNotReady = errors.New("session: no processed image to download")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
	// ErrStaleResult marks a capability response superseded by a newer
	// request. It is only logged, never surfaced.
	ErrStaleResult = errors.New("session: stale result discarded")
)

// Snapshot is a read-only copy of the session. Result and ResultURL are set
// only in Ready; Original is set in every state except Idle.
type Snapshot struct {
	State       State
	Seq         uint64
	Original    *asset.Image
	Result      *asset.Image
	OriginalURL string
	ResultURL   string
	Err         error
}

// Message returns the user-visible error text, if any.
func (s Snapshot) Message() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Listener observes transitions. It must not call mutating Session methods
// synchronously.
type Listener func(Snapshot)
