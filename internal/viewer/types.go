package viewer

import (
	"context"
	"fmt"
	"time"

	"github.com/harrylevesque/erpportal/internal/apperr"
	"github.com/harrylevesque/erpportal/internal/erp"
	"github.com/harrylevesque/erpportal/internal/handles"
)

// Fetcher retrieves document bytes from the ERP.
type Fetcher interface {
	FetchDocument(ctx context.Context, desc erp.Descriptor, token string) (*erp.Document, error)
}

// HandleStore materializes fetched bytes as revocable handles.
type HandleStore interface {
	Acquire(data []byte, mimeType, filename string) (*handles.Handle, error)
	Revoke(id string) error
}

// State of a viewer session.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateRendered
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateRendered:
		return "rendered"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is a snapshot of one document's viewer session.
type Session struct {
	DocumentID string
	Generation uint64
	State      State
	Descriptor erp.Descriptor
	Handle     *handles.Handle
	// Err is set in StateFailed.
	Err       *apperr.Error
	HasRaw    bool
	StartedAt time.Time
	SettledAt time.Time
}

// LoginRequired reports whether the session failed in a way that needs a new login.
func (s Session) LoginRequired() bool {
	return s.State == StateFailed && s.Err != nil && s.Err.Kind.RequiresLogin()
}

type session struct {
	id        string
	gen       uint64
	state     State
	desc      erp.Descriptor
	handle    *handles.Handle
	err       *apperr.Error
	raw       []byte
	rawMime   string
	startedAt time.Time
	settledAt time.Time
}

func (s *session) snapshot() Session {
	out := Session{
		DocumentID: s.id,
		Generation: s.gen,
		State:      s.state,
		Descriptor: s.desc,
		Err:        s.err,
		HasRaw:     len(s.raw) > 0,
		StartedAt:  s.startedAt,
		SettledAt:  s.settledAt,
	}
	if s.handle != nil {
		h := *s.handle
		out.Handle = &h
	}
	return out
}
