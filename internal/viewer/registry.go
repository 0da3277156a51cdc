package viewer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harrylevesque/erpportal/internal/logging"
	"github.com/harrylevesque/erpportal/internal/surface"
)

// LoginRequiredFunc is told which portal session needs a new login.
type LoginRequiredFunc func(sessionID, documentID string, err error)

// Registry keeps one Manager per portal session.
type Registry struct {
	fetch    Fetcher
	store    HandleStore
	detector surface.Detector
	opts     Options
	onLogin  LoginRequiredFunc
	log      *slog.Logger

	now      func() time.Time

	mu       sync.Mutex
	managers map[string]*entry
}

type entry struct {
	m        *Manager
	lastUsed time.Time
}

// NewRegistry builds managers sharing fetch, store and opts. Surface, Page and
// OnLoginRequired in opts are ignored; they are set per session.
func NewRegistry(fetch Fetcher, store HandleStore, detector surface.Detector, opts Options, onLogin LoginRequiredFunc) *Registry {
	if detector == nil {
		detector = surface.NewUserAgentDetector()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Registry{
		fetch:    fetch,
		store:    store,
		detector: detector,
		opts:     opts,
		onLogin:  onLogin,
		log:      log,
		now:      time.Now,
		managers: make(map[string]*entry),
	}
}

// For returns the session's manager, creating it on first use. The surface is
// chosen from userAgent only at creation.
func (r *Registry) For(sessionID, userAgent string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.managers[sessionID]; ok {
		e.lastUsed = r.now()
		return e.m
	}
	opts := r.opts
	opts.Surface = r.detector.Detect(userAgent)
	opts.Page = surface.NewPage()
	opts.Logger = r.log.With("portal_session", sessionID)
	opts.OnLoginRequired = func(documentID string, err error) {
		if r.onLogin != nil {
			r.onLogin(sessionID, documentID, err)
		}
	}
	m := New(r.fetch, r.store, opts)
	r.managers[sessionID] = &entry{m: m, lastUsed: r.now()}
	opts.Logger.Debug("viewer manager created", "surface", opts.Surface.Name())
	return m
}

func (r *Registry) Get(sessionID string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.managers[sessionID]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.now()
	return e.m, true
}

// Drop closes every viewer of the session and forgets its manager. Fetches
// still in flight settle without effect.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	e, ok := r.managers[sessionID]
	delete(r.managers, sessionID)
	r.mu.Unlock()
	if ok {
		e.m.CloseAll()
		r.log.Debug("viewer manager dropped", "portal_session", sessionID)
	}
}

// Evict drops managers not used for longer than maxIdle and returns how many
// were dropped. Sessions that end without a logout, bearer clients included,
// are reclaimed this way.
func (r *Registry) Evict(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)
	r.mu.Lock()
	var idle []*Manager
	for id, e := range r.managers {
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, e.m)
			delete(r.managers, id)
		}
	}
	r.mu.Unlock()
	for _, m := range idle {
		m.CloseAll()
	}
	if len(idle) > 0 {
		r.log.Info("idle viewer managers evicted", "count", len(idle))
	}
	return len(idle)
}

// RunEviction calls Evict every interval until ctx is done.
func (r *Registry) RunEviction(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(maxIdle)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// Shutdown closes all viewers and waits for in-flight fetches or ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for id, e := range r.managers {
		managers = append(managers, e.m)
		delete(r.managers, id)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, m := range managers {
			m.CloseAll()
			m.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
