// Package viewer manages per-document viewer sessions: fetching a document,
// materializing it as a handle, mounting its surface and tearing it all down.
package viewer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/harrylevesque/erpportal/internal/apperr"
	"github.com/harrylevesque/erpportal/internal/erp"
	"github.com/harrylevesque/erpportal/internal/handles"
	"github.com/harrylevesque/erpportal/internal/logging"
	"github.com/harrylevesque/erpportal/internal/surface"
)

const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultRoutePrefix  = "/viewer/"
)

// Options configures a Manager. Zero values fall back to the defaults above.
type Options struct {
	Surface surface.DocumentSurface
	Page    *surface.Page
	Logger  *slog.Logger
	// FetchTimeout bounds a single open, fallback attempts included.
	FetchTimeout time.Duration
	// RoutePrefix is where the viewer endpoints are served.
	RoutePrefix string
	// OnLoginRequired runs after a session fails with an error that needs a
	// new login. It is called without the manager lock held.
	OnLoginRequired func(documentID string, err error)
}

// Manager owns the viewer sessions of one portal user.
type Manager struct {
	fetch   Fetcher
	store   HandleStore
	surface surface.DocumentSurface
	page    *surface.Page
	log     *slog.Logger
	timeout time.Duration
	prefix  string
	onLogin func(documentID string, err error)

	mu       sync.Mutex
	sessions map[string]*session
	gen      uint64
	wg       sync.WaitGroup
}

// New returns a Manager that fetches through fetch and materializes documents
// in store.
func New(fetch Fetcher, store HandleStore, opts Options) *Manager {
	m := &Manager{
		fetch:    fetch,
		store:    store,
		surface:  opts.Surface,
		page:     opts.Page,
		log:      opts.Logger,
		timeout:  opts.FetchTimeout,
		prefix:   opts.RoutePrefix,
		onLogin:  opts.OnLoginRequired,
		sessions: make(map[string]*session),
	}
	if m.surface == nil {
		m.surface = surface.NewInlineFrameSurface()
	}
	if m.page == nil {
		m.page = surface.NewPage()
	}
	if m.log == nil {
		m.log = logging.Discard()
	}
	if m.timeout <= 0 {
		m.timeout = DefaultFetchTimeout
	}
	if m.prefix == "" {
		m.prefix = DefaultRoutePrefix
	}
	return m
}

// Page returns the node map the manager mounts its viewers into.
func (m *Manager) Page() *surface.Page { return m.page }

// Surface returns the surface chosen for this manager.
func (m *Manager) Surface() surface.DocumentSurface { return m.surface }

// Open starts loading desc into the viewer for documentID and returns without
// waiting for the fetch. An existing session for the id is torn down first,
// unless it is still loading the same descriptor, in which case Open is a no-op.
//
// An empty token fails the session immediately with KindUnauthenticated, which
// is also returned. No request is made.
func (m *Manager) Open(documentID string, desc erp.Descriptor, token string) error {
	if documentID == "" {
		return apperr.New(apperr.KindInvalidInput, "document id is required")
	}
	log := m.log.With("document_id", documentID, "endpoint", desc.Key())

	m.mu.Lock()
	if cur, ok := m.sessions[documentID]; ok {
		if cur.state == StateLoading && cur.desc.Key() == desc.Key() {
			m.mu.Unlock()
			log.Debug("open ignored, same document already loading")
			return nil
		}
		m.teardownLocked(cur)
	}
	m.gen++
	s := &session{
		id:        documentID,
		gen:       m.gen,
		state:     StateLoading,
		desc:      desc,
		startedAt: time.Now().UTC(),
	}
	m.sessions[documentID] = s

	if token == "" {
		err := apperr.New(apperr.KindUnauthenticated, "")
		m.failLocked(s, err)
		m.mu.Unlock()
		log.Info("open without credential")
		m.loginRequired(documentID, err)
		return err
	}

	if err := m.mountLocked(s); err != nil {
		m.failLocked(s, apperr.Wrap(apperr.KindUnknown, err, "render loading view"))
		m.mu.Unlock()
		return err
	}
	m.wg.Add(1)
	m.mu.Unlock()

	log.Debug("fetch dispatched", "generation", s.gen)
	go m.fetchAndSettle(s.gen, documentID, desc, token)
	return nil
}

func (m *Manager) fetchAndSettle(gen uint64, documentID string, desc erp.Descriptor, token string) {
	defer m.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	doc, err := m.fetch.FetchDocument(ctx, desc, token)
	cancel()
	m.settle(gen, documentID, doc, err)
}

func (m *Manager) settle(gen uint64, documentID string, doc *erp.Document, fetchErr error) {
	log := m.log.With("document_id", documentID, "generation", gen)

	m.mu.Lock()
	s, ok := m.loadingLocked(documentID, gen)
	if !ok {
		m.mu.Unlock()
		log.Debug("fetch settled for a superseded session, dropping result")
		return
	}

	if fetchErr == nil && doc == nil {
		fetchErr = apperr.New(apperr.KindNetworkOrServer, "empty response")
	}
	if fetchErr == nil {
		filename := s.desc.FilenameHint
		m.mu.Unlock()
		h, err := m.store.Acquire(doc.Bytes, doc.MimeType, filename)
		m.mu.Lock()
		if s, ok = m.loadingLocked(documentID, gen); !ok {
			m.mu.Unlock()
			if h != nil {
				m.revoke(documentID, h.ID)
			}
			log.Debug("session superseded while materializing, dropping result")
			return
		}
		if err != nil {
			s.raw, s.rawMime = doc.Bytes, doc.MimeType
			fetchErr = apperr.Wrap(apperr.KindUnknown, err, "materialize document")
		} else {
			fetchErr = m.renderLocked(s, h, doc)
		}
	}
	if fetchErr != nil {
		needLogin := m.failLocked(s, fetchErr)
		failure := s.err
		m.mu.Unlock()
		log.Warn("document failed", "kind", failure.Kind.String(), "error", fetchErr)
		if needLogin {
			m.loginRequired(documentID, failure)
		}
		return
	}
	h := *s.handle
	m.mu.Unlock()
	log.Info("document rendered", "handle", h.ID, "bytes", h.Size, "pages", h.PageCount)
}

// loadingLocked returns the session for documentID if it is still the loading
// session of generation gen.
func (m *Manager) loadingLocked(documentID string, gen uint64) (*session, bool) {
	s, ok := m.sessions[documentID]
	if !ok || s.gen != gen || s.state != StateLoading {
		return nil, false
	}
	return s, true
}

// renderLocked attaches h to s and mounts the rendered surface. If mounting
// fails the handle is released before returning.
func (m *Manager) renderLocked(s *session, h *handles.Handle, doc *erp.Document) error {
	s.handle = h
	s.state = StateRendered
	s.settledAt = time.Now().UTC()
	if err := m.mountLocked(s); err != nil {
		m.releaseLocked(s)
		s.raw, s.rawMime = doc.Bytes, doc.MimeType
		return apperr.Wrap(apperr.KindUnknown, err, "render document")
	}
	return nil
}

// failLocked moves s to StateFailed and mounts the matching error view. It
// reports whether the failure needs a new login.
func (m *Manager) failLocked(s *session, err error) bool {
	ae := apperr.As(err)
	s.state = StateFailed
	s.err = ae
	s.settledAt = time.Now().UTC()
	m.releaseLocked(s)

	var cte *erp.ContentTypeError
	if errors.As(err, &cte) && len(cte.Body) > 0 {
		s.raw, s.rawMime = cte.Body, cte.ContentType
	}

	if ae.Kind.RequiresLogin() {
		m.page.Unmount(surface.ContainerID(s.id))
		return true
	}
	if rerr := m.mountLocked(s); rerr != nil {
		m.log.Error("render error view", "document_id", s.id, "error", rerr)
		m.page.Unmount(surface.ContainerID(s.id))
	}
	return false
}

// releaseLocked revokes the session's handle, if any.
func (m *Manager) releaseLocked(s *session) {
	if s.handle == nil {
		return
	}
	id := s.handle.ID
	s.handle = nil
	m.revoke(s.id, id)
}

// revoke is the only place a handle is revoked.
func (m *Manager) revoke(documentID, handleID string) {
	if err := m.store.Revoke(handleID); err != nil {
		m.log.Error("revoke handle", "document_id", documentID, "handle", handleID, "error", err)
	}
}

func (m *Manager) teardownLocked(s *session) {
	m.releaseLocked(s)
	m.page.Unmount(surface.ContainerID(s.id))
	s.state = StateClosed
	s.raw = nil
	delete(m.sessions, s.id)
}

func (m *Manager) mountLocked(s *session) error {
	v := m.viewLocked(s)
	var buf bytes.Buffer
	if err := m.surface.Render(&buf, v); err != nil {
		return err
	}
	m.page.Mount(surface.Node{
		ID:          v.ContainerID,
		DocumentID:  s.id,
		Phase:       v.Phase,
		DocumentURL: v.DocumentURL,
		Fragment:    buf.Bytes(),
	})
	return nil
}

func (m *Manager) viewLocked(s *session) surface.View {
	base := m.prefix + url.PathEscape(s.id)
	v := surface.View{
		DocumentID:  s.id,
		ContainerID: surface.ContainerID(s.id),
		NodeID:      surface.NodeID(s.id),
		Title:       s.desc.Kind.Title() + " " + s.desc.Number,
		Filename:    s.desc.FilenameHint,
		PollURL:     base,
		CloseURL:    base + "/close",
	}
	switch s.state {
	case StateRendered:
		v.Phase = surface.PhaseRendered
		v.DocumentURL = s.handle.URL
		v.PageCount = s.handle.PageCount
	case StateFailed:
		v.Phase = surface.PhaseFailed
		v.Message = s.err.Kind.UserMessage()
		if s.err.Kind.Retryable() {
			v.RetryURL = base + "/retry"
			if len(s.raw) > 0 {
				v.FallbackURL = base + "/raw"
			}
		}
	default:
		v.Phase = surface.PhaseLoading
	}
	return v
}

func (m *Manager) loginRequired(documentID string, err error) {
	if m.onLogin != nil {
		m.onLogin(documentID, err)
	}
}

// Close tears down the session for documentID. Unknown or already closed ids
// are a no-op.
func (m *Manager) Close(documentID string) {
	m.mu.Lock()
	s, ok := m.sessions[documentID]
	if ok {
		m.teardownLocked(s)
	}
	m.mu.Unlock()
	if ok {
		m.log.Debug("viewer closed", "document_id", documentID)
	}
}

// Retry re-opens documentID with the descriptor of its last open.
func (m *Manager) Retry(documentID, token string) error {
	m.mu.Lock()
	s, ok := m.sessions[documentID]
	var desc erp.Descriptor
	if ok {
		desc = s.desc
	}
	m.mu.Unlock()
	if !ok {
		return apperr.New(apperr.KindNotFound, "no viewer for document")
	}
	return m.Open(documentID, desc, token)
}

func (m *Manager) Session(documentID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[documentID]
	if !ok {
		return Session{DocumentID: documentID, State: StateIdle}, false
	}
	return s.snapshot(), true
}

// Sessions returns snapshots of all open sessions ordered by document id.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

// RawBody returns bytes fetched for a failed session, for opening elsewhere.
func (m *Manager) RawBody(documentID string) (data []byte, mimeType, filename string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, found := m.sessions[documentID]
	if !found || s.state != StateFailed || len(s.raw) == 0 {
		return nil, "", "", false
	}
	return s.raw, s.rawMime, s.desc.FilenameHint, true
}

// OwnsHandle reports whether handleID belongs to a rendered session.
func (m *Manager) OwnsHandle(handleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.state == StateRendered && s.handle != nil && s.handle.ID == handleID {
			return true
		}
	}
	return false
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	for _, s := range m.sessions {
		m.teardownLocked(s)
	}
	m.mu.Unlock()
}

// Wait blocks until all dispatched fetches have settled.
func (m *Manager) Wait() {
	m.wg.Wait()
}
