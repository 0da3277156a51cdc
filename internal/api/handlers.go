package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/harrylevesque/erpportal/internal/apperr"
	"github.com/harrylevesque/erpportal/internal/auth"
	"github.com/harrylevesque/erpportal/internal/erp"
	"github.com/harrylevesque/erpportal/internal/handles"
	"github.com/harrylevesque/erpportal/internal/logging"
	"github.com/harrylevesque/erpportal/internal/surface"
	"github.com/harrylevesque/erpportal/internal/viewer"
)

// Authenticator logs users in against the ERP.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*erp.LoginResult, error)
}

// BlobStore serves materialized handles.
type BlobStore interface {
	viewer.HandleStore
	Open(id string) (*handles.Handle, []byte, error)
}

type Deps struct {
	Sessions *auth.Manager
	ERP      Authenticator
	Fetcher  viewer.Fetcher
	Blobs    BlobStore
	Catalog  erp.Catalog
	Detector surface.Detector
	Viewer   viewer.Options
	Logger   *slog.Logger
}

type Server struct {
	sessions *auth.Manager
	erp      Authenticator
	blobs    BlobStore
	catalog  erp.Catalog
	viewers  *viewer.Registry
	log      *slog.Logger
}

func NewServer(d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{
		sessions: d.Sessions,
		erp:      d.ERP,
		blobs:    d.Blobs,
		catalog:  d.Catalog,
		log:      log,
	}
	opts := d.Viewer
	opts.Logger = log.With("component", "viewer")
	s.viewers = viewer.NewRegistry(d.Fetcher, d.Blobs, d.Detector, opts, s.loginRequired)
	s.sessions.OnSessionEnd(s.viewers.Drop)
	return s
}

// loginRequired ends the portal session whose token the ERP refused and
// releases everything its viewers hold.
func (s *Server) loginRequired(sessionID, documentID string, err error) {
	s.log.Info("login required", "session", sessionID, "document_id", documentID, "kind", apperr.KindOf(err).String())
	s.sessions.Revoke(sessionID)
	s.viewers.Drop(sessionID)
}

// Shutdown closes all viewers and waits for pending fetches.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.viewers.Shutdown(ctx)
}

func (s *Server) Viewers() *viewer.Registry { return s.viewers }

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "OK")
}

func (s *Server) loginForm(w http.ResponseWriter, r *http.Request) {
	renderLogin(w, http.StatusOK, loginPage{})
}

func renderLogin(w http.ResponseWriter, status int, p loginPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	loginTemplate.Execute(w, p)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	jsonReq := wantsJSON(r)
	if jsonReq {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			ErrorResponse(w, apperr.Wrap(apperr.KindInvalidInput, err, "invalid login payload"))
			return
		}
	} else {
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		err := apperr.New(apperr.KindInvalidInput, "username and password are required")
		if jsonReq {
			ErrorResponse(w, err)
		} else {
			renderLogin(w, http.StatusBadRequest, loginPage{Username: req.Username, Error: err.Message})
		}
		return
	}

	res, err := s.erp.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.log.Info("login failed", "user", req.Username, "kind", apperr.KindOf(err).String())
		if jsonReq {
			ErrorResponse(w, err)
		} else {
			renderLogin(w, apperr.HTTPStatus(err), loginPage{Username: req.Username, Error: apperr.KindOf(err).UserMessage()})
		}
		return
	}
	sess, err := s.sessions.Login(w, r, res.Token, res.Profile)
	if err != nil {
		s.log.Error("start session", "error", err)
		http.Error(w, "could not start session", http.StatusInternalServerError)
		return
	}
	if jsonReq {
		JSONResponse(w, http.StatusOK, map[string]interface{}{"session": sess.ID, "user": sess.Profile})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	id, _ := s.sessions.Logout(w, r)
	if id != "" {
		s.viewers.Drop(id)
	}
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", auth.LoginPath)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.FromContext(r.Context())
	m := s.viewers.For(sess.ID, r.UserAgent())
	p := homePage{Name: sess.Profile.Name}
	for _, id := range m.Page().IDs() {
		if n, ok := m.Page().Node(id); ok {
			p.Viewers = append(p.Viewers, template.HTML(n.Fragment))
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	homeTemplate.Execute(w, p)
}

// manager returns the caller's viewer manager, creating it on first use.
func (s *Server) manager(r *http.Request) (*auth.Session, *viewer.Manager) {
	sess, _ := auth.FromContext(r.Context())
	return sess, s.viewers.For(sess.ID, r.UserAgent())
}

func (s *Server) openDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	desc, err := s.catalog.Describe(erp.Kind(strings.ToLower(vars["kind"])), vars["number"], r.URL.Query())
	if err != nil {
		ErrorResponse(w, err)
		return
	}
	sess, m := s.manager(r)
	documentID := desc.DocumentID()
	if err := m.Open(documentID, desc, sess.Token); err != nil {
		if apperr.KindOf(err).RequiresLogin() {
			s.endSession(w, r, sess)
			return
		}
		ErrorResponse(w, err)
		return
	}
	s.writeViewer(w, r, m, documentID, http.StatusAccepted)
}

func (s *Server) showViewer(w http.ResponseWriter, r *http.Request) {
	sess, m := s.manager(r)
	documentID := mux.Vars(r)["documentId"]
	if st, ok := m.Session(documentID); ok && st.LoginRequired() {
		s.endSession(w, r, sess)
		return
	}
	s.writeViewer(w, r, m, documentID, http.StatusOK)
}

func (s *Server) writeViewer(w http.ResponseWriter, r *http.Request, m *viewer.Manager, documentID string, status int) {
	n, ok := m.Page().Node(surface.ContainerID(documentID))
	if !ok {
		ErrorResponse(w, apperr.New(apperr.KindNotFound, "no viewer for document"))
		return
	}
	writeFragment(w, status, n.Fragment)
}

// endSession handles a viewer that needs a new login: its portal session is
// revoked, its viewers dropped and the client sent to the login page.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	s.sessions.EndSession(w, r, sess)
	if !sess.Bearer {
		s.viewers.Drop(sess.ID)
	}
	auth.RedirectToLogin(w, r)
}

func (s *Server) closeViewer(w http.ResponseWriter, r *http.Request) {
	_, m := s.manager(r)
	m.Close(mux.Vars(r)["documentId"])
	if isHTMX(r) {
		// htmx does not swap on 204.
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) retryViewer(w http.ResponseWriter, r *http.Request) {
	sess, m := s.manager(r)
	documentID := mux.Vars(r)["documentId"]
	if err := m.Retry(documentID, sess.Token); err != nil {
		if apperr.KindOf(err).RequiresLogin() {
			s.endSession(w, r, sess)
			return
		}
		ErrorResponse(w, err)
		return
	}
	s.writeViewer(w, r, m, documentID, http.StatusAccepted)
}

func (s *Server) rawDocument(w http.ResponseWriter, r *http.Request) {
	_, m := s.manager(r)
	data, mimeType, filename, ok := m.RawBody(mux.Vars(r)["documentId"])
	if !ok {
		ErrorResponse(w, apperr.New(apperr.KindNotFound, "nothing was fetched for this document"))
		return
	}
	// Unverified upstream content is only ever offered as a download.
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Upstream-Content-Type", mimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (s *Server) serveBlob(w http.ResponseWriter, r *http.Request) {
	_, m := s.manager(r)
	id := mux.Vars(r)["handle"]
	if !m.OwnsHandle(id) {
		http.NotFound(w, r)
		return
	}
	h, data, err := s.blobs.Open(id)
	if err != nil {
		if errors.Is(err, handles.ErrRevoked) {
			http.NotFound(w, r)
			return
		}
		s.log.Error("open handle", "handle", id, "error", err)
		http.Error(w, "could not read document", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", h.MimeType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": h.Filename}))
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, h.Filename, h.CreatedAt, bytes.NewReader(data))
}
