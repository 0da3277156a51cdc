package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/login", s.loginForm).Methods("GET")
	r.HandleFunc("/login", s.login).Methods("POST")
	r.HandleFunc("/logout", s.logout).Methods("POST")

	authed := r.NewRoute().Subrouter()
	authed.Use(s.sessions.Middleware)
	authed.HandleFunc("/", s.home).Methods("GET")
	authed.HandleFunc("/documents/{kind}/{number}/view", s.openDocument).Methods("POST")
	authed.HandleFunc("/viewer/{documentId}", s.showViewer).Methods("GET")
	authed.HandleFunc("/viewer/{documentId}", s.closeViewer).Methods("DELETE")
	authed.HandleFunc("/viewer/{documentId}/close", s.closeViewer).Methods("POST")
	authed.HandleFunc("/viewer/{documentId}/retry", s.retryViewer).Methods("POST")
	authed.HandleFunc("/viewer/{documentId}/raw", s.rawDocument).Methods("GET")
	authed.HandleFunc("/blobs/{handle}", s.serveBlob).Methods("GET")
	return r
}

// Handler is the router wrapped with request logging.
func Handler(s *Server) http.Handler {
	return s.logRequests(NewRouter(s))
}
