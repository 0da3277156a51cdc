package api

import (
	"encoding/json"
	"net/http"

	"github.com/harrylevesque/erpportal/internal/apperr"
)

// JSONResponse writes a JSON response.
func JSONResponse(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// ErrorResponse writes err as JSON with the status of its kind.
func ErrorResponse(w http.ResponseWriter, err error) {
	ae := apperr.As(err)
	msg := ae.Message
	if msg == "" {
		msg = ae.Kind.UserMessage()
	}
	JSONResponse(w, apperr.HTTPStatus(ae), map[string]string{
		"error": msg,
		"kind":  ae.Kind.String(),
	})
}

func writeFragment(w http.ResponseWriter, status int, fragment []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(fragment)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

func wantsJSON(r *http.Request) bool {
	return r.Header.Get("Content-Type") == "application/json" || r.Header.Get("Accept") == "application/json"
}
