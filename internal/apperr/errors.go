package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by what the portal should do about it.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindInvalidCredentials
	KindUnauthenticated
	KindSessionExpired
	KindNotFound
	KindInvalidContentType
	KindNetworkOrServer
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindSessionExpired:
		return "session_expired"
	case KindNotFound:
		return "not_found"
	case KindInvalidContentType:
		return "invalid_content_type"
	case KindNetworkOrServer:
		return "network_or_server"
	default:
		return "unknown"
	}
}

// RequiresLogin reports whether the user has to be sent back to the login entry point.
func (k Kind) RequiresLogin() bool {
	return k == KindUnauthenticated || k == KindSessionExpired
}

// Retryable reports whether offering a manual retry makes sense.
func (k Kind) Retryable() bool {
	return k == KindNetworkOrServer || k == KindInvalidContentType || k == KindUnknown
}

// UserMessage is the text shown in the viewer overlay or toast.
func (k Kind) UserMessage() string {
	switch k {
	case KindInvalidInput:
		return "The request is not valid."
	case KindInvalidCredentials:
		return "Invalid username or password."
	case KindUnauthenticated:
		return "Please sign in to view this document."
	case KindSessionExpired:
		return "Your session has expired. Please sign in again."
	case KindNotFound:
		return "This document is not available."
	case KindInvalidContentType:
		return "The server did not return a PDF document."
	default:
		return "The document could not be loaded. Please try again."
	}
}

// Error carries a Kind together with the upstream status (if any) and the cause.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.UserMessage()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, apperr.NotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Status == 0 && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	InvalidInput       = &Error{Kind: KindInvalidInput}
	InvalidCredentials = &Error{Kind: KindInvalidCredentials}
	Unauthenticated    = &Error{Kind: KindUnauthenticated}
	SessionExpired     = &Error{Kind: KindSessionExpired}
	NotFound           = &Error{Kind: KindNotFound}
	InvalidContentType = &Error{Kind: KindInvalidContentType}
	NetworkOrServer    = &Error{Kind: KindNetworkOrServer}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// FromStatus builds an error for a non-2xx upstream response.
func FromStatus(status int, message string) *Error {
	return &Error{Kind: Classify(status), Status: status, Message: message}
}

// Classify maps an upstream HTTP status to a Kind. 2xx statuses map to KindUnknown.
func Classify(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindSessionExpired
	case status >= 400:
		return KindNetworkOrServer
	default:
		return KindUnknown
	}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// As returns err as *Error, wrapping foreign errors as KindNetworkOrServer.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(KindNetworkOrServer, err, "")
}

// HTTPStatus is the status the portal answers with for err.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindUnauthenticated, KindSessionExpired:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidContentType:
		return http.StatusBadGateway
	case KindNetworkOrServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
