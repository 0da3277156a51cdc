// Package surface renders document viewer fragments and tracks which of them
// are mounted on a user's page.
package surface

import (
	"fmt"
	"io"
	"strings"
)

// Phase is what a viewer container currently shows.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseFailed
	PhaseRendered
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseFailed:
		return "failed"
	case PhaseRendered:
		return "rendered"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// View holds the props of one viewer container.
type View struct {
	Phase       Phase
	DocumentID  string
	ContainerID string
	NodeID      string
	Title       string
	PageCount   int
	Filename    string
	// DocumentURL is the handle URL. Set only in PhaseRendered.
	DocumentURL string
	// FallbackURL opens already fetched bytes in a new context.
	FallbackURL string
	PollURL     string
	CloseURL    string
	RetryURL    string
	Message     string
}

// DocumentSurface renders a viewer container for one platform.
type DocumentSurface interface {
	Name() string
	Render(w io.Writer, v View) error
}

// ContainerID is the id of the outer node for documentID.
func ContainerID(documentID string) string {
	return "viewer-container-" + documentID
}

// NodeID is the id of the inner rendering surface, "<kind>-viewer-<number>"
// for document ids of the form "<kind>-<number>".
func NodeID(documentID string) string {
	kind, number, ok := strings.Cut(documentID, "-")
	if !ok || kind == "" || number == "" {
		return "document-viewer-" + documentID
	}
	return kind + "-viewer-" + number
}

func (v View) Loading() bool { return v.Phase == PhaseLoading }
func (v View) Failed() bool  { return v.Phase == PhaseFailed }
