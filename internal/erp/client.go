package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/harrylevesque/erpportal/internal/apperr"
	"github.com/harrylevesque/erpportal/internal/logging"
)

const (
	acceptPDF      = "application/pdf, application/octet-stream"
	maxErrorBody   = 4 << 10
	pdfMagic       = "%PDF-"
	defaultTimeout = 30 * time.Second
)

// Config locates the ERP and bounds its requests.
type Config struct {
	BaseURL          string
	FallbackBaseURL  string
	Timeout          time.Duration
	LoginPath        string
	MaxDocumentBytes int64
}

// Document is a fetched binary document.
type Document struct {
	Bytes    []byte
	MimeType string
	Endpoint string
}

// ContentTypeError is returned (wrapped in KindInvalidContentType) when the ERP
// answers 2xx with something other than a PDF. Body holds what was fetched.
type ContentTypeError struct {
	ContentType string
	Body        []byte
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("unexpected content type %q (%d bytes)", e.ContentType, len(e.Body))
}

// Profile is the minimal user profile returned at login.
type Profile struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// LoginResult is the ERP's answer to a successful login.
type LoginResult struct {
	Token   string  `json:"token"`
	Profile Profile `json:"user"`
}

// Client talks to the ERP document and auth endpoints.
type Client struct {
	http *http.Client
	cfg  Config
	log  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient returns a Client for cfg. Zero Timeout and MaxDocumentBytes get
// defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = 50 << 20
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.FallbackBaseURL = strings.TrimRight(cfg.FallbackBaseURL, "/")
	c := &Client{http: &http.Client{}, cfg: cfg, log: logging.Discard()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// bases lists the primary endpoint and, when configured, the fallback.
func (c *Client) bases() []string {
	if c.cfg.FallbackBaseURL == "" {
		return []string{c.cfg.BaseURL}
	}
	return []string{c.cfg.BaseURL, c.cfg.FallbackBaseURL}
}

// FetchDocument downloads the PDF described by desc using the bearer token.
// An empty token fails with KindUnauthenticated without touching the network.
func (c *Client) FetchDocument(ctx context.Context, desc Descriptor, token string) (*Document, error) {
	if token == "" {
		return nil, apperr.New(apperr.KindUnauthenticated, "no credential")
	}
	log := c.log.With("kind", desc.Kind, "endpoint", desc.Endpoint)

	var lastErr error
	for i, base := range c.bases() {
		doc, err := c.fetchOnce(ctx, base, desc, token)
		if err == nil {
			if i > 0 {
				log.Info("document fetched from fallback endpoint", "base", base)
			}
			return doc, nil
		}
		lastErr = err
		if apperr.KindOf(err) != apperr.KindNetworkOrServer || ctx.Err() != nil {
			break
		}
		log.Warn("document fetch failed", "base", base, "attempt", i+1, "error", err)
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, base string, desc Descriptor, token string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target := base + desc.Endpoint
	if len(desc.Query) > 0 {
		target += "?" + desc.Query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", acceptPDF)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.FromStatus(resp.StatusCode, errorMessage(resp.Body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxDocumentBytes+1))
	if err != nil {
		return nil, transportError(err)
	}
	if int64(len(body)) > c.cfg.MaxDocumentBytes {
		return nil, apperr.New(apperr.KindNetworkOrServer, fmt.Sprintf("document exceeds %d bytes", c.cfg.MaxDocumentBytes))
	}

	ct := resp.Header.Get("Content-Type")
	mimeType, ok := pdfMimeType(ct, body)
	if !ok {
		return nil, apperr.Wrap(apperr.KindInvalidContentType, &ContentTypeError{ContentType: ct, Body: body}, "")
	}
	return &Document{Bytes: body, MimeType: mimeType, Endpoint: target}, nil
}

// pdfMimeType accepts any pdf media type, and octet-stream only when the body looks like a PDF.
func pdfMimeType(contentType string, body []byte) (string, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case strings.Contains(mt, "pdf"):
		return mt, true
	case mt == "application/octet-stream" && bytes.HasPrefix(body, []byte(pdfMagic)):
		return "application/pdf", true
	default:
		return "", false
	}
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindNetworkOrServer, err, "request timed out")
	}
	return apperr.Wrap(apperr.KindNetworkOrServer, err, "request failed")
}

// errorMessage extracts "message" or "error" from a JSON error body, or the raw text.
func errorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, "<") {
		return ""
	}
	return s
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "username and password are required")
	}
	payload, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i, base := range c.bases() {
		res, err := c.loginOnce(ctx, base, payload)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if apperr.KindOf(err) != apperr.KindNetworkOrServer || ctx.Err() != nil {
			break
		}
		c.log.Warn("login request failed", "base", base, "attempt", i+1, "error", err)
	}
	return nil, lastErr
}

func (c *Client) loginOnce(ctx context.Context, base string, payload []byte) (*LoginResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+c.cfg.LoginPath, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &apperr.Error{Kind: apperr.KindInvalidCredentials, Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &apperr.Error{Kind: apperr.KindNetworkOrServer, Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	var res LoginResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res); err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkOrServer, err, "decode login response")
	}
	if res.Token == "" {
		return nil, apperr.New(apperr.KindNetworkOrServer, "login response without token")
	}
	return &res, nil
}
