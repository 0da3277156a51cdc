package handles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrylevesque/erpportal/internal/crypto"
	"github.com/harrylevesque/erpportal/internal/pdfmeta"
)

const (
	spoolExt     = ".blob"
	spoolPurpose = "document-handle-spool"
)

var (
	// ErrRevoked is returned for handles that were revoked or never existed.
	ErrRevoked = errors.New("handle revoked")
	ErrEmpty   = errors.New("empty document")
)

// Handle is a temporary, revocable reference to materialized document bytes.
type Handle struct {
	ID        string
	URL       string
	MimeType  string
	Filename  string
	Size      int64
	PageCount int
	CreatedAt time.Time
}

// Store materializes document bytes as encrypted spool files addressed by URL.
type Store struct {
	dir       string
	key       []byte
	urlPrefix string

	mu      sync.RWMutex
	handles map[string]*Handle
	now     func() time.Time
}

// NewStore creates the spool dir. masterKey may be nil, in which case a
// process-lifetime random key is used (handles never outlive the process).
func NewStore(dir string, masterKey []byte, urlPrefix string) (*Store, error) {
	if masterKey == nil {
		masterKey = crypto.MustRandom(crypto.KeySize)
	}
	key, err := crypto.DeriveKey(masterKey, spoolPurpose)
	if err != nil {
		return nil, fmt.Errorf("derive spool key: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = "/blobs/"
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &Store{
		dir:       dir,
		key:       key,
		urlPrefix: urlPrefix,
		handles:   make(map[string]*Handle),
		now:       time.Now,
	}, nil
}

// Acquire materializes data and returns its handle.
func (s *Store) Acquire(data []byte, mimeType, filename string) (*Handle, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	id := uuid.NewString()
	blob, err := crypto.EncryptAESGCM(s.key, data, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("seal handle: %w", err)
	}
	if err := os.WriteFile(s.path(id), blob, 0o600); err != nil {
		return nil, fmt.Errorf("write handle: %w", err)
	}
	h := &Handle{
		ID:        id,
		URL:       s.urlPrefix + id,
		MimeType:  mimeType,
		Filename:  filename,
		Size:      int64(len(data)),
		CreatedAt: s.now().UTC(),
	}
	// Page count is informational; unparsable documents still render.
	if info, err := pdfmeta.Inspect(data); err == nil {
		h.PageCount = info.PageCount
	}
	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()
	return h, nil
}

// Open returns the handle and its decrypted bytes.
func (s *Store) Open(id string) (*Handle, []byte, error) {
	s.mu.RLock()
	h, ok := s.handles[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrRevoked
	}
	blob, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrRevoked
		}
		return nil, nil, err
	}
	data, err := crypto.DecryptAESGCM(s.key, blob, []byte(id))
	if err != nil {
		return nil, nil, fmt.Errorf("open handle: %w", err)
	}
	cp := *h
	return &cp, data, nil
}

// Revoke removes the handle. A second revoke of the same id returns ErrRevoked.
func (s *Store) Revoke(id string) error {
	s.mu.Lock()
	_, ok := s.handles[id]
	delete(s.handles, id)
	s.mu.Unlock()
	if !ok {
		return ErrRevoked
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove handle: %w", err)
	}
	return nil
}

// Len is the number of live handles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Sweep deletes spool files that no live handle references, e.g. left by a crash.
func (s *Store) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, spoolExt) {
			continue
		}
		if _, live := s.handles[strings.TrimSuffix(name, spoolExt)]; live {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Purge revokes every live handle.
func (s *Store) Purge() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	var errs []error
	for _, id := range ids {
		if err := s.Revoke(id); err != nil && !errors.Is(err, ErrRevoked) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+spoolExt)
}
