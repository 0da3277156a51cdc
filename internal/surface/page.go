package surface

import (
	"sort"
	"sync"
	"time"
)

// Node is a mounted viewer fragment.
type Node struct {
	ID          string
	DocumentID  string
	Phase       Phase
	DocumentURL string
	Fragment    []byte
	MountedAt   time.Time
}

// Page is the set of nodes mounted for one portal user, keyed by node id.
type Page struct {
	mu    sync.RWMutex
	nodes map[string]Node
}

func NewPage() *Page {
	return &Page{nodes: make(map[string]Node)}
}

// Mount inserts n, replacing any node with the same id. It reports whether a
// node was replaced.
func (p *Page) Mount(n Node) bool {
	if n.MountedAt.IsZero() {
		n.MountedAt = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, replaced := p.nodes[n.ID]
	p.nodes[n.ID] = n
	return replaced
}

// Unmount removes the node. Missing ids are ignored.
func (p *Page) Unmount(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.nodes[id]
	delete(p.nodes, id)
	return ok
}

func (p *Page) Node(id string) (Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[id]
	return n, ok
}

// IDs returns the mounted node ids in sorted order.
func (p *Page) IDs() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.nodes))
	for id := range p.nodes {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (p *Page) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.nodes)
}
