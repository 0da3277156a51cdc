package viewer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/erpportal/internal/apperr"
	"github.com/harrylevesque/erpportal/internal/erp"
	"github.com/harrylevesque/erpportal/internal/surface"
)

const (
	desktopUA = "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0 Safari/537.36"
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148"
)

func TestRegistryOneManagerPerSession(t *testing.T) {
	r := NewRegistry(newFakeFetcher(), newFakeStore(), nil, Options{}, nil)
	a := r.For("s1", desktopUA)
	assert.Same(t, a, r.For("s1", iphoneUA))
	assert.Equal(t, surface.InlineFrameName, a.Surface().Name(), "surface is chosen once")

	b := r.For("s2", iphoneUA)
	assert.NotSame(t, a, b)
	assert.Equal(t, surface.EmbedFallbackName, b.Surface().Name())
	assert.NotSame(t, a.Page(), b.Page())
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("s2")
	require.True(t, ok)
	assert.Same(t, b, got)
	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryDropClosesViewers(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(newFakeFetcher(), store, nil, Options{}, nil)
	m := r.For("s1", desktopUA)
	require.NoError(t, m.Open("order-1", desc(erp.KindOrder, "1", "/orders/1/pdf"), "tok"))
	m.Wait()
	require.Equal(t, 1, store.liveCount())

	r.Drop("s1")
	assert.Zero(t, store.liveCount())
	assert.Zero(t, m.Page().Len())
	assert.Zero(t, r.Len())
	r.Drop("s1")
}

func TestRegistryLoginHookCarriesSession(t *testing.T) {
	var mu sync.Mutex
	var got []string
	r := NewRegistry(newFakeFetcher(), newFakeStore(), nil, Options{}, func(sessionID, documentID string, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
		got = append(got, sessionID+"/"+documentID)
	})
	m := r.For("s9", desktopUA)
	_ = m.Open("boleto-1", desc(erp.KindBoleto, "1", "/boletos/1/pdf"), "")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"s9/boleto-1"}, got)
}

func TestRegistryShutdownWaitsForFetches(t *testing.T) {
	fetch, store := newFakeFetcher(), newFakeStore()
	release := fetch.hold("/orders/1/pdf")
	r := NewRegistry(fetch, store, nil, Options{}, nil)
	m := r.For("s1", desktopUA)
	require.NoError(t, m.Open("order-1", desc(erp.KindOrder, "1", "/orders/1/pdf"), "tok"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Shutdown(ctx), context.DeadlineExceeded)

	release()
	require.NoError(t, r.Shutdown(context.Background()))
	m.Wait()
	assert.Zero(t, store.acquiredCount(), "fetch settling after shutdown is dropped")
}

func TestRegistryEvictsIdleManagers(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(newFakeFetcher(), store, nil, Options{}, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	idle := r.For("bearer-0011223344556677", desktopUA)
	require.NoError(t, idle.Open("order-1", desc(erp.KindOrder, "1", "/orders/1/pdf"), "tok"))
	idle.Wait()
	require.Equal(t, 1, store.liveCount())

	now = now.Add(50 * time.Minute)
	r.For("s2", desktopUA)
	assert.Zero(t, r.Evict(time.Hour))

	now = now.Add(20 * time.Minute)
	_, ok := r.Get("s2")
	require.True(t, ok)
	assert.Equal(t, 1, r.Evict(time.Hour))
	assert.Zero(t, store.liveCount())
	assert.Zero(t, idle.Page().Len())
	_, ok = r.Get("bearer-0011223344556677")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRunEvictionStopsWithContext(t *testing.T) {
	r := NewRegistry(newFakeFetcher(), newFakeStore(), nil, Options{}, nil)
	r.For("s1", desktopUA)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunEviction(ctx, time.Millisecond, time.Nanosecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("eviction loop did not stop")
	}
}
