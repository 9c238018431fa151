package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/tenantd/tenantd/internal/observability"
	"github.com/tenantd/tenantd/internal/storage"
)

// ErrManagerClosed is returned when invoking through a closed manager.
var ErrManagerClosed = errors.New("actor manager closed")

// Tenant keys become database file names, so the charset is restricted.
var tenantKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Manager owns the live actors, one per tenant key. Actors are created
// lazily on first use and torn down on Close. Different tenants run fully
// in parallel; the manager itself holds its lock only long enough to
// resolve the actor, never across an invocation.
type Manager struct {
	dataDir string
	opts    Options
	log     *observability.Logger
	stats   *observability.CallStats

	mu     sync.Mutex
	actors map[string]*Actor
	closed bool
}

// NewManager creates an actor manager storing tenant databases under
// dataDir. Pass ":memory:" as dataDir to keep every tenant in memory
// (tests, ephemeral runs).
func NewManager(dataDir string, opts Options, log *observability.Logger) *Manager {
	if log == nil {
		log = observability.NewLogger("actor", nil)
	}
	return &Manager{
		dataDir: dataDir,
		opts:    opts,
		log:     log,
		stats:   observability.NewCallStats(0),
		actors:  make(map[string]*Actor),
	}
}

// Actor returns the live actor for a tenant, spawning it (and opening its
// store) on first use.
func (m *Manager) Actor(tenant string) (*Actor, error) {
	if !tenantKeyPattern.MatchString(tenant) {
		return nil, fmt.Errorf("invalid tenant key %q", tenant)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if a, ok := m.actors[tenant]; ok {
		return a, nil
	}

	path := ":memory:"
	if m.dataDir != ":memory:" {
		path = filepath.Join(m.dataDir, tenant+".db")
	}
	store, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store for tenant %q: %w", tenant, err)
	}

	a := New(tenant, store, m.opts, m.log)
	m.actors[tenant] = a
	return a, nil
}

// Invoke routes one RPC call to the tenant's actor and records call stats.
func (m *Manager) Invoke(ctx context.Context, tenant, method string, args json.RawMessage) (any, error) {
	a, err := m.Actor(tenant)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := a.Invoke(ctx, method, args)
	m.stats.Observe(method, time.Since(start), err != nil)
	return result, err
}

// Stats exposes the per-method call statistics.
func (m *Manager) Stats() *observability.CallStats {
	return m.stats
}

// Tenants returns the keys of all live actors, sorted.
func (m *Manager) Tenants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.actors))
	for k := range m.actors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of live actors.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

// Evict shuts down one tenant's actor, releasing its store. The tenant's
// data stays on disk; the next call respawns the actor.
func (m *Manager) Evict(tenant string) error {
	m.mu.Lock()
	a, ok := m.actors[tenant]
	if ok {
		delete(m.actors, tenant)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no live actor for tenant %q", tenant)
	}
	return a.Close()
}

// Close shuts down all actors and rejects further invocations.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	actors := make([]*Actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.actors = make(map[string]*Actor)
	m.mu.Unlock()

	var firstErr error
	for _, a := range actors {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
