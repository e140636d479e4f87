// Package temporal is the event side of the engine: an append-only store
// of typed events, automatic causal-link detection on insertion, causal
// chain tracing, and counterfactual timeline construction.
package temporal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/horizonlab/prospect/internal/api"
)

// Store abstracts event persistence. Backends: in-memory with a file
// journal, Redis, Postgres.
type Store interface {
	// Append records a new event. Events are append-only; only causal
	// links may be added later.
	Append(ctx context.Context, ev *api.TemporalEvent) error

	// Get returns an event by id, or api.ErrEventNotFound.
	Get(ctx context.Context, id string) (*api.TemporalEvent, error)

	// Before returns up to limit events with timestamps in
	// (t-window, t), newest first.
	Before(ctx context.Context, t time.Time, window time.Duration, limit int) ([]*api.TemporalEvent, error)

	// Range returns events with timestamps in [from, to], ascending.
	Range(ctx context.Context, from, to time.Time) ([]*api.TemporalEvent, error)

	// All returns every event, ascending by timestamp.
	All(ctx context.Context) ([]*api.TemporalEvent, error)

	// AddLink records a directed causal link and appends to the two
	// events' caused-by / consequences lists.
	AddLink(ctx context.Context, causeID, effectID string, strength float64) error

	// LinkStrength returns the recorded strength of a link, if any.
	LinkStrength(ctx context.Context, causeID, effectID string) (float64, bool, error)

	Close() error
}

// MemoryStore keeps the event graph in memory, optionally journaled to
// disk for durability across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	events  map[string]*api.TemporalEvent
	order   []string // ids in ascending timestamp order
	links   map[[2]string]float64
	journal *Journal
}

// NewMemoryStore creates an in-memory store. A non-empty journalDir
// enables the file journal and replays any existing journal files.
func NewMemoryStore(journalDir string) (*MemoryStore, error) {
	ms := &MemoryStore{
		events: make(map[string]*api.TemporalEvent),
		links:  make(map[[2]string]float64),
	}

	if journalDir == "" {
		return ms, nil
	}

	entries, err := ReplayDir(journalDir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		switch e.Kind {
		case "event":
			if e.Event != nil {
				ms.insert(e.Event)
			}
		case "link":
			ms.link(e.CauseID, e.EffectID, e.Strength)
		}
	}

	journal, err := NewJournal(journalDir)
	if err != nil {
		return nil, err
	}
	ms.journal = journal
	return ms, nil
}

// insert places an event keeping order sorted by timestamp. Caller holds
// no lock during replay; Append takes the lock.
func (m *MemoryStore) insert(ev *api.TemporalEvent) {
	cp := *ev
	m.events[cp.ID] = &cp
	i := sort.Search(len(m.order), func(i int) bool {
		return m.events[m.order[i]].Timestamp.After(cp.Timestamp)
	})
	m.order = append(m.order, "")
	copy(m.order[i+1:], m.order[i:])
	m.order[i] = cp.ID
}

func (m *MemoryStore) link(causeID, effectID string, strength float64) {
	if causeID == effectID {
		return
	}
	cause, okC := m.events[causeID]
	effect, okE := m.events[effectID]
	if !okC || !okE {
		return
	}
	key := [2]string{causeID, effectID}
	if _, exists := m.links[key]; exists {
		return
	}
	m.links[key] = strength
	cause.Consequences = append(cause.Consequences, effectID)
	effect.CausedBy = append(effect.CausedBy, causeID)
}

func (m *MemoryStore) Append(ctx context.Context, ev *api.TemporalEvent) error {
	m.mu.Lock()
	m.insert(ev)
	m.mu.Unlock()

	if m.journal != nil {
		return m.journal.AppendEvent(ev)
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*api.TemporalEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[id]
	if !ok {
		return nil, api.ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *MemoryStore) Before(ctx context.Context, t time.Time, window time.Duration, limit int) ([]*api.TemporalEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := t.Add(-window)
	var out []*api.TemporalEvent
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		ev := m.events[m.order[i]]
		if !ev.Timestamp.Before(t) {
			continue
		}
		if ev.Timestamp.Before(cutoff) {
			break
		}
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Range(ctx context.Context, from, to time.Time) ([]*api.TemporalEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*api.TemporalEvent
	for _, id := range m.order {
		ev := m.events[id]
		if ev.Timestamp.Before(from) {
			continue
		}
		if ev.Timestamp.After(to) {
			break
		}
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) All(ctx context.Context) ([]*api.TemporalEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*api.TemporalEvent, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.events[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) AddLink(ctx context.Context, causeID, effectID string, strength float64) error {
	m.mu.Lock()
	m.link(causeID, effectID, strength)
	m.mu.Unlock()

	if m.journal != nil {
		return m.journal.AppendLink(causeID, effectID, strength)
	}
	return nil
}

func (m *MemoryStore) LinkStrength(ctx context.Context, causeID, effectID string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.links[[2]string{causeID, effectID}]
	return s, ok, nil
}

func (m *MemoryStore) Close() error {
	if m.journal != nil {
		return m.journal.Close()
	}
	return nil
}
