// Package session owns the long-lived, caller-visible conversation history.
//
// Information Hiding:
// - In-memory map and locking hidden behind Registry
// - Optional durable backend hidden behind Store
// - Trim policy applied on every mutation
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/richinex/chronicle/llm"
)

// DefaultMaxHistory is the retention bound for new sessions.
const DefaultMaxHistory = 20

// Session is a snapshot of one conversation.
type Session struct {
	ID          string
	AgentKey    string
	Messages    []llm.ChatMessage
	MaxHistory  int
	StartedAt   time.Time
	CompletedAt *time.Time
}

func (s *Session) clone() Session {
	out := *s
	out.Messages = append([]llm.ChatMessage(nil), s.Messages...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Trim returns the most recent max messages, discarding the oldest first.
// A non-positive max leaves messages untouched.
func Trim(messages []llm.ChatMessage, max int) []llm.ChatMessage {
	if max <= 0 || len(messages) <= max {
		return messages
	}
	trimmed := make([]llm.ChatMessage, max)
	copy(trimmed, messages[len(messages)-max:])
	return trimmed
}

// Registry tracks sessions by id.
//
// Thread Safety: Registry is safe for concurrent use. The registry lock guards
// only the id map; each session has its own lock, held across store I/O, so
// persisting one session never blocks another. Concurrent mutation of the same
// session id is serialised but the interleaving is unspecified.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*entry
	maxHistory int
	store      Store
	logger     *slog.Logger
}

// entry holds one session behind its own lock.
type entry struct {
	mu     sync.Mutex
	sess   Session
	loaded bool
	// removed is set once the entry has left the map; holders must re-fetch.
	removed bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxHistory sets the retention bound applied to new sessions.
func WithMaxHistory(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxHistory = n
		}
	}
}

// WithStore persists history so sessions survive restarts.
func WithStore(store Store) Option {
	return func(r *Registry) {
		r.store = store
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:   make(map[string]*entry),
		maxHistory: DefaultMaxHistory,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxHistory returns the retention bound applied to new sessions.
func (r *Registry) MaxHistory() int {
	return r.maxHistory
}

// Get returns the session for id, creating an empty one on first reference.
// With a Store configured, a session unknown in memory is loaded from it first.
func (r *Registry) Get(ctx context.Context, id string) (Session, error) {
	var snap Session
	err := r.with(ctx, id, func(s *Session) error {
		snap = s.clone()
		return nil
	})
	return snap, err
}

// Append adds messages to the session history and trims it.
// agentKey is recorded when the session does not have one yet.
func (r *Registry) Append(ctx context.Context, id, agentKey string, messages ...llm.ChatMessage) (Session, error) {
	var snap Session
	err := r.with(ctx, id, func(s *Session) error {
		if s.AgentKey == "" {
			s.AgentKey = agentKey
		}
		s.Messages = Trim(append(s.Messages, messages...), s.MaxHistory)
		snap = s.clone()
		return r.persist(ctx, s)
	})
	return snap, err
}

// MarkCompleted records the completion time of the session's latest run.
func (r *Registry) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	return r.with(ctx, id, func(s *Session) error {
		s.CompletedAt = &at
		return r.persist(ctx, s)
	})
}

// with runs fn on the session for id while holding only that session's lock.
func (r *Registry) with(ctx context.Context, id string, fn func(*Session) error) error {
	for {
		e := r.entryFor(id)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if !e.loaded {
			if err := r.load(ctx, e, id); err != nil {
				r.drop(id, e)
				e.mu.Unlock()
				return err
			}
		}
		err := fn(&e.sess)
		e.mu.Unlock()
		return err
	}
}

// entryFor returns the map entry for id, inserting an unloaded one if needed.
func (r *Registry) entryFor(id string) *entry {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		return e
	}
	e = &entry{}
	r.sessions[id] = e
	return e
}

// drop removes e from the map. Must be called with e.mu held.
func (r *Registry) drop(id string, e *entry) {
	r.mu.Lock()
	if r.sessions[id] == e {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	e.removed = true
}

// load fills e from the store, or starts an empty session. Must be called
// with e.mu held.
func (r *Registry) load(ctx context.Context, e *entry, id string) error {
	s := Session{
		ID:         id,
		MaxHistory: r.maxHistory,
		StartedAt:  time.Now(),
	}

	if r.store != nil {
		stored, found, err := r.store.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load session %s: %w", id, err)
		}
		if found {
			s.AgentKey = stored.AgentKey
			s.StartedAt = stored.StartedAt
			s.CompletedAt = stored.CompletedAt
			s.Messages = Trim(stored.Messages, s.MaxHistory)
		}
	}

	e.sess = s
	e.loaded = true
	return nil
}

func (r *Registry) persist(ctx context.Context, s *Session) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Save(ctx, s.clone()); err != nil {
		r.logger.Warn("failed to persist session",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to persist session %s: %w", s.ID, err)
	}
	return nil
}

// Clear removes the session. Clearing an unknown id is a no-op.
// Persisted analytics are not touched.
func (r *Registry) Clear(ctx context.Context, id string) error {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()

	if ok {
		// Holding the session lock keeps an in-flight Append from saving
		// after the delete below.
		e.mu.Lock()
		defer e.mu.Unlock()
		r.drop(id, e)
	}

	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete session %s: %w", id, err)
		}
	}
	return nil
}

// Has reports whether id is currently held in memory.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// IDs returns the ids of sessions held in memory, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
