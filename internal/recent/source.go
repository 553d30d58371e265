// Package recent maintains live "most recent message per conversation"
// feeds on top of the history engine.
package recent

import (
	"context"
	"errors"
	"sync"

	"github.com/matheus3301/chatlog/internal/bus"
	"github.com/matheus3301/chatlog/internal/history"
	"github.com/matheus3301/chatlog/internal/metrics"
	"go.uber.org/zap"
)

// DefaultLimit is used when a query is created without a limit.
const DefaultLimit = 20

var (
	// ErrCanceled is returned when starting a query that was already canceled.
	ErrCanceled = errors.New("recent: query canceled")
	// ErrStarted is returned by a second call to Start.
	ErrStarted = errors.New("recent: query already started")
)

// Finder is the part of the history engine a live query depends on.
type Finder interface {
	FindLastForAll(ctx context.Context, keyword string, n int) ([]history.Activity, error)
	Classify(ctx context.Context, ev history.Event) (history.Key, bool, error)
}

// Source creates live queries and cancels them on Close.
type Source struct {
	finder       Finder
	bus          *bus.Bus
	defaultLimit int
	metrics      *metrics.Metrics
	logger       *zap.Logger

	mu      sync.Mutex
	queries map[string]*Query
}

// NewSource creates a source. m may be nil.
func NewSource(finder Finder, b *bus.Bus, defaultLimit int, m *metrics.Metrics, logger *zap.Logger) *Source {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		finder:       finder,
		bus:          b,
		defaultLimit: defaultLimit,
		metrics:      m,
		logger:       logger,
		queries:      make(map[string]*Query),
	}
}

// NewQuery creates a query for the limit most recent conversations matching
// keyword. A limit of zero or less uses the source default.
func (s *Source) NewQuery(keyword string, limit int) *Query {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	q := newQuery(s, keyword, limit)
	s.mu.Lock()
	s.queries[q.id] = q
	s.mu.Unlock()
	return q
}

// Query returns a live query by id.
func (s *Source) Query(id string) (*Query, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[id]
	return q, ok
}

// Active returns the number of queries that have not been canceled.
func (s *Source) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

// Close cancels every query.
func (s *Source) Close() {
	s.mu.Lock()
	queries := make([]*Query, 0, len(s.queries))
	for _, q := range s.queries {
		queries = append(queries, q)
	}
	s.mu.Unlock()

	for _, q := range queries {
		q.Cancel()
	}
}

func (s *Source) forget(id string) {
	s.mu.Lock()
	delete(s.queries, id)
	s.mu.Unlock()
}
