package recent

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/chatlog/internal/bus"
	"github.com/matheus3301/chatlog/internal/history"
	"github.com/matheus3301/chatlog/internal/status"
	"go.uber.org/zap"
)

// State is the lifecycle state of a live query.
type State string

const (
	InProgress State = "IN_PROGRESS"
	Completed  State = "COMPLETED"
	Canceled   State = "CANCELED"
)

var queryTransitions = map[State][]State{
	InProgress: {Completed, Canceled},
	Completed:  {Canceled},
}

// NotificationType tells whether a conversation entered the feed or had its
// entry replaced.
type NotificationType string

const (
	Added   NotificationType = "added"
	Updated NotificationType = "updated"
)

// SourceContact is one feed entry: the latest event of a conversation and an
// opaque binding owned by the consumer.
type SourceContact struct {
	Key     history.Key
	Event   history.Event
	Binding any
}

// Notification is published under the query namespace for every change.
type Notification struct {
	QueryID string
	Type    NotificationType
	Contact SourceContact
}

// Query is a live feed. All mutations of its entry set happen on the query's
// own goroutine, fed by its bus subscription; readers take snapshots.
type Query struct {
	id      string
	keyword string
	limit   int
	source  *Source
	state   *status.Machine[State]
	logger  *zap.Logger

	mu      sync.RWMutex
	entries map[history.Key]*SourceContact
	order   []*SourceContact // newest first

	startOnce  sync.Once
	cancelOnce sync.Once
	done       chan struct{}
	unsub      func()
}

func newQuery(s *Source, keyword string, limit int) *Query {
	id := uuid.NewString()
	return &Query{
		id:      id,
		keyword: keyword,
		limit:   limit,
		source:  s,
		state:   status.New(InProgress, queryTransitions, s.bus, "recent."+id+".state"),
		logger:  s.logger.With(zap.String("query", id)),
		entries: make(map[history.Key]*SourceContact),
		done:    make(chan struct{}),
		unsub:   func() {},
	}
}

// ID returns the query id.
func (q *Query) ID() string { return q.id }

// Keyword returns the keyword filter, empty for none.
func (q *Query) Keyword() string { return q.keyword }

// Limit returns the size the initial result set was bounded by.
func (q *Query) Limit() int { return q.limit }

// Namespace is the bus prefix notifications of this query are published under.
func (q *Query) Namespace() string { return "recent." + q.id + "." }

// State returns the current lifecycle state.
func (q *Query) State() State { return q.state.Current() }

// Done is closed when the query is canceled.
func (q *Query) Done() <-chan struct{} { return q.done }

// Start runs the initial lookup and then keeps the feed current until the
// query is canceled. It may be called once.
func (q *Query) Start(ctx context.Context) error {
	err := ErrStarted
	q.startOnce.Do(func() { err = q.start(ctx) })
	return err
}

func (q *Query) start(ctx context.Context) error {
	if q.State() == Canceled {
		return ErrCanceled
	}
	// Subscribe before the lookup so writes racing with it are not lost.
	events, unsub := q.source.bus.SubscribeQueue("history.")
	q.mu.Lock()
	if q.State() == Canceled {
		q.mu.Unlock()
		unsub()
		return ErrCanceled
	}
	q.unsub = unsub
	q.mu.Unlock()

	results, err := q.source.finder.FindLastForAll(ctx, q.keyword, q.limit)
	if err != nil {
		q.Cancel()
		unsub()
		return fmt.Errorf("recent query %s: %w", q.id, err)
	}

	q.mu.Lock()
	if q.State() == Canceled {
		q.mu.Unlock()
		unsub()
		return ErrCanceled
	}
	for _, a := range results {
		sc := &SourceContact{Key: a.Key, Event: a.Event}
		q.entries[a.Key] = sc
		q.order = append(q.order, sc)
	}
	q.sortLocked()
	q.mu.Unlock()

	if err := q.state.Transition(Completed); err != nil {
		unsub()
		return ErrCanceled
	}
	q.source.metrics.LiveQueryStarted()
	q.logger.Debug("recent query started", zap.Int("results", len(results)), zap.String("keyword", q.keyword))

	go q.run(events)
	return nil
}

func (q *Query) run(events <-chan bus.Event) {
	defer q.source.metrics.LiveQueryStopped()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-q.done
		cancel()
	}()

	for {
		select {
		case <-q.done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			q.handle(ctx, evt)
		}
	}
}

func (q *Query) handle(ctx context.Context, evt bus.Event) {
	if evt.Kind != bus.KindHistoryWritten && evt.Kind != bus.KindHistoryUpdated {
		return
	}
	ev, ok := evt.Payload.(history.Event)
	if !ok {
		return
	}
	key, ok, err := q.source.finder.Classify(ctx, ev)
	if err != nil {
		q.logger.Warn("classify event", zap.String("msg_id", ev.ID()), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if typ, sc, changed := q.apply(key, ev); changed {
		q.notify(typ, sc)
	}
}

// apply merges ev into the entry set. An existing entry is replaced when ev
// is not older than it, keeping its binding. A new conversation is admitted
// when it matches the keyword and either the set is not yet full or ev is not
// older than the oldest entry.
func (q *Query) apply(key history.Key, ev history.Event) (NotificationType, SourceContact, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.State() == Canceled {
		return "", SourceContact{}, false
	}

	if cur, ok := q.entries[key]; ok {
		if ev.Time().Before(cur.Event.Time()) {
			return "", SourceContact{}, false
		}
		cur.Event = ev
		q.sortLocked()
		return Updated, *cur, true
	}

	if !ev.Matches(q.keyword) {
		return "", SourceContact{}, false
	}
	if len(q.order) >= q.limit && ev.Time().Before(q.order[len(q.order)-1].Event.Time()) {
		return "", SourceContact{}, false
	}
	sc := &SourceContact{Key: key, Event: ev}
	q.entries[key] = sc
	q.order = append(q.order, sc)
	q.sortLocked()
	return Added, *sc, true
}

func (q *Query) sortLocked() {
	slices.SortStableFunc(q.order, func(a, b *SourceContact) int {
		if c := b.Event.Time().Compare(a.Event.Time()); c != 0 {
			return c
		}
		return cmp.Compare(b.Event.ID(), a.Event.ID())
	})
}

func (q *Query) notify(typ NotificationType, sc SourceContact) {
	q.source.metrics.FeedNotification(string(typ))
	q.source.bus.Publish(bus.NewEvent(q.Namespace()+string(typ), Notification{QueryID: q.id, Type: typ, Contact: sc}))
}

// Results returns a snapshot of the entries, newest first.
func (q *Query) Results() []SourceContact {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]SourceContact, 0, len(q.order))
	for _, sc := range q.order {
		out = append(out, *sc)
	}
	return out
}

// SetBinding attaches a consumer value to the entry of key. It reports false
// when the feed has no such entry.
func (q *Query) SetBinding(key history.Key, binding any) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	sc, ok := q.entries[key]
	if ok {
		sc.Binding = binding
	}
	return ok
}

// Cancel stops notifications and releases the entry set. It is safe to call
// more than once and from any goroutine.
func (q *Query) Cancel() {
	q.cancelOnce.Do(func() {
		if err := q.state.Transition(Canceled); err != nil {
			q.logger.Debug("cancel query", zap.Error(err))
		}
		close(q.done)

		q.mu.Lock()
		unsub := q.unsub
		q.entries = make(map[history.Key]*SourceContact)
		q.order = nil
		q.mu.Unlock()

		unsub()
		q.source.forget(q.id)
	})
}
