package history

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/chatlog/internal/directory"
	"github.com/matheus3301/chatlog/internal/metrics"
	"github.com/matheus3301/chatlog/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine answers bounded lookups over the record store. Results are ordered
// by timestamp ascending with ties broken by message id, except
// FindLastForAll which is newest first.
type Engine struct {
	db      *store.DB
	dir     *directory.Directory
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEngine creates a query engine. m may be nil.
func NewEngine(db *store.DB, dir *directory.Directory, opts Options, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, dir: dir, opts: opts.withDefaults(), metrics: m, logger: logger}
}

// FindLast returns the n most recent events of a conversation.
func (e *Engine) FindLast(ctx context.Context, conv Conversation, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	return e.find(ctx, "find_last", conv, window{limit: n, newest: true})
}

// FindFirst returns the n oldest events of a conversation.
func (e *Engine) FindFirst(ctx context.Context, conv Conversation, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	return e.find(ctx, "find_first", conv, window{limit: n})
}

// FindByPeriod returns the events in [start, end). A zero bound is open.
func (e *Engine) FindByPeriod(ctx context.Context, conv Conversation, start, end time.Time) ([]Event, error) {
	return e.find(ctx, "find_by_period", conv, window{since: millis(start), until: millis(end)})
}

// FindBefore returns the n most recent events strictly before ts.
func (e *Engine) FindBefore(ctx context.Context, conv Conversation, ts time.Time, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	until := ts.UnixMilli()
	return e.find(ctx, "find_before", conv, window{until: &until, limit: n, newest: true})
}

// FindAfter returns the n oldest events strictly after ts.
func (e *Engine) FindAfter(ctx context.Context, conv Conversation, ts time.Time, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	since := ts.UnixMilli() + 1
	return e.find(ctx, "find_after", conv, window{since: &since, limit: n})
}

// FindByKeyword returns the n most recent events containing keyword.
func (e *Engine) FindByKeyword(ctx context.Context, conv Conversation, keyword string, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	return e.find(ctx, "find_by_keyword", conv, window{keyword: keyword, limit: n, newest: true})
}

// FindByID returns the event with the given message id.
func (e *Engine) FindByID(ctx context.Context, conv Conversation, msgID string) (Event, error) {
	if msgID == "" {
		return nil, fmt.Errorf("find by id: %w", ErrNotFound)
	}
	events, err := e.find(ctx, "find_by_id", conv, window{msgID: msgID, limit: 1})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("find by id %s: %w", msgID, ErrNotFound)
	}
	return events[0], nil
}

type window struct {
	since, until *int64
	keyword      string
	msgID        string
	limit        int
	newest       bool
}

func millis(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func (e *Engine) find(ctx context.Context, op string, conv Conversation, w window) ([]Event, error) {
	defer e.metrics.ObserveQuery(op, time.Now())
	ctx, cancel := e.opts.storageContext(ctx)
	defer cancel()

	if conv.RoomID != "" {
		recs, err := e.db.FindGroupMessages(ctx, store.GroupQuery{
			LocalID: conv.LocalID,
			RoomIDs: []string{normalizeRoom(conv.RoomID)},
			Since:   w.since,
			Until:   w.until,
			Keyword: w.keyword,
			MsgID:   w.msgID,
			Limit:   w.limit,
			Newest:  w.newest,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out := make([]Event, 0, len(recs))
		for _, r := range recs {
			out = append(out, groupFromRecord(r, e.opts.DefaultSubject))
		}
		return out, nil
	}

	remotes, metaID, err := e.remotes(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	recs, err := e.db.FindMessages(ctx, store.MessageQuery{
		LocalID:   conv.LocalID,
		RemoteIDs: remotes,
		Since:     w.since,
		Until:     w.until,
		Keyword:   w.keyword,
		MsgID:     w.msgID,
		Limit:     w.limit,
		Newest:    w.newest,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]Event, 0, len(recs))
	for _, r := range recs {
		ev := messageFromRecord(r)
		ev.MetaContactID = metaID
		out = append(out, ev)
	}
	return out, nil
}

// remotes expands a one-to-one conversation into the addresses to query.
// An empty result makes the store substitute a sentinel that matches nothing.
func (e *Engine) remotes(ctx context.Context, conv Conversation) ([]string, string, error) {
	if conv.MetaContactID != "" {
		aliases, err := e.dir.Aliases(ctx, conv.MetaContactID)
		return aliases, conv.MetaContactID, err
	}
	if conv.Address == "" {
		return nil, "", nil
	}
	addr, _ := e.dir.Normalize(conv.Address)
	c, err := e.dir.Resolve(ctx, addr)
	if err != nil {
		return nil, "", err
	}
	if c == nil {
		return []string{addr}, "", nil
	}
	return []string{addr}, c.MetaContactID, nil
}

// Classify returns the conversation key of an event. It reports false for
// one-to-one IM events whose address belongs to no MetaContact.
func (e *Engine) Classify(ctx context.Context, ev Event) (Key, bool, error) {
	switch ev := ev.(type) {
	case *GroupMessageEvent:
		return Key{Kind: KeyChatRoom, ID: ev.RoomID}, true, nil
	case *MessageEvent:
		c, err := e.dir.Resolve(ctx, ev.PeerID)
		if err != nil {
			return Key{}, false, err
		}
		if c != nil {
			return Key{Kind: KeyMetaContact, ID: c.MetaContactID}, true, nil
		}
		if ev.Type == TypeSMS {
			addr, _ := e.dir.Normalize(ev.PeerID)
			return Key{Kind: KeySMS, ID: addr}, true, nil
		}
		return Key{}, false, nil
	default:
		return Key{}, false, fmt.Errorf("%w: unsupported event %T", ErrInvalidEvent, ev)
	}
}

// FindLastForAll returns the most recent event of up to n conversations,
// newest first, one entry per conversation key. With a keyword, the newest
// matching event of each conversation is used; without one, rooms that have
// no messages yet are represented by their creation marker.
//
// Candidates are read a page at a time from each source and merged newest
// first, so the lookup stops once n keys are collected.
func (e *Engine) FindLastForAll(ctx context.Context, keyword string, n int) ([]Activity, error) {
	if n <= 0 {
		return nil, nil
	}
	defer e.metrics.ObserveQuery("find_last_for_all", time.Now())
	ctx, cancel := e.opts.storageContext(ctx)
	defer cancel()

	size := max(n, minCandidatePage)
	streams := []*candidateStream{
		{size: size, fetch: func(ctx context.Context, p store.Page) ([]Event, error) {
			recs, err := e.db.LastMessagePerRemote(ctx, "", keyword, p)
			events := make([]Event, 0, len(recs))
			for _, r := range recs {
				events = append(events, messageFromRecord(r))
			}
			return events, err
		}},
		{size: size, fetch: func(ctx context.Context, p store.Page) ([]Event, error) {
			recs, err := e.db.LastGroupMessagePerRoom(ctx, "", keyword, p)
			return e.groupEvents(recs), err
		}},
	}
	if keyword == "" {
		streams = append(streams, &candidateStream{size: size, fetch: func(ctx context.Context, p store.Page) ([]Event, error) {
			recs, err := e.db.FirstStatusPerRoom(ctx, "", p)
			return e.groupEvents(recs), err
		}})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range streams {
		g.Go(func() error {
			_, err := s.peek(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("find last for all: %w", err)
	}

	seen := make(map[Key]bool)
	out := make([]Activity, 0, n)
	for len(out) < n {
		ev, err := nextCandidate(ctx, streams)
		if err != nil {
			return nil, fmt.Errorf("find last for all: %w", err)
		}
		if ev == nil {
			break
		}
		key, ok, err := e.Classify(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("find last for all: %w", err)
		}
		if !ok {
			e.logger.Debug("skipping unresolved conversation", zap.String("msg_id", ev.ID()))
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		if m, ok := ev.(*MessageEvent); ok && key.Kind == KeyMetaContact {
			m.MetaContactID = key.ID
		}
		out = append(out, Activity{Key: key, Event: ev})
	}
	return out, nil
}

func (e *Engine) groupEvents(recs []store.GroupMessageRecord) []Event {
	events := make([]Event, 0, len(recs))
	for _, r := range recs {
		events = append(events, groupFromRecord(r, e.opts.DefaultSubject))
	}
	return events
}

const minCandidatePage = 50

// candidateStream pages through one newest-first candidate listing.
type candidateStream struct {
	fetch  func(ctx context.Context, p store.Page) ([]Event, error)
	size   int
	offset int
	buf    []Event
	done   bool
}

// peek returns the next candidate without consuming it, or nil when the
// listing is exhausted.
func (s *candidateStream) peek(ctx context.Context) (Event, error) {
	if len(s.buf) == 0 && !s.done {
		events, err := s.fetch(ctx, store.Page{Limit: s.size, Offset: s.offset})
		if err != nil {
			return nil, err
		}
		s.offset += len(events)
		s.done = len(events) < s.size
		s.buf = events
	}
	if len(s.buf) == 0 {
		return nil, nil
	}
	return s.buf[0], nil
}

// nextCandidate pops the newest head across streams. Ties go to the earlier
// stream.
func nextCandidate(ctx context.Context, streams []*candidateStream) (Event, error) {
	var (
		best   *candidateStream
		bestEv Event
	)
	for _, s := range streams {
		ev, err := s.peek(ctx)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			continue
		}
		if bestEv == nil || newestFirst(ev, bestEv) < 0 {
			best, bestEv = s, ev
		}
	}
	if best != nil {
		best.buf = best.buf[1:]
	}
	return bestEv, nil
}

// SortNewestFirst orders events by timestamp descending, ties by message id
// descending.
func SortNewestFirst(events []Event) {
	slices.SortStableFunc(events, newestFirst)
}

func newestFirst(a, b Event) int {
	if c := b.Time().Compare(a.Time()); c != 0 {
		return c
	}
	return cmp.Compare(b.ID(), a.ID())
}
