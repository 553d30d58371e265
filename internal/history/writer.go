package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatlog/internal/bus"
	"github.com/matheus3301/chatlog/internal/directory"
	"github.com/matheus3301/chatlog/internal/metrics"
	"github.com/matheus3301/chatlog/internal/store"
	"go.uber.org/zap"
)

// Options tune the writer and the query engine.
type Options struct {
	// StorageTimeout bounds every storage call. Zero disables the bound.
	StorageTimeout time.Duration
	// DefaultSubject names rooms without a stored subject.
	DefaultSubject string
}

func (o Options) withDefaults() Options {
	if o.DefaultSubject == "" {
		o.DefaultSubject = DefaultSubject
	}
	return o
}

func (o Options) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.StorageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.StorageTimeout)
}

// Writer appends events to the record store and announces every successful
// write or status transition on the bus.
type Writer struct {
	db      *store.DB
	dir     *directory.Directory
	bus     *bus.Bus
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewWriter creates a writer. b and m may be nil.
func NewWriter(db *store.DB, dir *directory.Directory, b *bus.Bus, opts Options, m *metrics.Metrics, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{db: db, dir: dir, bus: b, opts: opts.withDefaults(), metrics: m, logger: logger}
}

// WriteMessage appends a one-to-one message. Writing an already stored
// message id is a no-op.
func (w *Writer) WriteMessage(ctx context.Context, e *MessageEvent) error {
	ctx, cancel := w.opts.storageContext(ctx)
	defer cancel()

	ev, err := w.prepareMessage(ctx, e)
	if err == nil {
		err = w.insertMessage(ctx, ev)
	}
	w.metrics.ObserveWrite("message", err)
	return err
}

// WriteDeliveryFailure records a message that could not be delivered. An
// existing record with the same id is marked failed instead.
func (w *Writer) WriteDeliveryFailure(ctx context.Context, e *MessageEvent) error {
	ctx, cancel := w.opts.storageContext(ctx)
	defer cancel()

	err := w.writeDeliveryFailure(ctx, e)
	w.metrics.ObserveWrite("delivery_failure", err)
	return err
}

func (w *Writer) insertMessage(ctx context.Context, ev *MessageEvent) error {
	inserted, err := w.db.InsertMessage(ctx, messageToRecord(ev))
	if err != nil {
		return fmt.Errorf("write message %s: %w", ev.MsgID, err)
	}
	if inserted {
		w.publish(bus.KindHistoryWritten, ev)
	}
	return nil
}

func (w *Writer) writeDeliveryFailure(ctx context.Context, e *MessageEvent) error {
	ev, err := w.prepareMessage(ctx, e)
	if err != nil {
		return err
	}
	ev.Failed = true
	inserted, err := w.db.InsertMessage(ctx, messageToRecord(ev))
	if err != nil {
		return fmt.Errorf("write delivery failure %s: %w", ev.MsgID, err)
	}
	if inserted {
		w.publish(bus.KindHistoryWritten, ev)
		return nil
	}
	ok, err := w.db.SetMessageFailed(ctx, ev.LocalID, ev.PeerID, ev.MsgID)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", ev.MsgID, err)
	}
	if ok {
		return w.publishMessageUpdate(ctx, ev.LocalID, ev.PeerID, ev.MsgID)
	}
	return nil
}

// WriteGroupMessage appends a chat-room message. A missing subject is taken
// from the room's latest stored subject.
func (w *Writer) WriteGroupMessage(ctx context.Context, e *GroupMessageEvent) error {
	ctx, cancel := w.opts.storageContext(ctx)
	defer cancel()

	err := w.writeGroup(ctx, e)
	w.metrics.ObserveWrite("group_message", err)
	return err
}

// WriteRoomStatus records a room lifecycle change as a status record.
// Created and subject changes carrying a subject are also announced on
// the subject channel.
func (w *Writer) WriteRoomStatus(ctx context.Context, s RoomStatus) error {
	ctx, cancel := w.opts.storageContext(ctx)
	defer cancel()

	err := w.writeRoomStatus(ctx, s)
	w.metrics.ObserveWrite("room_status", err)
	return err
}

func (w *Writer) writeRoomStatus(ctx context.Context, s RoomStatus) error {
	switch s.Kind {
	case RoomCreated, RoomJoined, RoomLeft, RoomSubject:
	default:
		return fmt.Errorf("%w: room status kind %q", ErrInvalidEvent, s.Kind)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	if err := w.writeGroup(ctx, statusEvent(s)); err != nil {
		return err
	}
	if s.Subject != "" && (s.Kind == RoomCreated || s.Kind == RoomSubject) {
		w.publish(bus.KindHistorySubject, SubjectChange{LocalID: s.LocalID, RoomID: s.RoomID, Subject: s.Subject})
	}
	return nil
}

func (w *Writer) writeGroup(ctx context.Context, e *GroupMessageEvent) error {
	ev, err := w.prepareGroup(ctx, e)
	if err != nil {
		return err
	}
	inserted, err := w.db.InsertGroupMessage(ctx, groupToRecord(ev))
	if err != nil {
		return fmt.Errorf("write group message %s: %w", ev.MsgID, err)
	}
	if inserted {
		w.publish(bus.KindHistoryWritten, w.withSubject(ev))
	}
	return nil
}

// withSubject returns ev as readers see it, with the default subject filled in.
func (w *Writer) withSubject(ev *GroupMessageEvent) *GroupMessageEvent {
	if ev.Subject != "" {
		return ev
	}
	out := *ev
	out.Subject = w.opts.DefaultSubject
	return &out
}

// WriteBatch stores events in a single transaction and returns how many
// were new. Nothing is stored if any event fails.
func (w *Writer) WriteBatch(ctx context.Context, events []Event) (int, error) {
	ctx, cancel := w.opts.storageContext(ctx)
	defer cancel()

	n, err := w.writeBatch(ctx, events)
	w.metrics.ObserveWrite("batch", err)
	return n, err
}

func (w *Writer) writeBatch(ctx context.Context, events []Event) (int, error) {
	prepared := make([]Event, 0, len(events))
	for _, e := range events {
		switch ev := e.(type) {
		case *MessageEvent:
			p, err := w.prepareMessage(ctx, ev)
			if err != nil {
				return 0, err
			}
			prepared = append(prepared, p)
		case *GroupMessageEvent:
			p, err := w.prepareGroup(ctx, ev)
			if err != nil {
				return 0, err
			}
			prepared = append(prepared, p)
		default:
			return 0, fmt.Errorf("%w: unsupported event %T", ErrInvalidEvent, e)
		}
	}

	var written []Event
	err := w.db.InTx(ctx, func(tx *store.Tx) error {
		for _, e := range prepared {
			var (
				inserted bool
				err      error
			)
			switch ev := e.(type) {
			case *MessageEvent:
				inserted, err = tx.InsertMessage(ctx, messageToRecord(ev))
			case *GroupMessageEvent:
				inserted, err = tx.InsertGroupMessage(ctx, groupToRecord(ev))
			}
			if err != nil {
				return fmt.Errorf("write batch %s: %w", e.ID(), err)
			}
			if inserted {
				written = append(written, e)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, e := range written {
		if g, ok := e.(*GroupMessageEvent); ok {
			e = w.withSubject(g)
		}
		w.publish(bus.KindHistoryWritten, e)
	}
	return len(written), nil
}

// MarkRead sets the read flag of a stored record.
func (w *Writer) MarkRead(ctx context.Context, ref Ref, read bool) error {
	ctx, cancel := w.opts.storageContext(ctx)
	defer cancel()

	err := w.transition(ctx, ref, func(ref Ref) (bool, error) {
		if ref.RoomID != "" {
			return w.db.SetGroupMessageRead(ctx, ref.LocalID, ref.RoomID, ref.MsgID, read)
		}
		return w.db.SetMessageRead(ctx, ref.LocalID, ref.PeerID, ref.MsgID, read)
	})
	w.metrics.ObserveWrite("mark_read", err)
	return err
}

// MarkFailed sets the failed flag of a stored record.
func (w *Writer) MarkFailed(ctx context.Context, ref Ref) error {
	ctx, cancel := w.opts.storageContext(ctx)
	defer cancel()

	err := w.transition(ctx, ref, func(ref Ref) (bool, error) {
		if ref.RoomID != "" {
			return w.db.SetGroupMessageFailed(ctx, ref.LocalID, ref.RoomID, ref.MsgID)
		}
		return w.db.SetMessageFailed(ctx, ref.LocalID, ref.PeerID, ref.MsgID)
	})
	w.metrics.ObserveWrite("mark_failed", err)
	return err
}

// AttachProviderID stores the delivery provider's id for a one-to-one record.
func (w *Writer) AttachProviderID(ctx context.Context, ref Ref, providerID string) error {
	ctx, cancel := w.opts.storageContext(ctx)
	defer cancel()

	if ref.RoomID != "" {
		return fmt.Errorf("%w: provider ids apply to one-to-one messages only", ErrInvalidEvent)
	}
	err := w.transition(ctx, ref, func(ref Ref) (bool, error) {
		return w.db.SetMessageProviderID(ctx, ref.LocalID, ref.PeerID, ref.MsgID, providerID)
	})
	w.metrics.ObserveWrite("provider_id", err)
	return err
}

func (w *Writer) transition(ctx context.Context, ref Ref, apply func(Ref) (bool, error)) error {
	if !ref.valid() {
		return fmt.Errorf("%w: incomplete reference %+v", ErrInvalidEvent, ref)
	}
	if ref.PeerID != "" {
		ref.PeerID, _ = w.dir.Normalize(ref.PeerID)
	} else {
		ref.RoomID = normalizeRoom(ref.RoomID)
	}
	ok, err := apply(ref)
	if err != nil {
		return fmt.Errorf("update %s: %w", ref.MsgID, err)
	}
	if !ok {
		return fmt.Errorf("update %s: %w", ref.MsgID, ErrNotFound)
	}
	if ref.RoomID != "" {
		return w.publishGroupUpdate(ctx, ref.LocalID, ref.RoomID, ref.MsgID)
	}
	return w.publishMessageUpdate(ctx, ref.LocalID, ref.PeerID, ref.MsgID)
}

func (w *Writer) publishMessageUpdate(ctx context.Context, localID, peerID, msgID string) error {
	recs, err := w.db.FindMessages(ctx, store.MessageQuery{LocalID: localID, RemoteIDs: []string{peerID}, MsgID: msgID, Limit: 1})
	if err != nil {
		return fmt.Errorf("reload %s: %w", msgID, err)
	}
	if len(recs) == 0 {
		return nil
	}
	ev := messageFromRecord(recs[0])
	if err := w.attachContact(ctx, ev); err != nil {
		return err
	}
	w.publish(bus.KindHistoryUpdated, ev)
	return nil
}

func (w *Writer) publishGroupUpdate(ctx context.Context, localID, roomID, msgID string) error {
	recs, err := w.db.FindGroupMessages(ctx, store.GroupQuery{LocalID: localID, RoomIDs: []string{roomID}, MsgID: msgID, Limit: 1, IncludeStatus: true})
	if err != nil {
		return fmt.Errorf("reload %s: %w", msgID, err)
	}
	if len(recs) > 0 {
		w.publish(bus.KindHistoryUpdated, groupFromRecord(recs[0], w.opts.DefaultSubject))
	}
	return nil
}

// prepareMessage validates and normalizes a copy of e and binds it to its
// MetaContact. Unknown IM addresses are registered as their own MetaContact.
func (w *Writer) prepareMessage(ctx context.Context, e *MessageEvent) (*MessageEvent, error) {
	if e == nil || e.LocalID == "" || e.PeerID == "" || e.MsgID == "" {
		return nil, fmt.Errorf("%w: message needs local id, peer id and message id", ErrInvalidEvent)
	}
	ev := *e
	ev.Timestamp = storedTime(ev.Timestamp)
	addr, kind := w.dir.Normalize(ev.PeerID)
	ev.PeerID = addr
	if ev.Type == "" {
		ev.Type = TypeIM
		if kind == store.TypeSMS {
			ev.Type = TypeSMS
		}
	}
	if ev.Direction == "" {
		ev.Direction = Incoming
	}

	var (
		c   *store.Contact
		err error
	)
	if ev.Type == TypeIM {
		c, err = w.dir.Ensure(ctx, addr, ev.PeerName)
	} else {
		c, err = w.dir.Resolve(ctx, addr)
	}
	if err != nil {
		return nil, err
	}
	if c != nil {
		ev.MetaContactID = c.MetaContactID
		if ev.PeerName == "" {
			ev.PeerName = c.DisplayName
		}
	}
	return &ev, nil
}

func (w *Writer) prepareGroup(ctx context.Context, e *GroupMessageEvent) (*GroupMessageEvent, error) {
	if e == nil || e.LocalID == "" || e.RoomID == "" || e.MsgID == "" {
		return nil, fmt.Errorf("%w: group message needs local id, room id and message id", ErrInvalidEvent)
	}
	ev := *e
	ev.Timestamp = storedTime(ev.Timestamp)
	ev.RoomID = normalizeRoom(ev.RoomID)
	if ev.SenderID != "" {
		ev.SenderID, _ = w.dir.Normalize(ev.SenderID)
	}
	if ev.Type == "" {
		ev.Type = GroupMessage
	}
	if ev.Direction == "" {
		ev.Direction = Incoming
	}
	if ev.Subject == "" {
		subject, ok, err := w.db.RoomSubject(ctx, ev.RoomID)
		if err != nil {
			return nil, fmt.Errorf("room subject %s: %w", ev.RoomID, err)
		}
		if ok {
			ev.Subject = subject
		}
	}
	return &ev, nil
}

func normalizeRoom(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (w *Writer) attachContact(ctx context.Context, ev *MessageEvent) error {
	c, err := w.dir.Resolve(ctx, ev.PeerID)
	if err != nil {
		return err
	}
	if c != nil {
		ev.MetaContactID = c.MetaContactID
	}
	return nil
}

func (w *Writer) publish(kind string, payload any) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(bus.NewEvent(kind, payload))
}
