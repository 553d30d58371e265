package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/chatlog/internal/bus"
	"github.com/matheus3301/chatlog/internal/history"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Enqueue when the send queue has no room. The
// message is already in the history and is marked failed.
var ErrQueueFull = errors.New("outbox: queue full")

// DefaultQueueSize bounds the number of messages waiting to be sent.
const DefaultQueueSize = 64

// TextSender delivers text messages over the transport.
type TextSender interface {
	// LocalID returns the account id history records are keyed by.
	LocalID() string
	// NewMessageID returns a fresh transport message id.
	NewMessageID() string
	// SendText sends text to the recipient under msgID and returns the id
	// the transport acknowledged.
	SendText(ctx context.Context, to, msgID, text string) (ackID string, err error)
}

// Recorder is the part of the history writer the sender updates.
type Recorder interface {
	WriteMessage(ctx context.Context, e *history.MessageEvent) error
	MarkFailed(ctx context.Context, ref history.Ref) error
	AttachProviderID(ctx context.Context, ref history.Ref, providerID string) error
}

// Result is published on the bus after each delivery attempt.
type Result struct {
	Ref   history.Ref
	AckID string
	Err   string
}

type pending struct {
	ref  history.Ref
	text string
}

// Sender records outgoing messages in the history and delivers them in
// order. A delivered message gets the acknowledged id attached as its
// provider id. An undeliverable one is marked failed.
type Sender struct {
	rec    Recorder
	sender TextSender
	bus    *bus.Bus
	logger *zap.Logger
	queue  chan pending

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSender creates a new outbox sender.
func NewSender(rec Recorder, sender TextSender, b *bus.Bus, queueSize int, logger *zap.Logger) *Sender {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		rec:    rec,
		sender: sender,
		bus:    b,
		logger: logger,
		queue:  make(chan pending, queueSize),
	}
}

// Start begins draining the queue.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop stops the sender loop. Queued messages that were not attempted stay
// in the history unacknowledged.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Enqueue stores an outgoing message and queues it for delivery. It returns
// the reference of the stored record.
func (s *Sender) Enqueue(ctx context.Context, to, text string) (history.Ref, error) {
	to = strings.TrimSpace(to)
	if to == "" || strings.TrimSpace(text) == "" {
		return history.Ref{}, fmt.Errorf("%w: outgoing message needs a recipient and text", history.ErrInvalidEvent)
	}

	ev := &history.MessageEvent{
		LocalID:   s.sender.LocalID(),
		PeerID:    to,
		Direction: history.Outgoing,
		Body:      text,
		MsgID:     s.sender.NewMessageID(),
		Timestamp: time.Now(),
		Read:      true,
		Type:      history.TypeIM,
	}
	if err := s.rec.WriteMessage(ctx, ev); err != nil {
		return history.Ref{}, err
	}
	ref := history.Ref{LocalID: ev.LocalID, PeerID: ev.PeerID, MsgID: ev.MsgID}

	select {
	case s.queue <- pending{ref: ref, text: text}:
		return ref, nil
	default:
		s.fail(ctx, ref, ErrQueueFull)
		return ref, ErrQueueFull
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case p := <-s.queue:
			s.deliver(ctx, p)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) deliver(ctx context.Context, p pending) {
	ackID, err := s.sender.SendText(ctx, p.ref.PeerID, p.ref.MsgID, p.text)
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("msg_id", p.ref.MsgID))
		s.fail(ctx, p.ref, err)
		return
	}

	if err := s.rec.AttachProviderID(ctx, p.ref, ackID); err != nil {
		s.logger.Error("failed to attach ack id", zap.Error(err), zap.String("msg_id", p.ref.MsgID))
	}
	s.logger.Info("message sent", zap.String("msg_id", p.ref.MsgID), zap.String("ack_id", ackID))
	s.publish(bus.KindOutboxSent, Result{Ref: p.ref, AckID: ackID})
}

func (s *Sender) fail(ctx context.Context, ref history.Ref, cause error) {
	if err := s.rec.MarkFailed(ctx, ref); err != nil {
		s.logger.Error("failed to mark failed", zap.Error(err), zap.String("msg_id", ref.MsgID))
	}
	s.publish(bus.KindOutboxFailed, Result{Ref: ref, Err: cause.Error()})
}

func (s *Sender) publish(kind string, r Result) {
	if s.bus != nil {
		s.bus.Publish(bus.NewEvent(kind, r))
	}
}
