package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/chatlog/internal/bus"
	"github.com/matheus3301/chatlog/internal/history"
	"github.com/matheus3301/chatlog/internal/recent"
	"github.com/matheus3301/chatlog/internal/rpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const (
	defaultFindLimit = 50
)

// HistoryService implements the HistoryService gRPC service.
type HistoryService struct {
	writer *history.Writer
	engine *history.Engine
	source *recent.Source
	bus    *bus.Bus
	logger *zap.Logger
}

// NewHistoryService creates a history service over the writer, engine and
// live feed source.
func NewHistoryService(writer *history.Writer, engine *history.Engine, source *recent.Source, b *bus.Bus, logger *zap.Logger) *HistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryService{writer: writer, engine: engine, source: source, bus: b, logger: logger}
}

func (s *HistoryService) Find(ctx context.Context, req *rpc.FindRequest) (*rpc.FindResponse, error) {
	conv := req.Conversation.History()
	n := req.N
	if n == 0 {
		n = defaultFindLimit
	}

	var (
		events []history.Event
		err    error
	)
	switch req.Mode {
	case rpc.FindLast, "":
		events, err = s.engine.FindLast(ctx, conv, n)
	case rpc.FindFirst:
		events, err = s.engine.FindFirst(ctx, conv, n)
	case rpc.FindPeriod:
		events, err = s.engine.FindByPeriod(ctx, conv, req.Start, req.End)
	case rpc.FindBefore:
		events, err = s.engine.FindBefore(ctx, conv, req.End, n)
	case rpc.FindAfter:
		events, err = s.engine.FindAfter(ctx, conv, req.Start, n)
	case rpc.FindKeyword:
		events, err = s.engine.FindByKeyword(ctx, conv, req.Keyword, n)
	case rpc.FindID:
		var ev history.Event
		ev, err = s.engine.FindByID(ctx, conv, req.MsgID)
		if ev != nil {
			events = []history.Event{ev}
		}
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown find mode %q", req.Mode)
	}
	if err != nil {
		return nil, toStatus("find", err)
	}
	return &rpc.FindResponse{Events: rpc.FromEvents(events)}, nil
}

func (s *HistoryService) FindLastForAll(ctx context.Context, req *rpc.FindLastForAllRequest) (*rpc.FindLastForAllResponse, error) {
	n := req.N
	if n == 0 {
		n = defaultFindLimit
	}
	acts, err := s.engine.FindLastForAll(ctx, req.Keyword, n)
	if err != nil {
		return nil, toStatus("find last for all", err)
	}
	out := make([]rpc.Activity, 0, len(acts))
	for _, a := range acts {
		out = append(out, rpc.FromActivity(a.Key, a.Event))
	}
	return &rpc.FindLastForAllResponse{Activities: out}, nil
}

func (s *HistoryService) WriteMessage(ctx context.Context, req *rpc.WriteMessageRequest) (*rpc.WriteResponse, error) {
	ev := req.Event.Message()
	var err error
	if req.DeliveryFailed {
		err = s.writer.WriteDeliveryFailure(ctx, ev)
	} else {
		err = s.writer.WriteMessage(ctx, ev)
	}
	if err != nil {
		return nil, toStatus("write message", err)
	}
	return &rpc.WriteResponse{}, nil
}

func (s *HistoryService) WriteGroupMessage(ctx context.Context, req *rpc.WriteGroupMessageRequest) (*rpc.WriteResponse, error) {
	if err := s.writer.WriteGroupMessage(ctx, req.Event.Group()); err != nil {
		return nil, toStatus("write group message", err)
	}
	return &rpc.WriteResponse{}, nil
}

func (s *HistoryService) WriteRoomStatus(ctx context.Context, req *rpc.WriteRoomStatusRequest) (*rpc.WriteResponse, error) {
	st := history.RoomStatus{
		LocalID:   req.LocalID,
		RoomID:    req.RoomID,
		ActorID:   req.ActorID,
		Kind:      history.RoomStatusKind(req.Kind),
		Subject:   req.Subject,
		Timestamp: req.Timestamp,
		MsgID:     req.MsgID,
	}
	if err := s.writer.WriteRoomStatus(ctx, st); err != nil {
		return nil, toStatus("write room status", err)
	}
	return &rpc.WriteResponse{}, nil
}

func (s *HistoryService) MarkRead(ctx context.Context, req *rpc.MarkReadRequest) (*rpc.WriteResponse, error) {
	if err := s.writer.MarkRead(ctx, req.Ref.History(), req.Read); err != nil {
		return nil, toStatus("mark read", err)
	}
	return &rpc.WriteResponse{}, nil
}

func (s *HistoryService) MarkFailed(ctx context.Context, req *rpc.MarkFailedRequest) (*rpc.WriteResponse, error) {
	if err := s.writer.MarkFailed(ctx, req.Ref.History()); err != nil {
		return nil, toStatus("mark failed", err)
	}
	return &rpc.WriteResponse{}, nil
}

func (s *HistoryService) AttachProviderID(ctx context.Context, req *rpc.AttachProviderIDRequest) (*rpc.WriteResponse, error) {
	if err := s.writer.AttachProviderID(ctx, req.Ref.History(), req.ProviderID); err != nil {
		return nil, toStatus("attach provider id", err)
	}
	return &rpc.WriteResponse{}, nil
}

// WatchRecent streams one snapshot of the live feed followed by every
// added or updated entry until the client goes away.
func (s *HistoryService) WatchRecent(req *rpc.WatchRecentRequest, stream grpc.ServerStreamingServer[rpc.RecentUpdate]) error {
	ctx := stream.Context()
	q := s.source.NewQuery(req.Keyword, req.Limit)
	defer q.Cancel()

	updates, unsub := s.bus.SubscribeQueue(q.Namespace())
	defer unsub()

	if err := q.Start(ctx); err != nil {
		return toStatus("watch recent", err)
	}
	s.logger.Debug("recent watch started",
		zap.String("query", q.ID()),
		zap.String("keyword", q.Keyword()),
		zap.Int("limit", q.Limit()),
	)

	results := q.Results()
	snapshot := make([]rpc.Activity, 0, len(results))
	for _, sc := range results {
		snapshot = append(snapshot, rpc.FromActivity(sc.Key, sc.Event))
	}
	if err := stream.Send(&rpc.RecentUpdate{QueryID: q.ID(), Type: rpc.UpdateSnapshot, Activities: snapshot}); err != nil {
		return err
	}

	for {
		select {
		case evt := <-updates:
			n, ok := evt.Payload.(recent.Notification)
			if !ok {
				continue
			}
			if err := stream.Send(&rpc.RecentUpdate{
				QueryID:    q.ID(),
				Type:       string(n.Type),
				Activities: []rpc.Activity{rpc.FromActivity(n.Contact.Key, n.Contact.Event)},
			}); err != nil {
				return err
			}
		case <-q.Done():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// toStatus maps history errors to gRPC status codes.
func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, history.ErrInvalidEvent):
		code = codes.InvalidArgument
	case errors.Is(err, history.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, recent.ErrCanceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return grpcstatus.Error(code, fmt.Sprintf("%s: %v", op, err))
}
