package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/chatlog/internal/ingest"
	"github.com/matheus3301/chatlog/internal/outbox"
	"github.com/matheus3301/chatlog/internal/recent"
	"github.com/matheus3301/chatlog/internal/rpc"
	"github.com/matheus3301/chatlog/internal/status"
	"github.com/matheus3301/chatlog/internal/store"
	"github.com/matheus3301/chatlog/internal/wa"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// SessionService implements the SessionService gRPC service.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	machine     *status.SessionMachine
	adapter     *wa.Adapter
	db          *store.DB
	reconciler  *ingest.Reconciler
	source      *recent.Source
	outbox      *outbox.Sender
	logger      *zap.Logger
}

// NewSessionService creates a new session service. adapter, db, reconciler,
// source and sender may be nil; the matching status fields are then left
// empty and the matching calls report Unavailable.
func NewSessionService(sessionName string, machine *status.SessionMachine, adapter *wa.Adapter, db *store.DB, reconciler *ingest.Reconciler, source *recent.Source, sender *outbox.Sender, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		machine:     machine,
		adapter:     adapter,
		db:          db,
		reconciler:  reconciler,
		source:      source,
		outbox:      sender,
		logger:      logger,
	}
}

func (s *SessionService) GetStatus(ctx context.Context, _ *rpc.GetStatusRequest) (*rpc.GetStatusResponse, error) {
	current := s.machine.Current()

	resp := &rpc.GetStatusResponse{
		Session:  s.sessionName,
		Status:   string(current),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}

	if s.adapter != nil {
		resp.PhoneNumber = s.adapter.PhoneNumber()
	}

	if s.db != nil {
		if n, err := s.db.MessageCount(ctx); err == nil {
			resp.MessageCount = n
		}
		if n, err := s.db.GroupMessageCount(ctx); err == nil {
			resp.GroupMessageCount = n
		}
		if n, err := s.db.ContactCount(ctx); err == nil {
			resp.ContactCount = n
		}
	}

	if s.reconciler != nil {
		last, err := s.reconciler.LastHistoryBatch(ctx)
		if err != nil {
			s.logger.Warn("read history checkpoint", zap.Error(err))
		} else if !last.IsZero() {
			resp.LastHistoryBatch = last
		}
	}

	if s.source != nil {
		resp.ActiveQueries = s.source.Active()
	}

	return resp, nil
}

func (s *SessionService) StartAuth(_ *rpc.StartAuthRequest, stream grpc.ServerStreamingServer[rpc.AuthEvent]) error {
	if s.adapter == nil {
		return grpcstatus.Errorf(codes.Unavailable, "adapter not initialized")
	}

	authCh, err := s.adapter.StartQRAuth(stream.Context())
	if err != nil {
		return grpcstatus.Errorf(codes.Internal, "start auth: %v", err)
	}

	for evt := range authCh {
		if err := stream.Send(&rpc.AuthEvent{
			Type:    string(evt.Type),
			QRCode:  evt.QRCode,
			Message: evt.Message,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (s *SessionService) Logout(ctx context.Context, _ *rpc.LogoutRequest) (*rpc.LogoutResponse, error) {
	if s.adapter == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "adapter not initialized")
	}
	if err := s.adapter.Logout(ctx); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "logout: %v", err)
	}
	return &rpc.LogoutResponse{Success: true, Message: "logged out"}, nil
}

func (s *SessionService) SendText(ctx context.Context, req *rpc.SendTextRequest) (*rpc.SendTextResponse, error) {
	if s.outbox == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "sender not initialized")
	}
	ref, err := s.outbox.Enqueue(ctx, req.To, req.Text)
	if errors.Is(err, outbox.ErrQueueFull) {
		return nil, grpcstatus.Errorf(codes.ResourceExhausted, "send: %v", err)
	}
	if err != nil {
		return nil, toStatus("send", err)
	}
	s.logger.Debug("message queued", zap.String("msg_id", ref.MsgID))
	return &rpc.SendTextResponse{Ref: rpc.Ref(ref)}, nil
}
