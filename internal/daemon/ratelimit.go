package daemon

import (
	"context"
	"sync"

	"github.com/matheus3301/chatlog/internal/config"
	"github.com/matheus3301/chatlog/internal/rpc"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var writeMethods = map[string]bool{
	rpc.FullMethod(rpc.HistoryServiceName, "WriteMessage"):      true,
	rpc.FullMethod(rpc.HistoryServiceName, "WriteGroupMessage"): true,
	rpc.FullMethod(rpc.HistoryServiceName, "WriteRoomStatus"):   true,
	rpc.FullMethod(rpc.HistoryServiceName, "MarkRead"):          true,
	rpc.FullMethod(rpc.HistoryServiceName, "MarkFailed"):        true,
	rpc.FullMethod(rpc.HistoryServiceName, "AttachProviderID"):  true,
	rpc.FullMethod(rpc.SessionServiceName, "SendText"):          true,
}

// methodLimiter applies one token bucket per write method.
type methodLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	byMethod map[string]*rate.Limiter
}

// newMethodLimiter returns nil when limiting is disabled.
func newMethodLimiter(cfg config.APIConfig) *methodLimiter {
	if cfg.WriteRate <= 0 {
		return nil
	}
	burst := cfg.WriteBurst
	if burst <= 0 {
		burst = 1
	}
	return &methodLimiter{
		limit:    rate.Limit(cfg.WriteRate),
		burst:    burst,
		byMethod: make(map[string]*rate.Limiter),
	}
}

func (l *methodLimiter) allow(method string) bool {
	if l == nil || !writeMethods[method] {
		return true
	}
	l.mu.Lock()
	lim, ok := l.byMethod[method]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byMethod[method] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (l *methodLimiter) unaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !l.allow(info.FullMethod) {
			return nil, grpcstatus.Errorf(codes.ResourceExhausted, "rate limit exceeded for %s", info.FullMethod)
		}
		return handler(ctx, req)
	}
}
