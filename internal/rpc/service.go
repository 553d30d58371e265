package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	SessionServiceName = "chatlog.v1.SessionService"
	HistoryServiceName = "chatlog.v1.HistoryService"
)

// SessionServiceServer is the server API for the session service.
type SessionServiceServer interface {
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	StartAuth(*StartAuthRequest, grpc.ServerStreamingServer[AuthEvent]) error
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	SendText(context.Context, *SendTextRequest) (*SendTextResponse, error)
}

// HistoryServiceServer is the server API for the history service.
type HistoryServiceServer interface {
	Find(context.Context, *FindRequest) (*FindResponse, error)
	FindLastForAll(context.Context, *FindLastForAllRequest) (*FindLastForAllResponse, error)
	WriteMessage(context.Context, *WriteMessageRequest) (*WriteResponse, error)
	WriteGroupMessage(context.Context, *WriteGroupMessageRequest) (*WriteResponse, error)
	WriteRoomStatus(context.Context, *WriteRoomStatusRequest) (*WriteResponse, error)
	MarkRead(context.Context, *MarkReadRequest) (*WriteResponse, error)
	MarkFailed(context.Context, *MarkFailedRequest) (*WriteResponse, error)
	AttachProviderID(context.Context, *AttachProviderIDRequest) (*WriteResponse, error)
	WatchRecent(*WatchRecentRequest, grpc.ServerStreamingServer[RecentUpdate]) error
}

// FullMethod returns the gRPC method path for a service method.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// unary builds a method descriptor that decodes Req and dispatches to call,
// going through the server's interceptor chain when one is installed.
func unary[S any, Req any, Res any](service, name string, call func(S, context.Context, *Req) (*Res, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(service, name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func serverStream[S any, Req any, Res any](name string, call func(S, *Req, grpc.ServerStreamingServer[Res]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(S), in, &grpc.GenericServerStream[Req, Res]{ServerStream: stream})
		},
	}
}

var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "GetStatus", SessionServiceServer.GetStatus),
		unary(SessionServiceName, "Logout", SessionServiceServer.Logout),
		unary(SessionServiceName, "SendText", SessionServiceServer.SendText),
	},
	Streams: []grpc.StreamDesc{
		serverStream("StartAuth", SessionServiceServer.StartAuth),
	},
}

var HistoryServiceDesc = grpc.ServiceDesc{
	ServiceName: HistoryServiceName,
	HandlerType: (*HistoryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(HistoryServiceName, "Find", HistoryServiceServer.Find),
		unary(HistoryServiceName, "FindLastForAll", HistoryServiceServer.FindLastForAll),
		unary(HistoryServiceName, "WriteMessage", HistoryServiceServer.WriteMessage),
		unary(HistoryServiceName, "WriteGroupMessage", HistoryServiceServer.WriteGroupMessage),
		unary(HistoryServiceName, "WriteRoomStatus", HistoryServiceServer.WriteRoomStatus),
		unary(HistoryServiceName, "MarkRead", HistoryServiceServer.MarkRead),
		unary(HistoryServiceName, "MarkFailed", HistoryServiceServer.MarkFailed),
		unary(HistoryServiceName, "AttachProviderID", HistoryServiceServer.AttachProviderID),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchRecent", HistoryServiceServer.WatchRecent),
	},
}

func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

func RegisterHistoryServiceServer(s grpc.ServiceRegistrar, srv HistoryServiceServer) {
	s.RegisterService(&HistoryServiceDesc, srv)
}
