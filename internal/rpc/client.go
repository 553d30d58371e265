package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client talks to a session daemon over its Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for the daemon listening on socketPath.
// The connection is established lazily on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Req any, Res any](ctx context.Context, c *Client, service, method string, in *Req) (*Res, error) {
	out := new(Res)
	if err := c.conn.Invoke(ctx, FullMethod(service, method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func openStream[Req any, Res any](ctx context.Context, c *Client, desc *grpc.ServiceDesc, idx int, in *Req) (grpc.ServerStreamingClient[Res], error) {
	sd := &desc.Streams[idx]
	stream, err := c.conn.NewStream(ctx, sd, FullMethod(desc.ServiceName, sd.StreamName))
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Req, Res]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *Client) GetStatus(ctx context.Context) (*GetStatusResponse, error) {
	return invoke[GetStatusRequest, GetStatusResponse](ctx, c, SessionServiceName, "GetStatus", &GetStatusRequest{})
}

// StartAuth streams pairing events until the daemon closes the stream.
func (c *Client) StartAuth(ctx context.Context) (grpc.ServerStreamingClient[AuthEvent], error) {
	return openStream[StartAuthRequest, AuthEvent](ctx, c, &SessionServiceDesc, 0, &StartAuthRequest{})
}

func (c *Client) Logout(ctx context.Context) (*LogoutResponse, error) {
	return invoke[LogoutRequest, LogoutResponse](ctx, c, SessionServiceName, "Logout", &LogoutRequest{})
}

// SendText queues an outgoing message and returns the reference of its
// history record. Delivery happens after the call returns.
func (c *Client) SendText(ctx context.Context, req *SendTextRequest) (*SendTextResponse, error) {
	return invoke[SendTextRequest, SendTextResponse](ctx, c, SessionServiceName, "SendText", req)
}

func (c *Client) Find(ctx context.Context, req *FindRequest) (*FindResponse, error) {
	return invoke[FindRequest, FindResponse](ctx, c, HistoryServiceName, "Find", req)
}

func (c *Client) FindLastForAll(ctx context.Context, req *FindLastForAllRequest) (*FindLastForAllResponse, error) {
	return invoke[FindLastForAllRequest, FindLastForAllResponse](ctx, c, HistoryServiceName, "FindLastForAll", req)
}

func (c *Client) WriteMessage(ctx context.Context, req *WriteMessageRequest) error {
	_, err := invoke[WriteMessageRequest, WriteResponse](ctx, c, HistoryServiceName, "WriteMessage", req)
	return err
}

func (c *Client) WriteGroupMessage(ctx context.Context, req *WriteGroupMessageRequest) error {
	_, err := invoke[WriteGroupMessageRequest, WriteResponse](ctx, c, HistoryServiceName, "WriteGroupMessage", req)
	return err
}

func (c *Client) WriteRoomStatus(ctx context.Context, req *WriteRoomStatusRequest) error {
	_, err := invoke[WriteRoomStatusRequest, WriteResponse](ctx, c, HistoryServiceName, "WriteRoomStatus", req)
	return err
}

func (c *Client) MarkRead(ctx context.Context, req *MarkReadRequest) error {
	_, err := invoke[MarkReadRequest, WriteResponse](ctx, c, HistoryServiceName, "MarkRead", req)
	return err
}

func (c *Client) MarkFailed(ctx context.Context, req *MarkFailedRequest) error {
	_, err := invoke[MarkFailedRequest, WriteResponse](ctx, c, HistoryServiceName, "MarkFailed", req)
	return err
}

func (c *Client) AttachProviderID(ctx context.Context, req *AttachProviderIDRequest) error {
	_, err := invoke[AttachProviderIDRequest, WriteResponse](ctx, c, HistoryServiceName, "AttachProviderID", req)
	return err
}

// WatchRecent opens a live recent-activity feed. The first update is a
// snapshot; later ones carry a single added or updated activity.
func (c *Client) WatchRecent(ctx context.Context, req *WatchRecentRequest) (grpc.ServerStreamingClient[RecentUpdate], error) {
	return openStream[WatchRecentRequest, RecentUpdate](ctx, c, &HistoryServiceDesc, 0, req)
}
