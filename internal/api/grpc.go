package bridgeapi

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/aegis-sign/wallet-bridge/internal/app/bridge"
	"github.com/aegis-sign/wallet-bridge/pkg/apierrors"
)

const (
	// BridgeServiceName 是 gRPC 服务名，也用作健康检查的 service 键。
	BridgeServiceName = "walletbridge.v1.Bridge"
	// JSONCodecName 是消息编码的 content-subtype。
	JSONCodecName = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec 让 gRPC 直接收发 JSON 消息，与 HTTP/WebSocket 共用同一套载荷结构。
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return JSONCodecName }

// CallOptions 返回客户端调用 Bridge 服务所需的默认选项。
func CallOptions() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}
}

type InvokeRequest struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params,omitempty"`
}

type InvokeResponse struct {
	Result json.RawMessage `json:"result"`
}

type MountRequest struct{}

type MountResponse struct {
	Mounted bool `json:"mounted"`
}

type AnchorRequest struct {
	ID string `json:"id"`
	// Removed 为 true 表示挂载点被移除。
	Removed bool `json:"removed,omitempty"`
}

type EventsRequest struct{}

type EventMessage struct {
	Event  string               `json:"event"`
	Seq    uint64               `json:"seq"`
	Detail bridge.AccountDetail `json:"detail"`
}

// BridgeServer 是 walletbridge.v1.Bridge 的服务端接口。
type BridgeServer interface {
	Invoke(context.Context, *InvokeRequest) (*InvokeResponse, error)
	Mount(context.Context, *MountRequest) (*MountResponse, error)
	Anchor(context.Context, *AnchorRequest) (*bridge.RegistrarSnapshot, error)
	Events(*EventsRequest, BridgeEventsServer) error
}

// BridgeEventsServer 是 Events 流的服务端句柄。
type BridgeEventsServer interface {
	Send(*EventMessage) error
	grpc.ServerStream
}

// BridgeServiceDesc 描述 walletbridge.v1.Bridge，消息使用 JSON codec。
var BridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: BridgeServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: unaryHandler("Invoke", BridgeServer.Invoke)},
		{MethodName: "Mount", Handler: unaryHandler("Mount", BridgeServer.Mount)},
		{MethodName: "Anchor", Handler: unaryHandler("Anchor", BridgeServer.Anchor)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Events", Handler: eventsHandler, ServerStreams: true},
	},
	Metadata: "walletbridge/v1/bridge.json",
}

func fullMethod(method string) string {
	return "/" + BridgeServiceName + "/" + method
}

func unaryHandler[Req, Resp any](method string, call func(BridgeServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BridgeServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BridgeServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func eventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(EventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BridgeServer).Events(in, &bridgeEventsServer{stream})
}

type bridgeEventsServer struct {
	grpc.ServerStream
}

func (x *bridgeEventsServer) Send(m *EventMessage) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterBridgeServer 把实现注册到 gRPC server。
func RegisterBridgeServer(s grpc.ServiceRegistrar, srv BridgeServer) {
	s.RegisterService(&BridgeServiceDesc, srv)
}

// GRPCServer 实现 walletbridge.v1.Bridge。
type GRPCServer struct {
	backend Backend
}

// NewGRPCServer 构造 gRPC server。
func NewGRPCServer(backend Backend) *GRPCServer {
	backend.validate()
	return &GRPCServer{backend: backend}
}

// Invoke 透传到边界调用面。
func (s *GRPCServer) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	if req == nil || req.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "callable name is required")
	}
	result, err := s.backend.Callables.Invoke(ctx, req.Name, req.Params)
	if err != nil {
		return nil, s.grpcError(err)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode result")
	}
	return &InvokeResponse{Result: raw}, nil
}

// Mount 对应 MountWalletAdapter 触发器。
func (s *GRPCServer) Mount(ctx context.Context, _ *MountRequest) (*MountResponse, error) {
	mounted, err := s.backend.Registrar.MountWalletAdapter(ctx)
	if err != nil {
		return nil, s.grpcError(err)
	}
	return &MountResponse{Mounted: mounted}, nil
}

// Anchor 报告挂载点出现或移除。
func (s *GRPCServer) Anchor(ctx context.Context, req *AnchorRequest) (*bridge.RegistrarSnapshot, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	var err error
	if req.Removed {
		err = s.backend.Registrar.AnchorRemoved(ctx, req.ID)
	} else {
		err = s.backend.Registrar.AnchorAvailable(ctx, req.ID)
	}
	if err != nil {
		return nil, s.grpcError(err)
	}
	snap := s.backend.Registrar.Snapshot()
	return &snap, nil
}

// Events 推送账户事件，订阅落后被摘除时以 ResourceExhausted 结束。
func (s *GRPCServer) Events(_ *EventsRequest, stream BridgeEventsServer) error {
	sub := s.backend.Events.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case evt, ok := <-sub.C:
			if !ok {
				return status.Error(codes.ResourceExhausted, "event subscriber fell behind")
			}
			if err := stream.Send(&EventMessage{Event: evt.Name, Seq: evt.Seq, Detail: evt.Detail}); err != nil {
				return err
			}
		}
	}
}

func (s *GRPCServer) grpcError(err error) error {
	if apiErr, ok := apierrors.FromError(err); ok {
		return status.Error(apierrors.GRPCStatus(apiErr.Code), fmt.Sprintf("%s: %s", apiErr.Code, apiErr.Error()))
	}
	return status.Error(codes.Internal, "internal error")
}

// MountHealth 返回一个 OnStateChange 回调：挂载时 SERVING，卸载时 NOT_SERVING。
func MountHealth(h *health.Server) func(mounted bool) {
	h.SetServingStatus(BridgeServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return func(mounted bool) {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if mounted {
			st = healthpb.HealthCheckResponse_SERVING
		}
		h.SetServingStatus(BridgeServiceName, st)
	}
}

// BridgeClient 是 walletbridge.v1.Bridge 的客户端。
type BridgeClient struct {
	cc grpc.ClientConnInterface
}

// NewBridgeClient 构造客户端。
func NewBridgeClient(cc grpc.ClientConnInterface) *BridgeClient {
	return &BridgeClient{cc: cc}
}

// Invoke 调用一个边界可调用项。
func (c *BridgeClient) Invoke(ctx context.Context, name string, params any) (json.RawMessage, error) {
	in := &InvokeRequest{Name: name}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		in.Params = raw
	}
	out := new(InvokeResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Invoke"), in, out, CallOptions()...); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// Mount 触发 MountWalletAdapter。
func (c *BridgeClient) Mount(ctx context.Context) (bool, error) {
	out := new(MountResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Mount"), &MountRequest{}, out, CallOptions()...); err != nil {
		return false, err
	}
	return out.Mounted, nil
}

// Anchor 报告挂载点状态。
func (c *BridgeClient) Anchor(ctx context.Context, id string, removed bool) (*bridge.RegistrarSnapshot, error) {
	out := new(bridge.RegistrarSnapshot)
	if err := c.cc.Invoke(ctx, fullMethod("Anchor"), &AnchorRequest{ID: id, Removed: removed}, out, CallOptions()...); err != nil {
		return nil, err
	}
	return out, nil
}

// EventStream 是 Events 的客户端流。
type EventStream struct {
	stream grpc.ClientStream
}

// Events 打开事件流。
func (c *BridgeClient) Events(ctx context.Context) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &BridgeServiceDesc.Streams[0], fullMethod("Events"), CallOptions()...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&EventsRequest{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// Recv 阻塞直到下一个事件。
func (s *EventStream) Recv() (*EventMessage, error) {
	m := new(EventMessage)
	if err := s.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
