package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/services/agent"
)

const (
	StatusServiceName = "irrigation.agent.v1.AgentStatus"
	getStatusMethod   = "/" + StatusServiceName + "/GetStatus"
)

// AgentStatusServer answers GetStatus with the agent snapshot as a Struct.
type AgentStatusServer interface {
	GetStatus(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

var agentStatusServiceDesc = grpc.ServiceDesc{
	ServiceName: StatusServiceName,
	HandlerType: (*AgentStatusServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "irrigation/agent/v1/status.proto",
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentStatusServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatusMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentStatusServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

type statusServer struct {
	agent StatusProvider
}

func (s *statusServer) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	b, err := json.Marshal(s.agent.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return structpb.NewStruct(m)
}

// GetStatus calls AgentStatus/GetStatus on cc.
func GetStatus(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, getStatusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// NewGRPCServer registers the standard health service (backed by hs) and AgentStatus.
func NewGRPCServer(p StatusProvider, hs *health.Server, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, hs)
	srv.RegisterService(&agentStatusServiceDesc, &statusServer{agent: p})
	return srv
}

// NewHealth returns a health server reporting SERVING for the agent.
func NewHealth() *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(StatusServiceName, healthpb.HealthCheckResponse_SERVING)
	return hs
}

// HealthListener mirrors readiness into hs; pass it to agent.WithStateListener.
func HealthListener(hs *health.Server) func(agent.State) {
	return func(s agent.State) {
		st := healthpb.HealthCheckResponse_SERVING
		if s == agent.StateShuttingDown {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", st)
		hs.SetServingStatus(StatusServiceName, st)
	}
}

// ServeGRPC serves on addr until ctx is done.
func ServeGRPC(ctx context.Context, addr string, srv *grpc.Server, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	logger.Info("grpc listening", zap.String("addr", addr))
	return srv.Serve(lis)
}
