package source

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"trail-svr/internal/pipeline"
)

// The query service speaks plain protobuf Struct messages so no generated
// stubs are needed on either side.
//
//	GetLatest  {"device_id": id} -> {"fix": {...}}   (NotFound when none)
//	GetHistory {"device_id": id} -> {"points": [{...}, ...]}
const (
	fixQueryService  = "trail.v1.FixQuery"
	getLatestMethod  = "/" + fixQueryService + "/GetLatest"
	getHistoryMethod = "/" + fixQueryService + "/GetHistory"
)

// GRPCSource queries the ingestion service over gRPC.
type GRPCSource struct {
	conn   *grpc.ClientConn
	logger *slog.Logger
}

// NewGRPCSource builds a client for addr. Extra dial options go after the
// default insecure transport credentials.
func NewGRPCSource(addr string, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", addr, err)
	}
	return &GRPCSource{conn: conn, logger: logger.With("component", "source", "transport", "grpc")}, nil
}

func (g *GRPCSource) Close() error {
	return g.conn.Close()
}

func deviceRequest(deviceID string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"device_id": deviceID})
}

func (g *GRPCSource) Latest(ctx context.Context, deviceID string) (*pipeline.RawSample, error) {
	req, err := deviceRequest(deviceID)
	if err != nil {
		return nil, &TransportError{Op: "latest", DeviceID: deviceID, Err: err}
	}
	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, getLatestMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, &TransportError{Op: "latest", DeviceID: deviceID, Err: err}
	}
	fix, ok := resp.AsMap()["fix"].(map[string]any)
	if !ok {
		return nil, nil
	}
	r := sampleFromMap(deviceID, fix)
	return &r, nil
}

func (g *GRPCSource) History(ctx context.Context, deviceID string) ([]pipeline.RawSample, error) {
	req, err := deviceRequest(deviceID)
	if err != nil {
		return nil, &TransportError{Op: "history", DeviceID: deviceID, Err: err}
	}
	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, getHistoryMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, &TransportError{Op: "history", DeviceID: deviceID, Err: err}
	}
	items, _ := resp.AsMap()["points"].([]any)
	out := make([]pipeline.RawSample, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, sampleFromMap(deviceID, m))
		}
	}
	return out, nil
}

// FixQueryServer is implemented by services answering GRPCSource.
type FixQueryServer interface {
	GetLatest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterFixQueryServer attaches srv to a gRPC server.
func RegisterFixQueryServer(s grpc.ServiceRegistrar, srv FixQueryServer) {
	s.RegisterService(&fixQueryServiceDesc, srv)
}

func unaryHandler(call func(FixQueryServer, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FixQueryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(FixQueryServer), ctx, req.(*structpb.Struct))
		})
	}
}

var fixQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: fixQueryService,
	HandlerType: (*FixQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetLatest", Handler: unaryHandler(FixQueryServer.GetLatest, getLatestMethod)},
		{MethodName: "GetHistory", Handler: unaryHandler(FixQueryServer.GetHistory, getHistoryMethod)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trail/v1/fix_query.proto",
}
