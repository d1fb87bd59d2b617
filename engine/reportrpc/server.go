// Package reportrpc exposes the report engine over gRPC. Messages are
// google.protobuf.Struct documents carrying the same JSON shapes as the HTTP
// API, so no generated code is needed.
package reportrpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/engine/report"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "claimgraph.report.v1.ReportService"

const (
	runMethod  = "/" + ServiceName + "/Run"
	listMethod = "/" + ServiceName + "/List"
)

// ReportServiceServer is the server API of the report service.
//
// Run takes {"name": "<catalog entry>"} or {"spec": {...}} and returns
// {"name", "columns", "rows"}. List returns one {"name", "description"}
// entry per catalog report.
type ReportServiceServer interface {
	Run(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// Runner executes report specs.
type Runner interface {
	Run(ctx context.Context, spec report.Spec) (report.Result, error)
}

// Server implements ReportServiceServer on a report engine and catalog.
type Server struct {
	engine  Runner
	catalog *report.Catalog
	log     *slog.Logger
}

var _ ReportServiceServer = (*Server)(nil)

// NewServer creates a Server.
func NewServer(engine Runner, catalog *report.Catalog, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, catalog: catalog, log: log.With("component", "reportrpc")}
}

// Register adds the report service to gs.
func Register(gs *grpc.Server, s ReportServiceServer) {
	gs.RegisterService(&ServiceDesc, s)
}

// runRequest is the JSON shape of a Run request.
type runRequest struct {
	Name string          `json:"name"`
	Spec json.RawMessage `json:"spec"`
}

func (s *Server) Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	data, err := protojson.Marshal(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "reportrpc: encode request: %v", err)
	}
	var rr runRequest
	if err := json.Unmarshal(data, &rr); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "reportrpc: decode request: %v", err)
	}

	var spec report.Spec
	switch {
	case len(rr.Spec) > 0:
		if spec, err = report.ParseSpec(rr.Spec); err != nil {
			return nil, statusOf(err)
		}
	case rr.Name != "":
		var ok bool
		if spec, ok = s.catalog.Get(rr.Name); !ok {
			return nil, status.Errorf(codes.NotFound, "reportrpc: unknown report %q", rr.Name)
		}
	default:
		return nil, status.Error(codes.InvalidArgument, "reportrpc: request needs a name or a spec")
	}

	res, err := s.engine.Run(ctx, spec)
	if err != nil {
		return nil, statusOf(err)
	}
	return toStruct(res)
}

func (s *Server) List(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	specs := s.catalog.List()
	entries := make([]any, len(specs))
	for i, spec := range specs {
		entries[i] = map[string]any{"name": spec.Name, "description": spec.Description}
	}
	lv, err := structpb.NewList(entries)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "reportrpc: encode list: %v", err)
	}
	return lv, nil
}

// toStruct converts a result through its JSON form, so times become RFC 3339
// strings and points {lat, lon} objects.
func toStruct(res report.Result) (*structpb.Struct, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "reportrpc: encode result: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "reportrpc: encode result: %v", err)
	}
	return out, nil
}

// statusOf maps engine errors onto gRPC codes.
func statusOf(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidReportSpec):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrBackendUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// LoggingInterceptor logs every unary call with its code and duration.
func LoggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.InfoContext(ctx, "rpc",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServiceServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: runMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReportServiceServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServiceServer).List(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReportServiceServer).List(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the report service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReportServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
		{MethodName: "List", Handler: listHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "claimgraph/report/v1/report.proto",
}
