package grpc

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	core "logpipe/ingestion/service/core"
)

const (
	ServiceName     = "logpipe.ingestion.v1.LogIngestion"
	SubmitLogMethod = "/" + ServiceName + "/SubmitLog"

	// SourceGRPC is recorded for records submitted without a source.
	SourceGRPC = core.SourceGRPC

	// tenantMetadataKey is the gRPC counterpart of the X-Tenant-ID header.
	tenantMetadataKey = "x-tenant-id"
)

// LogIngestionServer is the server API for the LogIngestion service. Both
// request and response are google.protobuf.Struct messages with the same
// fields as the JSON API.
type LogIngestionServer interface {
	SubmitLog(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the LogIngestion service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LogIngestionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitLog", Handler: submitLogHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "logpipe/ingestion/v1/ingestion.proto",
}

func submitLogHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogIngestionServer).SubmitLog(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitLogMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LogIngestionServer).SubmitLog(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterLogIngestionServer registers srv on s.
func RegisterLogIngestionServer(s grpc.ServiceRegistrar, srv LogIngestionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the LogIngestion service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) SubmitLog(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SubmitLogMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Code maps a gateway error to its gRPC status code.
func Code(err error) codes.Code {
	switch core.Category(err) {
	case core.CategoryInvalidField, core.CategoryUnsupportedFormat, core.CategoryPayloadTooLarge:
		return codes.InvalidArgument
	case core.CategoryPublishFailed:
		return codes.Unavailable
	case core.CategoryPublishUnconfirmed:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// Server implements the LogIngestionServer interface
type Server struct {
	svc    *core.Service
	logger *log.Entry
}

// NewServer creates a new gRPC Server instance
func NewServer(s *core.Service, l *log.Entry) *Server {
	return &Server{svc: s, logger: l}
}

// SubmitLog implements the SubmitLog method in the gRPC interface
func (s *Server) SubmitLog(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	input, err := toInput(ctx, req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.svc.SubmitLog(ctx, input)
	if err != nil {
		code := Code(err)
		if code == codes.Internal || code == codes.Unavailable {
			s.logger.WithError(err).Error("gRPC Server: SubmitLog failed")
		}
		return nil, status.Error(code, err.Error())
	}

	return structpb.NewStruct(map[string]interface{}{
		"status":    "accepted",
		"log_id":    result.LogID,
		"tenant_id": result.TenantID,
	})
}

// toInput reads the known string fields of req. Unknown fields are ignored.
func toInput(ctx context.Context, req *structpb.Struct) (*core.LogInput, error) {
	fields := req.GetFields()
	get := func(name string) (string, error) {
		v, ok := fields[name]
		if !ok {
			return "", nil
		}
		switch k := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			return k.StringValue, nil
		case *structpb.Value_NullValue:
			return "", nil
		default:
			return "", fmt.Errorf("field %q must be a string", name)
		}
	}

	input := &core.LogInput{}
	var err error
	if input.TenantID, err = get("tenant_id"); err != nil {
		return nil, err
	}
	if input.LogID, err = get("log_id"); err != nil {
		return nil, err
	}
	if input.Text, err = get("text"); err != nil {
		return nil, err
	}
	if input.Source, err = get("source"); err != nil {
		return nil, err
	}
	if input.Source == "" {
		input.Source = SourceGRPC
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(tenantMetadataKey); len(vals) > 0 {
			input.HeaderTenantID = vals[0]
		}
	}
	return input, nil
}

// Ensure Server implements the interface (compile-time check)
var _ LogIngestionServer = (*Server)(nil)
