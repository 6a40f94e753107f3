package remote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
)

// Server answers DataProvider calls from a local provider.
type Server struct {
	provider dataprovider.Provider
	logger   *slog.Logger
}

// NewServer wraps p. A nil logger uses slog.Default().
func NewServer(p dataprovider.Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{provider: p, logger: logger}
}

// Register adds the DataProvider service to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

func (s *Server) getOne(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m := req.AsMap()
	resource, err := requireResource(m)
	if err != nil {
		return nil, err
	}
	rec, err := s.provider.GetOne(ctx, resource, m["id"])
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(map[string]any{"record": rec})
}

func (s *Server) getMany(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m := req.AsMap()
	resource, err := requireResource(m)
	if err != nil {
		return nil, err
	}
	ids, _ := m["ids"].([]any)
	recs, err := s.provider.GetMany(ctx, resource, ids)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(map[string]any{"records": recs})
}

func (s *Server) getList(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m := req.AsMap()
	resource, err := requireResource(m)
	if err != nil {
		return nil, err
	}
	list, err := s.provider.GetList(ctx, resource, decodeParams(m))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(map[string]any{"records": list.Data, "total": list.Total})
}

func (s *Server) create(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	creator, ok := s.provider.(dataprovider.Creator)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "provider does not support create")
	}
	m := req.AsMap()
	resource, err := requireResource(m)
	if err != nil {
		return nil, err
	}
	data, _ := m["data"].(map[string]any)
	rec, err := creator.Create(ctx, resource, choice.Choice(data))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(map[string]any{"record": rec})
}

func requireResource(m map[string]any) (string, error) {
	r, _ := m["resource"].(string)
	if r == "" {
		return "", status.Error(codes.InvalidArgument, "resource is required")
	}
	return r, nil
}

func (s *Server) toStatus(err error) error {
	var he *dataprovider.HTTPError
	switch {
	case errors.Is(err, dataprovider.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.As(err, &he):
		return status.Error(codeForHTTP(he.Status), he.Message)
	default:
		s.logger.Error("provider call failed", "error", err)
		return status.Error(codes.Internal, err.Error())
	}
}

func codeForHTTP(s int) codes.Code {
	switch s {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

func httpForCode(c codes.Code) int {
	switch c {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
