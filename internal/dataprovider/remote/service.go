// Package remote serves and consumes a dataprovider over gRPC, normally on
// the daemon's unix socket.
//
// Messages are google.protobuf.Struct values so that records stay schemaless
// on the wire. A request carries some of "resource", "id", "ids",
// "pagination", "sort", "filter" and "data"; a response carries "record",
// "records" and "total".
package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/query"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "refkit.v1.DataProvider"

// Method paths.
const (
	methodGetOne  = "/" + ServiceName + "/GetOne"
	methodGetMany = "/" + ServiceName + "/GetMany"
	methodGetList = "/" + ServiceName + "/GetList"
	methodCreate  = "/" + ServiceName + "/Create"
)

// handlerFunc answers one request struct.
type handlerFunc func(s *Server, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unary(name string, h handlerFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return h(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return h(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// serviceDesc describes the DataProvider service for grpc.Server.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetOne", (*Server).getOne),
		unary("GetMany", (*Server).getMany),
		unary("GetList", (*Server).getList),
		unary("Create", (*Server).create),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "refkit/v1/dataprovider.proto",
}

func encodeParams(p query.Params) map[string]any {
	filter := map[string]any{}
	for k, v := range p.Filter {
		filter[k] = plain(v)
	}
	return map[string]any{
		"pagination": map[string]any{"page": p.Pagination.Page, "perPage": p.Pagination.PerPage},
		"sort":       map[string]any{"field": p.Sort.Field, "order": string(p.Sort.Order)},
		"filter":     filter,
	}
}

func decodeParams(m map[string]any) query.Params {
	var p query.Params
	if pg, ok := m["pagination"].(map[string]any); ok {
		p.Pagination.Page = toInt(pg["page"])
		p.Pagination.PerPage = toInt(pg["perPage"])
	}
	if s, ok := m["sort"].(map[string]any); ok {
		p.Sort.Field, _ = s["field"].(string)
		order, _ := s["order"].(string)
		p.Sort.Order = query.Order(order)
	}
	p.Filter = query.Filter{}
	if f, ok := m["filter"].(map[string]any); ok {
		for k, v := range f {
			p.Filter[k] = v
		}
	}
	return p
}

func toInt(v any) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}

// plain strips named map and slice types that structpb does not accept.
func plain(v any) any {
	switch val := v.(type) {
	case choice.Choice:
		return plainMap(val)
	case map[string]any:
		return plainMap(val)
	case query.Filter:
		return plainMap(val)
	case []choice.Choice:
		out := make([]any, len(val))
		for i, c := range val {
			out[i] = plainMap(c)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

func plainMap[M ~map[string]any](m M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(plainMap(m))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return s, nil
}

func toChoices(v any) []choice.Choice {
	list, _ := v.([]any)
	out := make([]choice.Choice, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, choice.Choice(m))
		}
	}
	return out
}
