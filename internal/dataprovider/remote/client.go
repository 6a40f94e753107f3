package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/query"
)

var (
	_ dataprovider.Provider = (*Client)(nil)
	_ dataprovider.Creator  = (*Client)(nil)
)

// Client is a dataprovider.Provider backed by a DataProvider gRPC service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to the daemon's unix socket. The connection is established
// lazily on the first call.
func Dial(socketPath string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	if _, err := os.Stat(socketPath); err != nil {
		return nil, fmt.Errorf("socket not found: %s", socketPath)
	}
	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
	}, opts...)
	conn, err := grpc.NewClient("passthrough:///"+socketPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return conn, nil
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := newStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out.AsMap(), nil
}

// GetOne implements dataprovider.Provider.
func (c *Client) GetOne(ctx context.Context, resource string, id any) (choice.Choice, error) {
	resp, err := c.call(ctx, methodGetOne, map[string]any{"resource": resource, "id": plain(id)})
	if err != nil {
		return nil, err
	}
	rec, _ := resp["record"].(map[string]any)
	return choice.Choice(rec), nil
}

// GetMany implements dataprovider.Provider.
func (c *Client) GetMany(ctx context.Context, resource string, ids []any) ([]choice.Choice, error) {
	resp, err := c.call(ctx, methodGetMany, map[string]any{"resource": resource, "ids": plain(ids)})
	if err != nil {
		return nil, err
	}
	return toChoices(resp["records"]), nil
}

// GetList implements dataprovider.Provider.
func (c *Client) GetList(ctx context.Context, resource string, params query.Params) (dataprovider.List, error) {
	req := encodeParams(params)
	req["resource"] = resource
	resp, err := c.call(ctx, methodGetList, req)
	if err != nil {
		return dataprovider.List{}, err
	}
	return dataprovider.List{Data: toChoices(resp["records"]), Total: toInt(resp["total"])}, nil
}

// Create implements dataprovider.Creator.
func (c *Client) Create(ctx context.Context, resource string, data choice.Choice) (choice.Choice, error) {
	resp, err := c.call(ctx, methodCreate, map[string]any{"resource": resource, "data": plain(data)})
	if err != nil {
		return nil, err
	}
	rec, _ := resp["record"].(map[string]any)
	return choice.Choice(rec), nil
}

// fromStatus maps gRPC status errors back onto dataprovider errors.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), dataprovider.ErrNotFound)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", st.Message(), context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", st.Message(), context.DeadlineExceeded)
	default:
		return &dataprovider.HTTPError{Status: httpForCode(st.Code()), Message: st.Message()}
	}
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	var he *dataprovider.HTTPError
	return errors.As(err, &he) && he.Status == httpForCode(codes.Unavailable)
}
