package reportrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/WessleyAI/claimgraph/engine/report"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Entry is one catalog listing.
type Entry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Client calls a remote report service.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial creates a Client for the service at addr over plaintext gRPC.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("reportrpc: dial %s: %w", addr, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Run sends a raw request document.
func (c *Client) Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, runMethod, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunNamed runs a catalog report.
func (c *Client) RunNamed(ctx context.Context, name string) (report.Result, error) {
	req, err := structpb.NewStruct(map[string]any{"name": name})
	if err != nil {
		return report.Result{}, fmt.Errorf("reportrpc: encode request: %w", err)
	}
	return c.run(ctx, req)
}

// RunSpec runs an ad hoc spec.
func (c *Client) RunSpec(ctx context.Context, spec report.Spec) (report.Result, error) {
	data, err := json.Marshal(map[string]any{"spec": spec})
	if err != nil {
		return report.Result{}, fmt.Errorf("reportrpc: encode spec: %w", err)
	}
	req := new(structpb.Struct)
	if err := protojson.Unmarshal(data, req); err != nil {
		return report.Result{}, fmt.Errorf("reportrpc: encode spec: %w", err)
	}
	return c.run(ctx, req)
}

func (c *Client) run(ctx context.Context, req *structpb.Struct) (report.Result, error) {
	out, err := c.Run(ctx, req)
	if err != nil {
		return report.Result{}, err
	}
	data, err := protojson.Marshal(out)
	if err != nil {
		return report.Result{}, fmt.Errorf("reportrpc: decode result: %w", err)
	}
	var res report.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return report.Result{}, fmt.Errorf("reportrpc: decode result: %w", err)
	}
	return res, nil
}

// List returns the remote catalog.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, listMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	data, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("reportrpc: decode list: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("reportrpc: decode list: %w", err)
	}
	return entries, nil
}
