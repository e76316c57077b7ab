// pkg/server/client.go
package server

import (
	"context"

	"github.com/imReese/NexusMem/pkg/memtable"
	"github.com/imReese/NexusMem/pkg/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls the Memtable service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens a plaintext connection. Client selects the JSON codec per call,
// so the same connection also serves the protobuf health service.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMsgSize)),
	}, opts...)
	return grpc.NewClient(addr, opts...)
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.cc.Invoke(ctx, fullMethod(method), in, out, grpc.CallContentSubtype(codecName))
}

func (c *Client) Update(ctx context.Context, key, value []byte) error {
	return c.invoke(ctx, "Update", &UpdateRequest{Key: key, Value: value}, &Empty{})
}

func (c *Client) Delete(ctx context.Context, key []byte) error {
	return c.invoke(ctx, "Delete", &KeyRequest{Key: key}, &Empty{})
}

func (c *Client) Query(ctx context.Context, key []byte) (memtable.Result, error) {
	var res memtable.Result
	err := c.invoke(ctx, "Query", &KeyRequest{Key: key}, &res)
	return res, err
}

func (c *Client) PrepareFlush(ctx context.Context) (storage.FlushBatch, error) {
	var batch storage.FlushBatch
	err := c.invoke(ctx, "PrepareFlush", &Empty{}, &batch)
	return batch, err
}

func (c *Client) FinalizeFlush(ctx context.Context) error {
	return c.invoke(ctx, "FinalizeFlush", &Empty{}, &Empty{})
}

func (c *Client) Clear(ctx context.Context) error {
	return c.invoke(ctx, "Clear", &Empty{}, &Empty{})
}

func (c *Client) Stats(ctx context.Context) (storage.Stats, error) {
	var stats storage.Stats
	err := c.invoke(ctx, "Stats", &Empty{}, &stats)
	return stats, err
}
