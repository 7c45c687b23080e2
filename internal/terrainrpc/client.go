package terrainrpc

import (
	"context"
	"fmt"
	"math"

	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a core.ElevationProvider backed by a remote ElevationService.
type Client struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

var _ core.ElevationProvider = (*Client)(nil)

// NewClient uses an existing connection. The caller keeps ownership of conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to addr without transport security. Extra dial options are
// appended after the defaults.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	all := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	all = append(all, opts...)
	conn, err := grpc.NewClient(addr, all...)
	if err != nil {
		return nil, fmt.Errorf("dial elevation service %q: %w", addr, err)
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// Close releases the connection when the client owns it.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}

// Sample implements core.ElevationProvider. Any point the service has no
// data for fails the whole batch with core.ErrSamplingUnavailable.
func (c *Client) Sample(ctx context.Context, points []core.GeoPoint) ([]core.GeoPoint, error) {
	if len(points) == 0 {
		return nil, nil
	}
	if id := logging.RequestIDFromContext(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, id)
	}

	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, SampleMethod, EncodeQuery(points), out); err != nil {
		return nil, FromStatusError(err)
	}
	heights, err := DecodeHeights(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSamplingUnavailable, err)
	}
	if len(heights) != len(points) {
		return nil, fmt.Errorf("%w: service returned %d of %d heights", core.ErrSamplingUnavailable, len(heights), len(points))
	}

	res := make([]core.GeoPoint, len(points))
	for i, p := range points {
		if math.IsNaN(heights[i]) {
			return nil, fmt.Errorf("%w: no terrain height at %v", core.ErrSamplingUnavailable, p)
		}
		res[i] = p.WithHeight(heights[i])
	}
	return res, nil
}
