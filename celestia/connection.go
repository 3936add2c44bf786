package celestia

import (
	"context"
	"fmt"

	"github.com/rubinsync/celestorm/encoding"
	"github.com/rubinsync/celestorm/transport"
)

// roundShift is the number of low bits of a sync round reserved for the
// blob index within a height; the remaining high bits carry the height.
const roundShift = 16

func makeRound(height int64, blobIndex int) int64 {
	return (height << roundShift) | int64(blobIndex)
}

func splitRound(round int64) (height int64, blobIndex int) {
	return round >> roundShift, int(round & 0xFFFF)
}

// Connection implements transport.Connection over a DA node's blob and
// header RPC surface.
type Connection[U encoding.OID] struct {
	client     Client
	authToken  string
	namespaces []Namespace
	api        NodeAPI
}

// NewConnection builds a Connection that submits to and reads from
// namespaces, authenticating with authToken.
func NewConnection[U encoding.OID](client Client, authToken string, namespaces ...Namespace) *Connection[U] {
	return &Connection[U]{client: client, authToken: authToken, namespaces: namespaces}
}

func (c *Connection[U]) Open(ctx context.Context) error {
	api, err := c.client.Connect(ctx, c.authToken)
	if err != nil {
		return fmt.Errorf("celestia: connect: %w", err)
	}
	c.api = api
	return nil
}

func (c *Connection[U]) Close() error {
	c.api = nil
	return nil
}

func (c *Connection[U]) SendPackage(ctx context.Context, pkg encoding.Package[U]) (int64, error) {
	if c.api == nil {
		return 0, transport.ErrConnectionClosed
	}
	if len(c.namespaces) == 0 {
		return 0, fmt.Errorf("celestia: missing namespace")
	}
	ns := c.namespaces[0]

	result, err := c.api.Blob().Submit(ctx, Blob{Namespace: ns, Data: []byte(pkg)})
	if err != nil {
		return 0, fmt.Errorf("celestia: submit blob: %w", err)
	}
	if len(result.Commitments) == 0 {
		return 0, fmt.Errorf("celestia: submit returned no commitment")
	}
	blob, err := c.api.Blob().Get(ctx, result.Height, ns, result.Commitments[0])
	if err != nil {
		return 0, fmt.Errorf("celestia: fetch submitted blob: %w", err)
	}
	return makeRound(result.Height, blob.Index), nil
}

func (c *Connection[U]) RecvPackages(ctx context.Context, fromRound int64) (transport.Receiver[U], error) {
	if c.api == nil {
		return nil, transport.ErrConnectionClosed
	}
	if len(c.namespaces) == 0 {
		return nil, fmt.Errorf("celestia: missing namespace")
	}
	headers, err := c.api.Header().Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("celestia: subscribe headers: %w", err)
	}
	fromHeight, _ := splitRound(fromRound)
	return &receiver[U]{api: c.api, namespaces: c.namespaces, headers: headers, fromHeight: fromHeight}, nil
}

// receiver pulls packages out of the blob stream height by height: it
// drains every namespace's blobs at each newly announced height before
// advancing, buffering blobs it has fetched but not yet yielded.
//
// Reception starts at the first blob of fromRound's height, so blobs of that
// height with an index below fromRound's are yielded as well. Closing the
// Connection does not stop a receiver already returned by RecvPackages: it
// ends only when the header subscription ends or ctx is canceled.
type receiver[U encoding.OID] struct {
	api        NodeAPI
	namespaces []Namespace
	headers    <-chan int64

	fromHeight int64
	topHeight  int64
	buffer     []Blob
	bufHeight  int64
}

func (r *receiver[U]) Next(ctx context.Context) (int64, encoding.Package[U], bool, error) {
	for {
		if len(r.buffer) > 0 {
			blob := r.buffer[0]
			r.buffer = r.buffer[1:]
			round := makeRound(r.bufHeight, blob.Index)
			pkg, perr := encoding.Open[U](blob.Data)
			if perr != nil {
				return 0, nil, false, perr
			}
			return round, pkg, true, nil
		}

		height, err := r.nextHeightWithBlobs(ctx)
		if err != nil {
			return 0, nil, false, err
		}
		if height < 0 {
			return 0, nil, false, nil
		}
		r.bufHeight = height
	}
}

// nextHeightWithBlobs advances fromHeight one height at a time, fetching
// all blobs across every declared namespace, until it finds a height that
// has any, or the header subscription ends.
func (r *receiver[U]) nextHeightWithBlobs(ctx context.Context) (int64, error) {
	for {
		if r.fromHeight <= 0 {
			curHeight, ok := r.nextHeaderHeight(ctx)
			if !ok {
				return -1, nil
			}
			r.fromHeight = 1
			r.topHeight = curHeight
		}
		for r.fromHeight > r.topHeight {
			curHeight, ok := r.nextHeaderHeight(ctx)
			if !ok {
				return -1, nil
			}
			r.topHeight = curHeight
		}

		height := r.fromHeight
		r.fromHeight++
		blobs, err := r.api.Blob().GetAll(ctx, height, r.namespaces...)
		if err != nil {
			return 0, fmt.Errorf("celestia: get blobs at height %d: %w", height, err)
		}
		if len(blobs) > 0 {
			r.buffer = blobs
			return height, nil
		}
	}
}

func (r *receiver[U]) nextHeaderHeight(ctx context.Context) (int64, bool) {
	select {
	case h, ok := <-r.headers:
		return h, ok
	case <-ctx.Done():
		return 0, false
	}
}
