// Package celestia adapts transport.Connection to a Celestia-style
// data-availability network: packages are submitted as namespaced blobs,
// and the sync round is the composite (height<<16 | blob index) (spec
// §6.3). No Celestia Go SDK exists in this module's dependency set, so the
// node API is expressed purely as interfaces for the application to back
// with a concrete client.
package celestia

import "context"

// Namespace identifies a DA network namespace a blob is published to.
type Namespace []byte

// Blob is one namespaced unit of data stored at a height.
type Blob struct {
	Namespace    Namespace
	Data         []byte
	Commitment   []byte
	ShareVersion int
	Index        int
}

// SubmitResult reports where a submitted blob landed.
type SubmitResult struct {
	Height      int64
	Commitments [][]byte
}

// BlobAPI is the subset of a DA node's blob RPC surface this package
// depends on.
type BlobAPI interface {
	Submit(ctx context.Context, blob Blob) (SubmitResult, error)
	Get(ctx context.Context, height int64, namespace Namespace, commitment []byte) (Blob, error)
	GetAll(ctx context.Context, height int64, namespaces ...Namespace) ([]Blob, error)
}

// HeaderAPI streams new chain headers as they're produced.
type HeaderAPI interface {
	// Subscribe returns a channel of heights as new headers arrive. The
	// channel closes when ctx is canceled or the subscription ends.
	Subscribe(ctx context.Context) (<-chan int64, error)
}

// NodeAPI is the authenticated RPC surface of a single DA node.
type NodeAPI interface {
	Blob() BlobAPI
	Header() HeaderAPI
}

// Client establishes a NodeAPI session against a DA node.
type Client interface {
	Connect(ctx context.Context, authToken string) (NodeAPI, error)
}
