package celestia

import (
	"context"

	"github.com/rubinsync/celestorm/encoding"
	"github.com/rubinsync/celestorm/transport"
)

// NewTransport builds a transport.Transport[U] whose connections submit to
// and read from namespaces on the DA node reachable through client, using
// build to assemble outgoing packages.
func NewTransport[U encoding.OID](client Client, authToken string, build transport.PackageBuilder[U],
	namespaces ...Namespace) *transport.Transport[U] {
	factory := func(ctx context.Context) (transport.Connection[U], error) {
		return NewConnection[U](client, authToken, namespaces...), nil
	}
	return transport.New(factory, build)
}
