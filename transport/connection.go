// Package transport implements the connection-oriented submit/stream
// surface the execution layer uses to exchange packages with a supporting
// platform (spec §4.4, §4.5).
package transport

import (
	"context"
	"errors"

	"github.com/rubinsync/celestorm/encoding"
)

// ErrConnectionClosed is returned by Connection methods once the
// underlying connection has been closed. Check for it with errors.Is.
var ErrConnectionClosed = errors.New("transport: connection closed")

// Connection is the platform-specific channel instructions travel over. A
// Connection must not be reused once Close has been called.
type Connection[U encoding.OID] interface {
	// Open establishes the connection.
	Open(ctx context.Context) error

	// Close releases the connection. Close is idempotent and safe to call
	// more than once; after Close, SendPackage and RecvPackages must fail
	// with an error wrapping ErrConnectionClosed.
	Close() error

	// SendPackage submits pkg to the platform and reports the sync round
	// it was accepted in.
	SendPackage(ctx context.Context, pkg encoding.Package[U]) (syncRound int64, err error)

	// RecvPackages returns a Receiver that yields packages in round order,
	// starting no later than fromRound (the execution layer passes the
	// first round it has not yet applied).
	RecvPackages(ctx context.Context, fromRound int64) (Receiver[U], error)
}

// Receiver is a pull-style stream of (sync round, package) pairs coming
// from a Connection.
type Receiver[U encoding.OID] interface {
	// Next blocks until the next package is available, ctx is canceled, or
	// the connection closes. ok is false once the stream has ended cleanly;
	// a non-nil err means the stream ended abnormally.
	Next(ctx context.Context) (syncRound int64, pkg encoding.Package[U], ok bool, err error)
}
