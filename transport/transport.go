package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/rubinsync/celestorm/encoding"
)

// ConnectionFactory produces a fresh, unopened Connection. Transport calls
// it once per WithTransmitter/WithReceiver scope.
type ConnectionFactory[U encoding.OID] func(ctx context.Context) (Connection[U], error)

// Transport coordinates connection lifecycle for the execution layer,
// mirroring the reference's async-context-manager scopes with explicit
// open/defer-close pairs. It also keeps a registry of every connection it
// currently has open, so a pool-level Close propagates to in-flight
// transmitters and receivers instead of only ever closing connections one
// at a time from the outside in.
type Transport[U encoding.OID] struct {
	newConnection ConnectionFactory[U]
	build         PackageBuilder[U]

	mu          sync.Mutex
	connections map[Connection[U]]struct{}
	closed      bool
}

// New builds a Transport over newConnection, using build to assemble
// packages for every Transmitter it opens.
func New[U encoding.OID](newConnection ConnectionFactory[U], build PackageBuilder[U]) *Transport[U] {
	return &Transport[U]{
		newConnection: newConnection,
		build:         build,
		connections:   make(map[Connection[U]]struct{}),
	}
}

// open opens a fresh connection and registers it in the active pool, unless
// the pool has already been closed.
func (tr *Transport[U]) open(ctx context.Context) (Connection[U], error) {
	tr.mu.Lock()
	if tr.closed {
		tr.mu.Unlock()
		return nil, fmt.Errorf("transport: pool closed: %w", ErrConnectionClosed)
	}
	tr.mu.Unlock()

	conn, err := tr.newConnection(ctx)
	if err != nil {
		return nil, err
	}

	tr.mu.Lock()
	if tr.closed {
		tr.mu.Unlock()
		_ = conn.Close()
		return nil, fmt.Errorf("transport: pool closed: %w", ErrConnectionClosed)
	}
	tr.connections[conn] = struct{}{}
	tr.mu.Unlock()
	return conn, nil
}

// release closes conn and removes it from the pool's registry, mirroring
// the finally block around each connection's lifetime in the reference
// implementation.
func (tr *Transport[U]) release(conn Connection[U]) {
	tr.mu.Lock()
	delete(tr.connections, conn)
	tr.mu.Unlock()
	conn.Close()
}

// Close closes every connection currently registered with the pool and
// marks it closed: any WithTransmitter/WithReceiver scope still in flight
// has its connection closed out from under it. What a send or receive
// already in progress on that connection then reports is up to the
// Connection implementation; Close itself does not interrupt it. Further
// calls to WithTransmitter/WithReceiver fail with an error wrapping
// ErrConnectionClosed. Close is idempotent.
func (tr *Transport[U]) Close() error {
	tr.mu.Lock()
	tr.closed = true
	conns := make([]Connection[U], 0, len(tr.connections))
	for conn := range tr.connections {
		conns = append(conns, conn)
	}
	tr.connections = make(map[Connection[U]]struct{})
	tr.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	return nil
}

// WithTransmitter opens a connection, runs fn against a Transmitter that
// collects instructions, submits the collected package once fn returns
// without error, and always closes the connection before returning. Once
// the connection is open, the Transmitter is returned even on error so
// callers can still inspect SentCount/SyncRound after a partial failure; if
// obtaining or opening the connection fails, the Transmitter is nil.
func (tr *Transport[U]) WithTransmitter(ctx context.Context, fn func(*Transmitter[U]) error) (*Transmitter[U], error) {
	conn, err := tr.open(ctx)
	if err != nil {
		return nil, err
	}
	defer tr.release(conn)

	if err := conn.Open(ctx); err != nil {
		return nil, err
	}

	txr := &Transmitter[U]{conn: conn, build: tr.build}
	if err := fn(txr); err != nil {
		return txr, err
	}
	if err := txr.send(ctx); err != nil {
		return txr, err
	}
	return txr, nil
}

// WithReceiver opens a connection, runs fn against the Receiver that the
// connection's RecvPackages returns for fromRound, and always closes the
// connection before returning.
func (tr *Transport[U]) WithReceiver(ctx context.Context, fromRound int64, fn func(Receiver[U]) error) error {
	conn, err := tr.open(ctx)
	if err != nil {
		return err
	}
	defer tr.release(conn)

	if err := conn.Open(ctx); err != nil {
		return err
	}
	recv, err := conn.RecvPackages(ctx, fromRound)
	if err != nil {
		return err
	}
	return fn(recv)
}
