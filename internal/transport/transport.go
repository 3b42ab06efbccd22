// Package transport abstracts the two ways clients reach the server: a
// connectionless datagram socket and a connection-oriented stream listener.
// Both deliver whole messages (one datagram, or one newline-delimited frame)
// so the session engine never sees partial reads, and both are addressed
// through opaque handles.
package transport

import (
	"context"
	"net"
	"time"
)

// Handle addresses one connected client. Handles are prefixed with the
// transport name ("udp:1.2.3.4:5678", "tcp:17") so a mixed set of handles
// can be routed back to the transport that owns each.
type Handle string

// Handler receives transport events. Callbacks run on transport goroutines
// and must not block for long.
type Handler interface {
	HandleMessage(h Handle, frame []byte)

	// HandleConnect fires at stream accept, or on first contact from an
	// unknown datagram peer.
	HandleConnect(h Handle)

	// HandleDisconnect fires only on stream transports, where loss of a
	// client is deterministic. Datagram clients fade out via liveness
	// timeouts instead.
	HandleDisconnect(h Handle)
}

type Transport interface {
	Name() string

	// Lossy reports whether disconnection can only be inferred from silence.
	Lossy() bool

	// Run serves inbound traffic until the context is cancelled or the
	// transport is closed.
	Run(ctx context.Context, h Handler) error

	// Send delivers one message to a client. Failures are the caller's to
	// log and swallow; they never mean the transport itself is broken.
	Send(h Handle, frame []byte) error

	// Drop forgets a client. On stream transports this closes the
	// connection.
	Drop(h Handle)

	Addr() net.Addr

	Close() error
}

const (
	readPollInterval = time.Second
	writeTimeout     = 5 * time.Second
)
