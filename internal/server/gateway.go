package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/quizcast/quizcast/internal/clock"
	"github.com/quizcast/quizcast/internal/registry"
	"github.com/quizcast/quizcast/internal/transport"
	"github.com/quizcast/quizcast/internal/wire"
)

const broadcastConcurrency = 16

// gateway routes outbound messages back through whichever transport owns
// each handle. Datagram sends are stamped with a monotonically increasing
// seq so receivers can discard stale or duplicated datagrams; stream sends
// carry no seq because the connection already orders them.
//
// Sends are fire-and-forget: a failure is logged and the recipient skipped,
// it never propagates into the game engine.
type gateway struct {
	transports map[string]transport.Transport
	registry   *registry.Service
	clock      clock.Clock

	seq atomic.Uint64
}

func newGateway(reg *registry.Service, clk clock.Clock, ts ...transport.Transport) *gateway {
	g := &gateway{
		transports: make(map[string]transport.Transport, len(ts)),
		registry:   reg,
		clock:      clk,
	}
	for _, t := range ts {
		g.transports[t.Name()] = t
	}

	return g
}

func (g *gateway) Send(ctx context.Context, handle, typ string, data any) {
	if err := g.send(handle, typ, data); err != nil {
		slog.ErrorContext(ctx, "gateway: send failed",
			"handle", handle,
			"type", typ,
			"error", err,
		)
	}
}

// Broadcast sends to every active player except the listed handles.
func (g *gateway) Broadcast(ctx context.Context, typ string, data any, except ...string) {
	skip := make(map[string]struct{}, len(except))
	for _, h := range except {
		skip[h] = struct{}{}
	}

	var eg errgroup.Group
	eg.SetLimit(broadcastConcurrency)

	for _, p := range g.registry.ActivePlayers() {
		if _, ok := skip[p.Handle]; ok {
			continue
		}

		handle := p.Handle
		eg.Go(func() error {
			if err := g.send(handle, typ, data); err != nil {
				slog.ErrorContext(ctx, "gateway: broadcast send failed",
					"handle", handle,
					"type", typ,
					"error", err,
				)
			}
			return nil
		})
	}

	_ = eg.Wait()
}

// broadcastLossy sends to active datagram players only. Used for the
// heartbeat and question rebroadcast loops, which exist to paper over
// datagram loss and would be noise on stream connections.
func (g *gateway) broadcastLossy(ctx context.Context, typ string, data any) {
	for _, p := range g.registry.ActivePlayers() {
		if !p.Lossy {
			continue
		}

		if err := g.send(p.Handle, typ, data); err != nil {
			slog.WarnContext(ctx, "gateway: lossy broadcast send failed",
				"handle", p.Handle,
				"type", typ,
				"error", err,
			)
		}
	}
}

func (g *gateway) send(handle, typ string, data any) error {
	t, ok := g.transports[transportName(handle)]
	if !ok {
		return fmt.Errorf("no transport owns handle %s", handle)
	}

	var seq uint64
	if t.Lossy() {
		seq = g.seq.Add(1)
	}

	frame, err := wire.Encode(typ, data, seq, g.clock.Now())
	if err != nil {
		return err
	}

	return t.Send(transport.Handle(handle), frame)
}

func transportName(handle string) string {
	name, _, _ := strings.Cut(handle, ":")
	return name
}
