package server

import (
	"context"
	"log/slog"

	"github.com/quizcast/quizcast/internal/errors"
	"github.com/quizcast/quizcast/internal/registry"
	"github.com/quizcast/quizcast/internal/session"
	"github.com/quizcast/quizcast/internal/telemetry"
	"github.com/quizcast/quizcast/internal/transport"
	"github.com/quizcast/quizcast/internal/wire"
)

// handler adapts one transport's inbound events onto the session engine.
// One handler is built per transport so the engine knows whether a joining
// player must be liveness-swept or will report its own disconnect.
type handler struct {
	transport string
	lossy     bool

	session  *session.Service
	registry *registry.Service
	gateway  *gateway
	metrics  *telemetry.Metrics
}

func (h *handler) HandleMessage(hd transport.Handle, frame []byte) {
	ctx := context.Background()
	handle := string(hd)

	env, err := wire.Decode(frame)
	if err != nil {
		h.metrics.MessageReceived(h.transport, "invalid")
		slog.WarnContext(ctx, "server: drop undecodable frame",
			"transport", h.transport,
			"handle", handle,
			"error", err,
		)
		return
	}

	h.metrics.MessageReceived(h.transport, env.Type)

	// Any well-formed traffic counts as liveness, heartbeats included.
	h.registry.Touch(handle)

	switch env.Type {
	case wire.TypeJoin:
		var j wire.Join
		if err := env.DecodeData(&j); err != nil {
			h.badPayload(ctx, handle, env.Type, err)
			return
		}
		h.session.HandleJoin(ctx, handle, h.lossy, j.Name)

	case wire.TypeStart:
		h.session.HandleStart(ctx, handle)

	case wire.TypeAnswer:
		var a wire.Answer
		if err := env.DecodeData(&a); err != nil {
			h.badPayload(ctx, handle, env.Type, err)
			return
		}
		h.session.HandleAnswer(ctx, handle, a)

	case wire.TypeStatus:
		h.session.HandleStatus(ctx, handle)

	case wire.TypeHeartbeat:
		// Touch above is the whole point.

	default:
		h.gateway.Send(ctx, handle, wire.TypeError, wire.ErrorInfo{
			Code:    string(errors.CodeInvalidArgument),
			Message: "unknown message type " + env.Type,
		})
	}
}

func (h *handler) HandleConnect(hd transport.Handle) {
	slog.Debug("server: client connected",
		"transport", h.transport,
		"handle", string(hd),
	)
}

func (h *handler) HandleDisconnect(hd transport.Handle) {
	if h.lossy {
		return
	}

	h.session.Disconnect(context.Background(), string(hd))
}

func (h *handler) badPayload(ctx context.Context, handle, typ string, err error) {
	slog.WarnContext(ctx, "server: bad payload",
		"transport", h.transport,
		"handle", handle,
		"type", typ,
		"error", err,
	)

	h.gateway.Send(ctx, handle, wire.TypeError, wire.ErrorInfo{
		Code:    string(errors.CodeInvalidArgument),
		Message: "malformed " + typ + " payload",
	})
}
