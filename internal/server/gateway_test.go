package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizcast/quizcast/internal/clock"
	"github.com/quizcast/quizcast/internal/registry"
	"github.com/quizcast/quizcast/internal/transport"
	"github.com/quizcast/quizcast/internal/wire"
)

// fakeTransport records outbound frames instead of touching a socket.
type fakeTransport struct {
	name  string
	lossy bool

	mu     sync.Mutex
	frames map[transport.Handle][][]byte
	fail   map[transport.Handle]bool
}

func newFakeTransport(name string, lossy bool) *fakeTransport {
	return &fakeTransport{
		name:   name,
		lossy:  lossy,
		frames: make(map[transport.Handle][][]byte),
		fail:   make(map[transport.Handle]bool),
	}
}

func (f *fakeTransport) Name() string { return f.name }
func (f *fakeTransport) Lossy() bool  { return f.lossy }

func (f *fakeTransport) Run(ctx context.Context, _ transport.Handler) error {
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) Send(h transport.Handle, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail[h] {
		return fmt.Errorf("fake transport: send to %s failed", h)
	}

	f.frames[h] = append(f.frames[h], append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Drop(h transport.Handle) {}

func (f *fakeTransport) Addr() net.Addr { return &net.TCPAddr{} }

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) sentTo(h transport.Handle) []wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []wire.Envelope
	for _, frame := range f.frames[h] {
		env, err := wire.Decode(frame)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}

func (f *fakeTransport) lastTo(h transport.Handle, typ string) (wire.Envelope, bool) {
	envs := f.sentTo(h)
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == typ {
			return envs[i], true
		}
	}
	return wire.Envelope{}, false
}

func TestGateway_SendRoutesByHandlePrefix(t *testing.T) {
	udp := newFakeTransport("udp", true)
	tcp := newFakeTransport("tcp", false)
	reg := registry.NewService(registry.Config{})
	g := newGateway(reg, clock.NewFake(time.Unix(10_000, 0)), udp, tcp)

	ctx := context.Background()
	g.Send(ctx, "udp:1.2.3.4:5678", wire.TypeHeartbeat, nil)
	g.Send(ctx, "tcp:7", wire.TypeHeartbeat, nil)

	require.Len(t, udp.sentTo("udp:1.2.3.4:5678"), 1)
	require.Len(t, tcp.sentTo("tcp:7"), 1)
	assert.Empty(t, tcp.sentTo("udp:1.2.3.4:5678"))
}

func TestGateway_SeqOnlyOnLossyTransport(t *testing.T) {
	udp := newFakeTransport("udp", true)
	tcp := newFakeTransport("tcp", false)
	reg := registry.NewService(registry.Config{})
	g := newGateway(reg, clock.NewFake(time.Unix(10_000, 0)), udp, tcp)

	ctx := context.Background()
	g.Send(ctx, "udp:a", wire.TypeHeartbeat, nil)
	g.Send(ctx, "udp:a", wire.TypeHeartbeat, nil)
	g.Send(ctx, "tcp:1", wire.TypeHeartbeat, nil)

	envs := udp.sentTo("udp:a")
	require.Len(t, envs, 2)
	assert.Equal(t, uint64(1), envs[0].Seq)
	assert.Equal(t, uint64(2), envs[1].Seq)

	tcpEnvs := tcp.sentTo("tcp:1")
	require.Len(t, tcpEnvs, 1)
	assert.Zero(t, tcpEnvs[0].Seq)
}

func TestGateway_BroadcastSkipsExceptedAndInactive(t *testing.T) {
	udp := newFakeTransport("udp", true)
	tcp := newFakeTransport("tcp", false)
	reg := registry.NewService(registry.Config{})
	g := newGateway(reg, clock.NewFake(time.Unix(10_000, 0)), udp, tcp)

	_, err := reg.Join("udp:a", "alice", true)
	require.NoError(t, err)
	_, err = reg.Join("tcp:1", "bob", false)
	require.NoError(t, err)
	_, err = reg.Join("udp:b", "carol", true)
	require.NoError(t, err)
	reg.MarkDisconnected("udp:b")

	g.Broadcast(context.Background(), wire.TypeStandings, wire.Standings{Round: 1}, "udp:a")

	assert.Empty(t, udp.sentTo("udp:a"), "excepted handle must be skipped")
	assert.Empty(t, udp.sentTo("udp:b"), "inactive player must be skipped")
	require.Len(t, tcp.sentTo("tcp:1"), 1)
}

func TestGateway_BroadcastSurvivesSendFailure(t *testing.T) {
	udp := newFakeTransport("udp", true)
	reg := registry.NewService(registry.Config{})
	g := newGateway(reg, clock.NewFake(time.Unix(10_000, 0)), udp)

	_, err := reg.Join("udp:a", "alice", true)
	require.NoError(t, err)
	_, err = reg.Join("udp:b", "bob", true)
	require.NoError(t, err)
	udp.fail["udp:a"] = true

	g.Broadcast(context.Background(), wire.TypeHeartbeat, nil)

	assert.Empty(t, udp.sentTo("udp:a"))
	require.Len(t, udp.sentTo("udp:b"), 1)
}

func TestGateway_BroadcastLossyOnly(t *testing.T) {
	udp := newFakeTransport("udp", true)
	tcp := newFakeTransport("tcp", false)
	reg := registry.NewService(registry.Config{})
	g := newGateway(reg, clock.NewFake(time.Unix(10_000, 0)), udp, tcp)

	_, err := reg.Join("udp:a", "alice", true)
	require.NoError(t, err)
	_, err = reg.Join("tcp:1", "bob", false)
	require.NoError(t, err)

	g.broadcastLossy(context.Background(), wire.TypeHeartbeat, nil)

	require.Len(t, udp.sentTo("udp:a"), 1)
	assert.Empty(t, tcp.sentTo("tcp:1"))
}

func TestGateway_SendToUnknownTransportIsLogged(t *testing.T) {
	reg := registry.NewService(registry.Config{})
	g := newGateway(reg, clock.NewFake(time.Unix(10_000, 0)))

	// Must not panic; the failure is logged and swallowed.
	g.Send(context.Background(), "quic:1", wire.TypeHeartbeat, nil)
}
