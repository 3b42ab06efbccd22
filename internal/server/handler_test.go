package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizcast/quizcast/internal/clock"
	"github.com/quizcast/quizcast/internal/errors"
	"github.com/quizcast/quizcast/internal/event"
	"github.com/quizcast/quizcast/internal/leaderboard"
	"github.com/quizcast/quizcast/internal/question"
	"github.com/quizcast/quizcast/internal/registry"
	"github.com/quizcast/quizcast/internal/score"
	"github.com/quizcast/quizcast/internal/session"
	"github.com/quizcast/quizcast/internal/telemetry"
	"github.com/quizcast/quizcast/internal/transport"
	"github.com/quizcast/quizcast/internal/wire"
)

const handlerTestBank = `What is the capital of France?
A) Paris
B) London
C) Berlin
D) Madrid
ANSWER: A
`

// handlerFixture wires real services behind fake transports, so a frame fed
// to a handler flows through the whole inbound path and back out.
type handlerFixture struct {
	udp *fakeTransport
	tcp *fakeTransport

	udpHandler *handler
	tcpHandler *handler

	reg *registry.Service
	fc  *clock.Fake
}

func makeHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "questions.txt")
	require.NoError(t, os.WriteFile(path, []byte(handlerTestBank), 0o600))
	bank, err := question.Load(path)
	require.NoError(t, err)

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
	t.Cleanup(func() { _ = rc.Close() })

	fc := clock.NewFake(time.Unix(10_000, 0))
	eb := event.NewBus()
	reg := registry.NewService(registry.Config{Clock: fc, LivenessTimeout: time.Minute})

	udp := newFakeTransport("udp", true)
	tcp := newFakeTransport("tcp", false)
	g := newGateway(reg, fc, udp, tcp)

	svc := session.NewService(session.Config{
		Bank:     bank,
		Registry: reg,
		Score:    score.NewService(score.Config{EventBus: eb}),
		Leaderboard: leaderboard.NewService(leaderboard.Config{
			Redis:  rc,
			Prefix: "test",
		}),
		EventBus: eb,
		Sender:   g,
		Clock:    fc,
	})

	m := telemetry.NewMetrics(prometheus.NewRegistry())

	return &handlerFixture{
		udp: udp,
		tcp: tcp,
		udpHandler: &handler{
			transport: "udp", lossy: true,
			session: svc, registry: reg, gateway: g, metrics: m,
		},
		tcpHandler: &handler{
			transport: "tcp", lossy: false,
			session: svc, registry: reg, gateway: g, metrics: m,
		},
		reg: reg,
		fc:  fc,
	}
}

func frame(t *testing.T, typ string, data any) []byte {
	t.Helper()

	b, err := wire.Encode(typ, data, 0, time.Unix(10_000, 0))
	require.NoError(t, err)
	return b
}

func TestHandler_JoinFlow(t *testing.T) {
	f := makeHandlerFixture(t)

	f.udpHandler.HandleMessage("udp:a", frame(t, wire.TypeJoin, wire.Join{Name: "alice"}))

	env, ok := f.udp.lastTo("udp:a", wire.TypeJoinAck)
	require.True(t, ok)

	var ack wire.JoinAck
	require.NoError(t, env.DecodeData(&ack))
	assert.NotEmpty(t, ack.PlayerID)
	assert.Equal(t, 1, ack.PlayerCount)

	p, ok := f.reg.PlayerByHandle("udp:a")
	require.True(t, ok)
	assert.True(t, p.Lossy, "datagram joins must be liveness-swept")

	f.tcpHandler.HandleMessage("tcp:1", frame(t, wire.TypeJoin, wire.Join{Name: "bob"}))

	p, ok = f.reg.PlayerByHandle("tcp:1")
	require.True(t, ok)
	assert.False(t, p.Lossy)

	// The earlier player hears about the newcomer.
	_, ok = f.udp.lastTo("udp:a", wire.TypePlayerJoined)
	assert.True(t, ok)
}

func TestHandler_UndecodableFrameIsDropped(t *testing.T) {
	f := makeHandlerFixture(t)

	f.udpHandler.HandleMessage("udp:a", []byte("not json"))

	assert.Empty(t, f.udp.sentTo("udp:a"))
}

func TestHandler_UnknownTypeGetsError(t *testing.T) {
	f := makeHandlerFixture(t)

	f.udpHandler.HandleMessage("udp:a", frame(t, "shout", nil))

	env, ok := f.udp.lastTo("udp:a", wire.TypeError)
	require.True(t, ok)

	var e wire.ErrorInfo
	require.NoError(t, env.DecodeData(&e))
	assert.Equal(t, string(errors.CodeInvalidArgument), e.Code)
}

func TestHandler_BadPayloadGetsError(t *testing.T) {
	f := makeHandlerFixture(t)

	f.udpHandler.HandleMessage("udp:a", []byte(`{"type":"join","data":"woops"}`))

	_, ok := f.udp.lastTo("udp:a", wire.TypeError)
	assert.True(t, ok)
}

func TestHandler_TrafficRefreshesLiveness(t *testing.T) {
	f := makeHandlerFixture(t)

	f.udpHandler.HandleMessage("udp:a", frame(t, wire.TypeJoin, wire.Join{Name: "alice"}))
	p, ok := f.reg.PlayerByHandle("udp:a")
	require.True(t, ok)
	joined := p.LastSeen

	f.fc.Advance(10 * time.Second)
	f.udpHandler.HandleMessage("udp:a", frame(t, wire.TypeHeartbeat, nil))

	p, ok = f.reg.PlayerByHandle("udp:a")
	require.True(t, ok)
	assert.True(t, p.LastSeen.After(joined))
}

func TestHandler_StatusQuery(t *testing.T) {
	f := makeHandlerFixture(t)

	f.tcpHandler.HandleMessage("tcp:1", frame(t, wire.TypeStatus, nil))

	env, ok := f.tcp.lastTo("tcp:1", wire.TypeStatusInfo)
	require.True(t, ok)

	var si wire.StatusInfo
	require.NoError(t, env.DecodeData(&si))
	assert.Equal(t, "lobby", si.Phase)
	assert.Zero(t, si.PlayerCount)
}

func TestHandler_FullRoundOverFakeTransports(t *testing.T) {
	f := makeHandlerFixture(t)

	f.udpHandler.HandleMessage("udp:a", frame(t, wire.TypeJoin, wire.Join{Name: "alice"}))
	f.udpHandler.HandleMessage("udp:a", frame(t, wire.TypeStart, nil))

	env, ok := f.udp.lastTo("udp:a", wire.TypeRoundBegin)
	require.True(t, ok)
	assert.NotZero(t, env.Seq, "datagram sends must carry a seq")

	f.fc.Advance(2 * time.Second)
	f.udpHandler.HandleMessage("udp:a", frame(t, wire.TypeAnswer, wire.Answer{Option: "a"}))

	env, ok = f.udp.lastTo("udp:a", wire.TypeAnswerAck)
	require.True(t, ok)
	var ack wire.AnswerAck
	require.NoError(t, env.DecodeData(&ack))
	assert.True(t, ack.Accepted)

	env, ok = f.udp.lastTo("udp:a", wire.TypeRoundResult)
	require.True(t, ok)
	var rr wire.RoundResult
	require.NoError(t, env.DecodeData(&rr))
	require.Len(t, rr.Outcomes, 1)
	assert.True(t, rr.Outcomes[0].Correct)
	assert.Equal(t, 940, rr.Outcomes[0].Points)

	// One question bank, so the game ends right after the round.
	env, ok = f.udp.lastTo("udp:a", wire.TypeGameOver)
	require.True(t, ok)
	var g wire.GameOver
	require.NoError(t, env.DecodeData(&g))
	require.Len(t, g.Leaderboard, 1)
	assert.Equal(t, "alice", g.Leaderboard[0].Name)
	assert.Equal(t, 940, g.Leaderboard[0].Score)
}

func TestHandler_StreamDisconnectDemotesPlayer(t *testing.T) {
	f := makeHandlerFixture(t)

	f.tcpHandler.HandleMessage("tcp:1", frame(t, wire.TypeJoin, wire.Join{Name: "bob"}))
	f.tcpHandler.HandleDisconnect("tcp:1")

	p, ok := f.reg.PlayerByHandle("tcp:1")
	require.True(t, ok)
	assert.False(t, p.Active)
}

func TestHandler_DatagramDisconnectIsIgnored(t *testing.T) {
	f := makeHandlerFixture(t)

	f.udpHandler.HandleMessage("udp:a", frame(t, wire.TypeJoin, wire.Join{Name: "alice"}))
	f.udpHandler.HandleDisconnect("udp:a")

	p, ok := f.reg.PlayerByHandle("udp:a")
	require.True(t, ok)
	assert.True(t, p.Active, "datagram players fade out via liveness, not disconnects")
}

var _ transport.Handler = (*handler)(nil)
