package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quizcast/quizcast/internal/domain"
	"github.com/quizcast/quizcast/internal/event"
)

// Metrics exposes the engine's prometheus instruments. Counters for protocol
// traffic are bumped on the transport path; game-progress counters feed off
// the event bus.
type Metrics struct {
	messagesReceived *prometheus.CounterVec
	answersScored    *prometheus.CounterVec
	pointsAwarded    prometheus.Counter
	roundsPlayed     prometheus.Counter
	gamesPlayed      prometheus.Counter
	joinsTotal       prometheus.Counter
	activePlayers    prometheus.Gauge
}

// NewMetrics registers the instruments with r. Use
// prometheus.DefaultRegisterer in production; tests pass their own registry
// so fixtures do not collide.
func NewMetrics(r prometheus.Registerer) *Metrics {
	f := promauto.With(r)

	return &Metrics{
		messagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quizcast_messages_received_total",
			Help: "Inbound protocol messages by transport and type.",
		}, []string{"transport", "type"}),
		answersScored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quizcast_answers_scored_total",
			Help: "Scored answers by correctness.",
		}, []string{"correct"}),
		pointsAwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "quizcast_points_awarded_total",
			Help: "Total points awarded across all rounds.",
		}),
		roundsPlayed: f.NewCounter(prometheus.CounterOpts{
			Name: "quizcast_rounds_played_total",
			Help: "Rounds closed, early or by deadline.",
		}),
		gamesPlayed: f.NewCounter(prometheus.CounterOpts{
			Name: "quizcast_games_played_total",
			Help: "Games played to completion.",
		}),
		joinsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "quizcast_joins_total",
			Help: "Accepted player registrations.",
		}),
		activePlayers: f.NewGauge(prometheus.GaugeOpts{
			Name: "quizcast_active_players",
			Help: "Currently live players.",
		}),
	}
}

// Observe subscribes the game-progress instruments to the event bus.
func (m *Metrics) Observe(eb *event.Bus) {
	eb.Subscribe(domain.EventNamePlayerJoined, func(ctx context.Context, e event.Event) error {
		m.joinsTotal.Inc()
		return nil
	})

	eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventScoreUpdated)
		m.answersScored.WithLabelValues(boolLabel(ev.Correct)).Inc()
		m.pointsAwarded.Add(float64(ev.Points))
		return nil
	})

	eb.Subscribe(domain.EventNameRoundEnded, func(ctx context.Context, e event.Event) error {
		m.roundsPlayed.Inc()
		return nil
	})

	eb.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		m.gamesPlayed.Inc()
		return nil
	})
}

// MessageReceived counts one inbound protocol message.
func (m *Metrics) MessageReceived(transport, typ string) {
	m.messagesReceived.WithLabelValues(transport, typ).Inc()
}

// SetActivePlayers tracks the live player count.
func (m *Metrics) SetActivePlayers(n int) {
	m.activePlayers.Set(float64(n))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
