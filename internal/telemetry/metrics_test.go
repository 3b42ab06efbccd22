package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/quizcast/quizcast/internal/domain"
	"github.com/quizcast/quizcast/internal/event"
)

func TestMetrics_ObserveGameEvents(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	eb := event.NewBus()
	m.Observe(eb)

	ctx := context.Background()
	eb.Publish(ctx, domain.EventPlayerJoined{Player: domain.Player{Name: "alice"}})
	eb.Publish(ctx, domain.EventScoreUpdated{PlayerID: "p1", Points: 940, Correct: true})
	eb.Publish(ctx, domain.EventScoreUpdated{PlayerID: "p2", Points: 0, Correct: false})
	eb.Publish(ctx, domain.EventRoundEnded{Round: domain.Round{Index: 0}, Early: true})
	eb.Publish(ctx, domain.EventGameEnded{Leaderboard: domain.Leaderboard{}})

	// Handlers run asynchronously; Stop waits for them to drain.
	eb.Stop()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.joinsTotal))
	assert.Equal(t, float64(940), testutil.ToFloat64(m.pointsAwarded))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.answersScored.WithLabelValues("true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.answersScored.WithLabelValues("false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.roundsPlayed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.gamesPlayed))
}

func TestMetrics_TransportAndGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.MessageReceived("udp", "join")
	m.MessageReceived("udp", "join")
	m.MessageReceived("tcp", "answer")
	m.SetActivePlayers(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.messagesReceived.WithLabelValues("udp", "join")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesReceived.WithLabelValues("tcp", "answer")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.activePlayers))
}
