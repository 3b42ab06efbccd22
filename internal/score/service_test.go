package score_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizcast/quizcast/internal/domain"
	"github.com/quizcast/quizcast/internal/event"
	"github.com/quizcast/quizcast/internal/score"
)

const window = 30 * time.Second

func TestService_Score(t *testing.T) {
	s := score.NewService(score.Config{MinPoints: 100, MaxPoints: 1000})

	tests := map[string]struct {
		correct bool
		elapsed time.Duration
		want    int
	}{
		"instant correct answer earns the maximum":       {correct: true, elapsed: 0, want: 1000},
		"correct at the deadline earns the minimum":      {correct: true, elapsed: window, want: 100},
		"halfway correct answer earns the midpoint":      {correct: true, elapsed: 15 * time.Second, want: 550},
		"incorrect instant answer earns zero":            {correct: false, elapsed: 0, want: 0},
		"incorrect slow answer earns zero":               {correct: false, elapsed: 29 * time.Second, want: 0},
		"negative elapsed is clamped to the maximum":     {correct: true, elapsed: -time.Second, want: 1000},
		"elapsed past the window is clamped to minimum":  {correct: true, elapsed: window + time.Minute, want: 100},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			got := s.Score(context.Background(), score.Request{
				Correct: tt.correct,
				Elapsed: tt.elapsed,
				Window:  window,
			})
			assert.Equal(t, tt.want, got)
		})
	}
}

// Faster correct answers never earn fewer points than slower ones, so no two
// correct answers can be ranked inconsistently by speed.
func TestService_Score_NonIncreasing(t *testing.T) {
	s := score.NewService(score.Config{MinPoints: 1, MaxPoints: 777})

	prev := 778
	for elapsed := time.Duration(0); elapsed <= window; elapsed += 250 * time.Millisecond {
		got := s.Score(context.Background(), score.Request{
			Correct: true,
			Elapsed: elapsed,
			Window:  window,
		})
		require.LessOrEqual(t, got, prev, "elapsed=%s", elapsed)
		require.GreaterOrEqual(t, got, 1, "correct answers inside the window earn a positive value")
		prev = got
	}
}

func TestService_Score_PublishesEvent(t *testing.T) {
	eb := event.NewBus()

	var (
		mu     sync.Mutex
		events []domain.EventScoreUpdated
	)
	eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		events = append(events, e.(domain.EventScoreUpdated))
		mu.Unlock()
		return nil
	})

	s := score.NewService(score.Config{EventBus: eb, MinPoints: 100, MaxPoints: 1000})
	got := s.Score(context.Background(), score.Request{
		PlayerID:   "p1",
		PlayerName: "alice",
		Correct:    true,
		Elapsed:    3 * time.Second,
		Window:     window,
	})
	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "p1", events[0].PlayerID)
	assert.True(t, events[0].Correct)
	assert.Equal(t, got, events[0].Points)
}

func TestService_DefaultBounds(t *testing.T) {
	s := score.NewService(score.Config{})

	got := s.Score(context.Background(), score.Request{Correct: true, Elapsed: 0, Window: window})
	assert.Equal(t, score.DefaultMaxPoints, got)

	got = s.Score(context.Background(), score.Request{Correct: true, Elapsed: window, Window: window})
	assert.Equal(t, score.DefaultMinPoints, got)
}
