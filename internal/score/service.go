// Package score converts answer timing into points.
package score

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quizcast/quizcast/internal/domain"
	"github.com/quizcast/quizcast/internal/event"
)

const (
	DefaultMinPoints = 100
	DefaultMaxPoints = 1000
)

type Config struct {
	EventBus *event.Bus

	// MinPoints is awarded to a correct answer submitted exactly at the
	// deadline; MaxPoints to an instant one. Incorrect answers always earn
	// zero.
	MinPoints int
	MaxPoints int
}

type Service struct {
	eb  *event.Bus
	min decimal.Decimal
	max decimal.Decimal
}

func NewService(c Config) *Service {
	if c.MinPoints <= 0 {
		c.MinPoints = DefaultMinPoints
	}
	if c.MaxPoints < c.MinPoints {
		c.MaxPoints = c.MinPoints
	}

	return &Service{
		eb:  c.EventBus,
		min: decimal.NewFromInt(int64(c.MinPoints)),
		max: decimal.NewFromInt(int64(c.MaxPoints)),
	}
}

type Request struct {
	PlayerID   string
	PlayerName string
	Correct    bool
	Elapsed    time.Duration
	Window     time.Duration
	SubmitTime time.Time
}

// Score maps elapsed answer time within the window to points. The mapping is
// exact decimal arithmetic over integer nanoseconds:
//
//	points = min + floor((max-min) * (window-elapsed)/window)
//
// so it is deterministic and non-increasing in elapsed time, awards max at
// zero elapsed, and awards min at the deadline.
func (s *Service) Score(ctx context.Context, req Request) int {
	points := 0
	if req.Correct {
		points = s.points(req.Elapsed, req.Window)
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventScoreUpdated{
			PlayerID:   req.PlayerID,
			PlayerName: req.PlayerName,
			Points:     points,
			Correct:    req.Correct,
			SubmitTime: req.SubmitTime,
		})
	}

	return points
}

func (s *Service) points(elapsed, window time.Duration) int {
	if window <= 0 {
		return int(s.min.IntPart())
	}

	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > window {
		elapsed = window
	}

	// Multiply before dividing so exact results stay exact; the quotient is
	// floored, keeping the mapping monotonic in elapsed time.
	remaining := decimal.NewFromInt(int64(window - elapsed))
	bonus := s.max.Sub(s.min).
		Mul(remaining).
		Div(decimal.NewFromInt(int64(window))).
		Floor()

	return int(s.min.Add(bonus).IntPart())
}
