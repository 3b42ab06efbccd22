// Package leaderboard keeps running point totals for the current game epoch
// and produces the final ranked standings.
package leaderboard

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/quizcast/quizcast/internal/domain"
)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

type Service struct {
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	return &Service{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

// Record adds points to a player's total for the epoch and returns the new
// total. Zero-point records still register the player on the board.
func (s *Service) Record(ctx context.Context, epoch, playerID string, points int) (int, error) {
	if points < 0 {
		return 0, fmt.Errorf("leaderboard: negative points for %s", playerID)
	}

	total, err := s.redis.ZIncrBy(ctx, s.key(epoch), float64(points), playerID).Result()
	if err != nil {
		return 0, fmt.Errorf("leaderboard: record: %w", err)
	}

	return int(total), nil
}

// Total returns a player's running total for the epoch.
func (s *Service) Total(ctx context.Context, epoch, playerID string) (int, error) {
	total, err := s.redis.ZScore(ctx, s.key(epoch), playerID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("leaderboard: total: %w", err)
	}

	return int(total), nil
}

// Finalize computes the ranked standings for the epoch. Players carry their
// registration order for the tie-break; players without a recorded total
// rank with zero points. Ranks are 1..n with no numbers skipped.
func (s *Service) Finalize(ctx context.Context, epoch string, players []*domain.Player) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.key(epoch), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard: finalize: %w", err)
	}

	totals := make(map[string]int, len(res))
	for _, z := range res {
		totals[z.Member.(string)] = int(z.Score)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(players))
	joinSeq := make(map[string]int, len(players))
	for _, p := range players {
		joinSeq[p.ID] = p.JoinSeq
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    totals[p.ID],
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return joinSeq[entries[i].PlayerID] < joinSeq[entries[j].PlayerID]
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}

	return &domain.Leaderboard{
		Epoch:   epoch,
		Entries: entries,
	}, nil
}

// Reset discards the epoch's totals.
func (s *Service) Reset(ctx context.Context, epoch string) error {
	if epoch == "" {
		return nil
	}

	if err := s.redis.Del(ctx, s.key(epoch)).Err(); err != nil {
		return fmt.Errorf("leaderboard: reset: %w", err)
	}

	return nil
}

func (s *Service) key(epoch string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, epoch)
}
