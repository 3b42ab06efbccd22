package domain

import "time"

const (
	EventNamePlayerJoined = "player.joined"
	EventNameScoreUpdated = "score.updated"
	EventNameRoundEnded   = "round.ended"
	EventNameGameEnded    = "game.ended"
)

type EventPlayerJoined struct {
	Player Player
}

func (EventPlayerJoined) Name() string { return EventNamePlayerJoined }

type EventScoreUpdated struct {
	PlayerID   string
	PlayerName string
	Points     int
	Correct    bool
	SubmitTime time.Time
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventRoundEnded struct {
	Round Round
	// Early is true when the round closed because every active player had
	// answered, rather than because the deadline fired.
	Early bool
}

func (EventRoundEnded) Name() string { return EventNameRoundEnded }

type EventGameEnded struct {
	Leaderboard Leaderboard
}

func (EventGameEnded) Name() string { return EventNameGameEnded }
