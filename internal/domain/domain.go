package domain

import "time"

// Phase is the current stage of the single game session.
type Phase string

const (
	PhaseLobby        = Phase("lobby")
	PhaseInRound      = Phase("in_round")
	PhaseRoundResults = Phase("round_results")
	PhaseGameOver     = Phase("game_over")
)

// Question is one record of the question bank, immutable once loaded.
type Question struct {
	Index   int
	Prompt  string
	Options []Option
	// Answer is the label of the correct option. It is always one of the
	// labels present in Options.
	Answer string
}

type Option struct {
	Label string
	Text  string
}

// Player is one connected (or previously connected) client. The ID stays
// stable for the lifetime of a game even if the display name collides with
// another player's.
type Player struct {
	ID     string
	Name   string
	Handle string
	Score  int
	Active bool
	// Lossy marks players reached over the datagram transport, whose
	// disconnection can only be inferred from silence.
	Lossy    bool
	JoinedAt time.Time
	// JoinSeq orders players by registration, used for leaderboard tie-breaks.
	JoinSeq  int
	LastSeen time.Time
}

// Answer is one accepted submission within a round.
type Answer struct {
	PlayerID   string
	Option     string
	SubmitTime time.Time
	Elapsed    time.Duration
	Correct    bool
	Points     int
}

// Round is the lifecycle of a single question, from dispatch to result
// broadcast. At most one accepted answer per player.
type Round struct {
	Index     int
	StartedAt time.Time
	Deadline  time.Time
	Answers   []Answer
}

// Leaderboard is the ranked standings for one game epoch, sorted by score
// descending with ties broken by earliest registration.
type Leaderboard struct {
	Epoch   string
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	Rank     int
	PlayerID string
	Name     string
	Score    int
}
