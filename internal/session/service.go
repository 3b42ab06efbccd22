// Package session implements the game state machine: phase transitions,
// question dispatch, answer intake, and deadline management. There is
// exactly one session per server process.
//
// Every mutation (join, start, answer, disconnect, deadline expiry, reset)
// runs inside a single mutually-exclusive region, while transport I/O stays
// concurrent across players.
package session

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quizcast/quizcast/internal/clock"
	"github.com/quizcast/quizcast/internal/domain"
	"github.com/quizcast/quizcast/internal/errors"
	"github.com/quizcast/quizcast/internal/event"
	"github.com/quizcast/quizcast/internal/leaderboard"
	"github.com/quizcast/quizcast/internal/question"
	"github.com/quizcast/quizcast/internal/registry"
	"github.com/quizcast/quizcast/internal/score"
	"github.com/quizcast/quizcast/internal/wire"
)

const (
	DefaultAnswerWindow = 30 * time.Second
	DefaultResultHold   = 2 * time.Second
)

// Sender delivers messages to clients. Implementations are fire-and-forget:
// a dead or slow recipient is logged and skipped, never surfaced here.
type Sender interface {
	Send(ctx context.Context, handle, typ string, data any)

	// Broadcast sends to every active player except the listed handles.
	Broadcast(ctx context.Context, typ string, data any, except ...string)
}

type Config struct {
	Bank        *question.Bank
	Registry    *registry.Service
	Score       *score.Service
	Leaderboard *leaderboard.Service
	EventBus    *event.Bus
	Sender      Sender
	Clock       clock.Clock

	// AnswerWindow is how long each question stays open.
	AnswerWindow time.Duration

	// ResultHold is the pause between a round's results and the next
	// question.
	ResultHold time.Duration
}

type Service struct {
	c Config

	mu       sync.Mutex
	phase    domain.Phase
	epoch    string
	qIndex   int
	round    *roundState
	roundGen uint64

	nextTimer clock.Timer
}

type roundState struct {
	question  domain.Question
	startedAt time.Time
	deadline  time.Time
	answers   map[string]*domain.Answer
	order     []string
	timer     clock.Timer
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clock.System()
	}
	if c.AnswerWindow <= 0 {
		c.AnswerWindow = DefaultAnswerWindow
	}
	if c.ResultHold <= 0 {
		c.ResultHold = DefaultResultHold
	}

	return &Service{
		c:     c,
		phase: domain.PhaseLobby,
	}
}

// HandleJoin registers a new player. Joins are only accepted in the lobby;
// identity is keyed on the transport handle, so colliding display names are
// allowed but a second join from a live handle is rejected.
func (s *Service) HandleJoin(ctx context.Context, handle string, lossy bool, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		s.reject(ctx, handle, wire.TypeJoinReject, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("display name must not be empty")))
		return
	}

	if s.phase != domain.PhaseLobby {
		s.reject(ctx, handle, wire.TypeJoinReject, errors.New(errors.CodeAlreadyStarted,
			errors.WithMessagef("game already in progress")))
		return
	}

	p, err := s.c.Registry.Join(handle, name, lossy)
	if err != nil {
		s.reject(ctx, handle, wire.TypeJoinReject, err)
		return
	}

	count := s.c.Registry.ActiveCount()
	slog.InfoContext(ctx, "session: player joined",
		"player", p.Name,
		"handle", handle,
		"count", count,
	)

	s.c.Sender.Send(ctx, handle, wire.TypeJoinAck, wire.JoinAck{
		PlayerID:    p.ID,
		PlayerCount: count,
	})
	s.c.Sender.Broadcast(ctx, wire.TypePlayerJoined, wire.PlayerJoined{
		Name:        p.Name,
		PlayerCount: count,
	}, handle)

	s.c.EventBus.Publish(ctx, domain.EventPlayerJoined{Player: *p})
}

// HandleStart begins the game. Any registered active player may start it.
func (s *Service) HandleStart(ctx context.Context, handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseLobby {
		s.reject(ctx, handle, wire.TypeError, errors.New(errors.CodeAlreadyStarted,
			errors.WithMessagef("game already in progress")))
		return
	}

	if s.c.Registry.ActiveCount() == 0 {
		s.reject(ctx, handle, wire.TypeError, errors.New(errors.CodeNoPlayers,
			errors.WithMessagef("no active players to start a game")))
		return
	}

	p, ok := s.c.Registry.PlayerByHandle(handle)
	if !ok || !p.Active {
		s.reject(ctx, handle, wire.TypeError, errors.New(errors.CodeNotFound,
			errors.WithMessagef("join before starting the game")))
		return
	}

	s.epoch = uuid.NewString()
	s.qIndex = 0

	slog.InfoContext(ctx, "session: game started",
		"by", p.Name,
		"epoch", s.epoch,
		"players", s.c.Registry.ActiveCount(),
		"questions", s.c.Bank.Len(),
	)

	s.beginRoundLocked(ctx)
}

// HandleAnswer records a player's submission for the current round.
func (s *Service) HandleAnswer(ctx context.Context, handle string, a wire.Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.c.Registry.PlayerByHandle(handle)
	if !ok || !p.Active {
		// No round context for this handle; nothing to reject against.
		return
	}

	if s.phase != domain.PhaseInRound {
		s.c.Sender.Send(ctx, handle, wire.TypeAnswerAck, wire.AnswerAck{
			Accepted: false,
			Code:     string(errors.CodeWrongPhase),
			Message:  "no round is accepting answers",
		})
		return
	}

	now := s.c.Clock.Now()
	if now.After(s.round.deadline) {
		// The deadline has already closed the round for them; a nack would
		// only race the round result.
		return
	}

	if _, dup := s.round.answers[p.ID]; dup {
		s.c.Sender.Send(ctx, handle, wire.TypeAnswerAck, wire.AnswerAck{
			Accepted: false,
			Code:     string(errors.CodeAnswerRejected),
			Message:  "already answered this question",
		})
		return
	}

	opt := strings.ToUpper(strings.TrimSpace(a.Option))
	ans := &domain.Answer{
		PlayerID:   p.ID,
		Option:     opt,
		SubmitTime: now,
		Elapsed:    now.Sub(s.round.startedAt),
		Correct:    opt == s.round.question.Answer,
	}
	s.round.answers[p.ID] = ans
	s.round.order = append(s.round.order, p.ID)

	s.c.Sender.Send(ctx, handle, wire.TypeAnswerAck, wire.AnswerAck{Accepted: true})

	if s.allAnsweredLocked() {
		s.closeRoundLocked(ctx, true)
	}
}

// HandleStatus answers a status query from any handle, registered or not.
func (s *Service) HandleStatus(ctx context.Context, handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.Sender.Send(ctx, handle, wire.TypeStatusInfo, wire.StatusInfo{
		Phase:       string(s.phase),
		PlayerCount: s.c.Registry.ActiveCount(),
		Question:    s.questionNumberLocked(),
	})
}

// Disconnect demotes the player behind a handle. A demotion during a round
// can satisfy the all-answered condition and close the round early.
func (s *Service) Disconnect(ctx context.Context, handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.c.Registry.MarkDisconnected(handle)
	if p == nil {
		return
	}

	slog.InfoContext(ctx, "session: player disconnected",
		"player", p.Name,
		"handle", handle,
	)

	if s.phase == domain.PhaseInRound && s.allAnsweredLocked() {
		s.closeRoundLocked(ctx, true)
	}
}

// SweepIdle demotes datagram players that have gone silent past the liveness
// timeout. Like an explicit disconnect, a sweep can satisfy the all-answered
// condition and close the current round early.
func (s *Service) SweepIdle(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	demoted := s.c.Registry.SweepIdle()
	if len(demoted) == 0 {
		return
	}

	for _, p := range demoted {
		slog.InfoContext(ctx, "session: player timed out",
			"player", p.Name,
			"handle", p.Handle,
		)
	}

	if s.phase == domain.PhaseInRound && s.allAnsweredLocked() {
		s.closeRoundLocked(ctx, true)
	}
}

// Reset tears the session back down to an empty lobby. This is an
// administrative action, not a player command.
func (s *Service) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round != nil && s.round.timer != nil {
		s.round.timer.Stop()
	}
	if s.nextTimer != nil {
		s.nextTimer.Stop()
	}

	if err := s.c.Leaderboard.Reset(ctx, s.epoch); err != nil {
		slog.ErrorContext(ctx, "session: reset leaderboard failed", "error", err)
	}
	s.c.Registry.Reset()

	s.roundGen++
	s.phase = domain.PhaseLobby
	s.epoch = ""
	s.qIndex = 0
	s.round = nil
	s.nextTimer = nil

	slog.InfoContext(ctx, "session: reset to lobby")
}

// Snapshot is a point-in-time view of the session for the admin surface.
type Snapshot struct {
	Phase          domain.Phase `json:"phase"`
	Epoch          string       `json:"epoch,omitempty"`
	PlayerCount    int          `json:"player_count"`
	Question       int          `json:"question"`
	TotalQuestions int          `json:"total_questions"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Phase:          s.phase,
		Epoch:          s.epoch,
		PlayerCount:    s.c.Registry.ActiveCount(),
		Question:       s.questionNumberLocked(),
		TotalQuestions: s.c.Bank.Len(),
	}
}

// CurrentRoundBegin returns the open round's announcement, for datagram
// rebroadcast while the round lasts.
func (s *Service) CurrentRoundBegin() (wire.RoundBegin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseInRound || s.round == nil {
		return wire.RoundBegin{}, false
	}

	return s.roundBeginLocked(), true
}

func (s *Service) beginRoundLocked(ctx context.Context) {
	q, ok := s.c.Bank.Question(s.qIndex)
	if !ok {
		// Cannot happen while qIndex stays within the bank; fail safe.
		slog.ErrorContext(ctx, "session: no question at index", "index", s.qIndex)
		s.finishGameLocked(ctx)
		return
	}

	now := s.c.Clock.Now()
	s.round = &roundState{
		question:  q,
		startedAt: now,
		deadline:  now.Add(s.c.AnswerWindow),
		answers:   make(map[string]*domain.Answer),
	}
	s.phase = domain.PhaseInRound
	s.roundGen++
	gen := s.roundGen

	slog.InfoContext(ctx, "session: round begin",
		"question", s.qIndex+1,
		"deadline", s.round.deadline,
	)

	s.c.Sender.Broadcast(ctx, wire.TypeRoundBegin, s.roundBeginLocked())

	s.round.timer = s.c.Clock.AfterFunc(s.c.AnswerWindow, func() {
		s.deadlineExpired(gen)
	})
}

func (s *Service) roundBeginLocked() wire.RoundBegin {
	q := s.round.question

	opts := make([]wire.Option, 0, len(q.Options))
	for _, o := range q.Options {
		opts = append(opts, wire.Option{Label: o.Label, Text: o.Text})
	}

	return wire.RoundBegin{
		Question:       s.qIndex + 1,
		TotalQuestions: s.c.Bank.Len(),
		Prompt:         q.Prompt,
		Options:        opts,
		WindowMillis:   s.c.AnswerWindow.Milliseconds(),
		DeadlineMillis: s.round.deadline.UnixMilli(),
	}
}

// deadlineExpired forces the round closed. The generation guard makes the
// timer fire at most once against the round it was armed for.
func (s *Service) deadlineExpired(gen uint64) {
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseInRound || s.roundGen != gen {
		return
	}

	s.closeRoundLocked(ctx, false)
}

func (s *Service) allAnsweredLocked() bool {
	for _, p := range s.c.Registry.ActivePlayers() {
		if _, ok := s.round.answers[p.ID]; !ok {
			return false
		}
	}

	return true
}

// closeRoundLocked scores the round's answers in submission order, appends
// zero-credit outcomes for active players who never submitted, and
// broadcasts the result followed by the running standings.
func (s *Service) closeRoundLocked(ctx context.Context, early bool) {
	if s.round.timer != nil {
		s.round.timer.Stop()
	}

	q := s.round.question
	outcomes := make([]wire.PlayerOutcome, 0, len(s.round.order))
	dr := domain.Round{
		Index:     s.qIndex,
		StartedAt: s.round.startedAt,
		Deadline:  s.round.deadline,
	}

	for _, pid := range s.round.order {
		ans := s.round.answers[pid]

		name := pid
		if p, ok := s.c.Registry.Player(pid); ok {
			name = p.Name
		}

		ans.Points = s.c.Score.Score(ctx, score.Request{
			PlayerID:   pid,
			PlayerName: name,
			Correct:    ans.Correct,
			Elapsed:    ans.Elapsed,
			Window:     s.c.AnswerWindow,
			SubmitTime: ans.SubmitTime,
		})

		s.recordLocked(ctx, pid, ans.Points)

		outcomes = append(outcomes, wire.PlayerOutcome{
			PlayerID:      pid,
			Name:          name,
			Option:        ans.Option,
			Correct:       ans.Correct,
			Points:        ans.Points,
			ElapsedMillis: ans.Elapsed.Milliseconds(),
		})
		dr.Answers = append(dr.Answers, *ans)
	}

	for _, p := range s.c.Registry.ActivePlayers() {
		if _, ok := s.round.answers[p.ID]; ok {
			continue
		}

		s.recordLocked(ctx, p.ID, 0)
		outcomes = append(outcomes, wire.PlayerOutcome{
			PlayerID: p.ID,
			Name:     p.Name,
			Correct:  false,
			Points:   0,
		})
	}

	s.phase = domain.PhaseRoundResults

	slog.InfoContext(ctx, "session: round closed",
		"question", s.qIndex+1,
		"answers", len(s.round.order),
		"early", early,
	)

	s.c.Sender.Broadcast(ctx, wire.TypeRoundResult, wire.RoundResult{
		Question:      s.qIndex + 1,
		CorrectOption: q.Answer,
		Outcomes:      outcomes,
	})
	s.c.Sender.Broadcast(ctx, wire.TypeStandings, wire.Standings{
		Round:       s.qIndex + 1,
		TotalRounds: s.c.Bank.Len(),
		Entries:     s.standingsLocked(),
	})

	s.c.EventBus.Publish(ctx, domain.EventRoundEnded{Round: dr, Early: early})

	if s.qIndex+1 < s.c.Bank.Len() {
		gen := s.roundGen
		s.nextTimer = s.c.Clock.AfterFunc(s.c.ResultHold, func() {
			s.advanceRound(gen)
		})
		return
	}

	s.finishGameLocked(ctx)
}

func (s *Service) recordLocked(ctx context.Context, playerID string, points int) {
	s.c.Registry.AddScore(playerID, points)

	if _, err := s.c.Leaderboard.Record(ctx, s.epoch, playerID, points); err != nil {
		slog.ErrorContext(ctx, "session: record score failed",
			"player", playerID,
			"error", err,
		)
	}
}

func (s *Service) advanceRound(gen uint64) {
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseRoundResults || s.roundGen != gen {
		return
	}

	s.qIndex++
	s.beginRoundLocked(ctx)
}

func (s *Service) finishGameLocked(ctx context.Context) {
	s.phase = domain.PhaseGameOver

	l, err := s.c.Leaderboard.Finalize(ctx, s.epoch, s.c.Registry.Players())
	if err != nil {
		slog.ErrorContext(ctx, "session: finalize leaderboard failed", "error", err)
		l = &domain.Leaderboard{Epoch: s.epoch, Entries: s.localRankingLocked()}
	}

	entries := make([]wire.StandingEntry, 0, len(l.Entries))
	for _, e := range l.Entries {
		entries = append(entries, wire.StandingEntry{
			Rank:     e.Rank,
			PlayerID: e.PlayerID,
			Name:     e.Name,
			Score:    e.Score,
		})
	}

	slog.InfoContext(ctx, "session: game over",
		"epoch", s.epoch,
		"players", len(entries),
	)

	s.c.Sender.Broadcast(ctx, wire.TypeGameOver, wire.GameOver{Leaderboard: entries})
	s.c.EventBus.Publish(ctx, domain.EventGameEnded{Leaderboard: *l})
}

// standingsLocked ranks from the registry's mirrored totals, avoiding a
// leaderboard read on the hot path between rounds.
func (s *Service) standingsLocked() []wire.StandingEntry {
	ranked := s.localRankingLocked()

	entries := make([]wire.StandingEntry, 0, len(ranked))
	for _, e := range ranked {
		entries = append(entries, wire.StandingEntry{
			Rank:     e.Rank,
			PlayerID: e.PlayerID,
			Name:     e.Name,
			Score:    e.Score,
		})
	}

	return entries
}

func (s *Service) localRankingLocked() []domain.LeaderboardEntry {
	players := s.c.Registry.Players()

	entries := make([]domain.LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    p.Score,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	return entries
}

func (s *Service) questionNumberLocked() int {
	if s.round == nil {
		return 0
	}

	return s.qIndex + 1
}

func (s *Service) reject(ctx context.Context, handle, typ string, err error) {
	e := errors.Convert(err)
	s.c.Sender.Send(ctx, handle, typ, wire.ErrorInfo{
		Code:    string(e.Code),
		Message: e.Message,
	})
}
