// Package registry tracks connected players: who they are, how to reach
// them, and whether they are still live.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quizcast/quizcast/internal/clock"
	"github.com/quizcast/quizcast/internal/domain"
	"github.com/quizcast/quizcast/internal/errors"
)

type Config struct {
	Clock clock.Clock

	// LivenessTimeout is the silence window after which a lossy-transport
	// player is presumed gone. Stream players are never swept; their
	// disconnect is reported by the transport.
	LivenessTimeout time.Duration
}

type Service struct {
	c Config

	mu       sync.Mutex
	byHandle map[string]*domain.Player
	byID     map[string]*domain.Player
	// players holds every player ever registered this game, in registration
	// order. Disconnects demote; only Reset deletes.
	players []*domain.Player
	joinSeq int
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clock.System()
	}

	return &Service{
		c:        c,
		byHandle: make(map[string]*domain.Player),
		byID:     make(map[string]*domain.Player),
	}
}

// Join registers a new player reached through the given transport handle.
// A handle that is already registered and live is rejected; identity is
// keyed on the handle, not the display name, so name collisions are allowed.
func (s *Service) Join(handle, name string, lossy bool) (*domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.byHandle[handle]; ok && p.Active {
		return nil, errors.New(errors.CodeDuplicateIdentity,
			errors.WithMessagef("handle %s is already registered as %q", handle, p.Name))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}

	now := s.c.Clock.Now()
	p := &domain.Player{
		ID:       id.String(),
		Name:     name,
		Handle:   handle,
		Active:   true,
		Lossy:    lossy,
		JoinedAt: now,
		JoinSeq:  s.joinSeq,
		LastSeen: now,
	}
	s.joinSeq++

	s.byHandle[handle] = p
	s.byID[p.ID] = p
	s.players = append(s.players, p)

	return copyPlayer(p), nil
}

// Touch refreshes the liveness window for whoever owns the handle. Any
// inbound traffic counts.
func (s *Service) Touch(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.byHandle[handle]; ok {
		p.LastSeen = s.c.Clock.Now()
	}
}

// MarkDisconnected demotes the player behind a handle to inactive, keeping
// their score and history. It returns the demoted player, or nil if the
// handle was unknown or already inactive.
func (s *Service) MarkDisconnected(handle string) *domain.Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byHandle[handle]
	if !ok || !p.Active {
		return nil
	}

	p.Active = false
	return copyPlayer(p)
}

// SweepIdle demotes lossy players whose silence exceeded the liveness
// timeout and returns them.
func (s *Service) SweepIdle() []*domain.Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c.LivenessTimeout <= 0 {
		return nil
	}

	cutoff := s.c.Clock.Now().Add(-s.c.LivenessTimeout)

	var demoted []*domain.Player
	for _, p := range s.players {
		if p.Active && p.Lossy && p.LastSeen.Before(cutoff) {
			p.Active = false
			demoted = append(demoted, copyPlayer(p))
		}
	}

	return demoted
}

// AddScore adds points to a player's running total. Totals never decrease.
func (s *Service) AddScore(playerID string, points int) {
	if points < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.byID[playerID]; ok {
		p.Score += points
	}
}

// ActivePlayers returns the live player set in registration order.
func (s *Service) ActivePlayers() []*domain.Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Player
	for _, p := range s.players {
		if p.Active {
			out = append(out, copyPlayer(p))
		}
	}

	return out
}

// Players returns every player registered this game, active or not, in
// registration order.
func (s *Service) Players() []*domain.Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, copyPlayer(p))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinSeq < out[j].JoinSeq })
	return out
}

// Player looks up a player by ID.
func (s *Service) Player(id string) (*domain.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, false
	}

	return copyPlayer(p), true
}

// PlayerByHandle resolves a handle to its current player, if any.
func (s *Service) PlayerByHandle(handle string) (*domain.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byHandle[handle]
	if !ok {
		return nil, false
	}

	return copyPlayer(p), true
}

// ActiveCount returns the number of live players.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.players {
		if p.Active {
			n++
		}
	}

	return n
}

// Reset forgets every player. Used when the session is torn back down to
// the lobby.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byHandle = make(map[string]*domain.Player)
	s.byID = make(map[string]*domain.Player)
	s.players = nil
	s.joinSeq = 0
}

func copyPlayer(p *domain.Player) *domain.Player {
	cp := *p
	return &cp
}
