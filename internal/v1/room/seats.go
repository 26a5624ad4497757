package room

import (
	"time"

	"github.com/google/uuid"

	"github.com/qiju-live/gameroom/internal/v1/types"
)

// Want is a connection's seat preference, normalized from the query string.
type Want int

const (
	WantAuto Want = iota
	WantA
	WantB
	WantSpectate
)

// ParseWant normalizes the want query parameter. Color aliases depend on the
// game: gomoku seats are black/white, xiangqi seats are red/black.
func ParseWant(kind types.RoomKind, s string) Want {
	switch s {
	case "", "auto":
		return WantAuto
	case "spectate", "watch", "0":
		return WantSpectate
	case "1":
		return WantA
	case "2":
		return WantB
	}

	if kind == types.KindXiangqi {
		switch s {
		case "red", "r":
			return WantA
		case "black", "b":
			return WantB
		}
		return WantAuto
	}

	switch s {
	case "black", "b":
		return WantA
	case "white", "w":
		return WantB
	}
	return WantAuto
}

// Assignment is the allocator's verdict for one incoming connection.
type Assignment struct {
	Role   types.Role
	Token  string // empty for spectators
	Minted bool   // a new token was created (fresh seat or steal)
	Stole  bool   // an abandoned seat was reclaimed
}

// Allocate decides the seat for a connection presenting token with
// preference want. online holds the count of currently attached sockets per
// seat. The decision order is fixed: token reconnect wins, then explicit
// spectate, then a free-or-abandoned seat A, then B, else spectator.
// A seat is stealable only when its holder has no live connection and has
// been idle strictly longer than grace.
func (s *State) Allocate(token string, want Want, online map[types.Role]int, now time.Time, grace time.Duration) Assignment {
	nowMillis := now.UnixMilli()

	// 1. Token reconnect: possession of the seat token is the seat.
	if token != "" {
		if role := s.RoleFromToken(token); role.IsPlayer() {
			s.Touch(role, nowMillis)
			return Assignment{Role: role, Token: token}
		}
	}

	if want == WantSpectate {
		return Assignment{Role: types.RoleSpectator}
	}

	canSteal := func(role types.Role) bool {
		return s.SeatToken(role) != "" &&
			online[role] == 0 &&
			nowMillis-s.LastSeen(role) > grace.Milliseconds()
	}

	take := func(role types.Role) Assignment {
		stole := s.SeatToken(role) != ""
		fresh := uuid.New().String()
		s.SetSeat(role, fresh, nowMillis)
		return Assignment{Role: role, Token: fresh, Minted: true, Stole: stole}
	}

	if want == WantA || want == WantAuto {
		if s.TokenA == "" || canSteal(types.RoleA) {
			return take(types.RoleA)
		}
	}
	if want == WantB || want == WantAuto {
		if s.TokenB == "" || canSteal(types.RoleB) {
			return take(types.RoleB)
		}
	}

	return Assignment{Role: types.RoleSpectator}
}
