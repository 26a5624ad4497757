// Package room implements the per-room actors: the persisted room record,
// the seat allocator, and the gomoku, xiangqi and relay message handlers.
package room

import (
	"encoding/json"

	"github.com/qiju-live/gameroom/internal/v1/types"
	"github.com/qiju-live/gameroom/internal/v1/xiangqi"
)

// Terminal reasons, mirrored verbatim to clients.
const (
	ReasonFiveInARow = "五连"   // gomoku five in a row
	ReasonCheckmate  = "绝杀"   // xiangqi mate
	ReasonStalemate  = "困毙"   // xiangqi stalemate
	ReasonTimeout    = "超时判负" // loss asserted by the mover's own clock
)

// GomokuMove is one persisted gomoku ply.
type GomokuMove struct {
	R int        `json:"r"`
	C int        `json:"c"`
	P types.Role `json:"p"`
}

// XiangqiMove is one persisted xiangqi ply.
type XiangqiMove struct {
	From xiangqi.Point `json:"from"`
	To   xiangqi.Point `json:"to"`
	P    types.Role    `json:"p"`
}

// State is the seat, turn and vote portion of a room record, shared by both
// game kinds. LastSeen timestamps are wall-clock millis; zero means never.
type State struct {
	TokenA    string `json:"tokenA"`
	TokenB    string `json:"tokenB"`
	LastSeenA int64  `json:"lastSeenA"`
	LastSeenB int64  `json:"lastSeenB"`

	Current  types.Role `json:"current"`
	GameOver bool       `json:"gameOver"`
	Winner   types.Role `json:"winner"`
	Reason   string     `json:"reason"`

	Rematch map[types.Role]bool `json:"rematch"`
	Swap    map[types.Role]bool `json:"swap"`
}

// NewState returns the default state for a fresh room: both seats free,
// seat A to open.
func NewState() State {
	return State{
		Current: types.RoleA,
		Rematch: make(map[types.Role]bool),
		Swap:    make(map[types.Role]bool),
	}
}

// normalize fills maps that an older or partial persisted record may lack.
func (s *State) normalize() {
	if s.Rematch == nil {
		s.Rematch = make(map[types.Role]bool)
	}
	if s.Swap == nil {
		s.Swap = make(map[types.Role]bool)
	}
	if s.Current == types.RoleSpectator {
		s.Current = types.RoleA
	}
}

// RoleFromToken maps a bearer token through the current seat assignment.
// Stale tokens (stolen seats) and the empty token map to spectator.
func (s *State) RoleFromToken(token string) types.Role {
	if token == "" {
		return types.RoleSpectator
	}
	switch token {
	case s.TokenA:
		return types.RoleA
	case s.TokenB:
		return types.RoleB
	}
	return types.RoleSpectator
}

// SeatToken returns the token occupying the given seat.
func (s *State) SeatToken(role types.Role) string {
	switch role {
	case types.RoleA:
		return s.TokenA
	case types.RoleB:
		return s.TokenB
	}
	return ""
}

// SetSeat assigns token and lastSeen for the given seat.
func (s *State) SetSeat(role types.Role, token string, lastSeen int64) {
	switch role {
	case types.RoleA:
		s.TokenA, s.LastSeenA = token, lastSeen
	case types.RoleB:
		s.TokenB, s.LastSeenB = token, lastSeen
	}
}

// LastSeen returns the wall-clock millis of the seat holder's last activity.
func (s *State) LastSeen(role types.Role) int64 {
	switch role {
	case types.RoleA:
		return s.LastSeenA
	case types.RoleB:
		return s.LastSeenB
	}
	return 0
}

// Touch refreshes the seat's lastSeen if role holds a seat.
func (s *State) Touch(role types.Role, nowMillis int64) {
	switch role {
	case types.RoleA:
		s.LastSeenA = nowMillis
	case types.RoleB:
		s.LastSeenB = nowMillis
	}
}

// ClearVotes empties both vote maps. Every accepted move and every reset
// does this, which is what keeps a stale pre-game swap vote from firing
// after play begins.
func (s *State) ClearVotes() {
	s.Rematch = make(map[types.Role]bool)
	s.Swap = make(map[types.Role]bool)
}

// BothVoted reports whether both seats are occupied and both voted in m.
func (s *State) BothVoted(m map[types.Role]bool) bool {
	return s.TokenA != "" && s.TokenB != "" && m[types.RoleA] && m[types.RoleB]
}

// SwapSeats exchanges the two seat tokens and their lastSeen stamps.
func (s *State) SwapSeats() {
	s.TokenA, s.TokenB = s.TokenB, s.TokenA
	s.LastSeenA, s.LastSeenB = s.LastSeenB, s.LastSeenA
}

// ResetGame clears the game portion for a rematch or side-swap: seat A
// always opens again.
func (s *State) ResetGame() {
	s.Current = types.RoleA
	s.GameOver = false
	s.Winner = types.RoleSpectator
	s.Reason = ""
	s.ClearVotes()
}

// GomokuRecord is the persisted record of one gomoku room.
type GomokuRecord struct {
	State
	Moves []GomokuMove `json:"moves"`
}

// NewGomokuRecord returns a fresh gomoku record.
func NewGomokuRecord() *GomokuRecord {
	return &GomokuRecord{State: NewState(), Moves: []GomokuMove{}}
}

// DecodeGomokuRecord parses a persisted record, tolerating unknown fields
// and filling defaults for missing ones. Empty input yields a fresh record.
func DecodeGomokuRecord(data []byte) (*GomokuRecord, error) {
	if len(data) == 0 {
		return NewGomokuRecord(), nil
	}
	rec := &GomokuRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, err
	}
	rec.normalize()
	if rec.Moves == nil {
		rec.Moves = []GomokuMove{}
	}
	return rec, nil
}

// XiangqiRecord is the persisted record of one xiangqi room.
type XiangqiRecord struct {
	State
	Moves []XiangqiMove `json:"moves"`
}

// NewXiangqiRecord returns a fresh xiangqi record.
func NewXiangqiRecord() *XiangqiRecord {
	return &XiangqiRecord{State: NewState(), Moves: []XiangqiMove{}}
}

// DecodeXiangqiRecord parses a persisted record, tolerating unknown fields
// and filling defaults for missing ones. Empty input yields a fresh record.
func DecodeXiangqiRecord(data []byte) (*XiangqiRecord, error) {
	if len(data) == 0 {
		return NewXiangqiRecord(), nil
	}
	rec := &XiangqiRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, err
	}
	rec.normalize()
	if rec.Moves == nil {
		rec.Moves = []XiangqiMove{}
	}
	return rec, nil
}

// Steps converts the persisted move list to engine steps for replay.
func (r *XiangqiRecord) Steps() []xiangqi.Step {
	steps := make([]xiangqi.Step, len(r.Moves))
	for i, m := range r.Moves {
		steps[i] = xiangqi.Step{From: m.From, To: m.To}
	}
	return steps
}
