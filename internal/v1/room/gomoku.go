package room

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/qiju-live/gameroom/internal/v1/logging"
	"github.com/qiju-live/gameroom/internal/v1/metrics"
	"github.com/qiju-live/gameroom/internal/v1/types"
)

// BoardSize is the gomoku grid dimension.
const BoardSize = 19

// Gomoku is the room actor for five-in-a-row. Seat A plays black and opens.
type Gomoku struct {
	base
	rec *GomokuRecord
}

// NewGomoku creates a gomoku room actor for the given routing key.
func NewGomoku(id types.RoomIDType, opts Options) *Gomoku {
	return &Gomoku{base: newBase(id, types.KindGomoku, "gm", opts)}
}

// ensureLoadedLocked lazily loads the persisted record, falling back to the
// default on a missing key or store fault.
func (g *Gomoku) ensureLoadedLocked(ctx context.Context) {
	if g.rec != nil {
		return
	}
	data, err := g.store.Load(ctx, g.key)
	if err != nil {
		logging.Error(ctx, "Failed to load gomoku record, starting from defaults", zap.String("room", string(g.id)), zap.Error(err))
		data = nil
	}
	rec, err := DecodeGomokuRecord(data)
	if err != nil {
		logging.Error(ctx, "Corrupt gomoku record, starting from defaults", zap.String("room", string(g.id)), zap.Error(err))
		rec = NewGomokuRecord()
	}
	g.rec = rec
}

func (g *Gomoku) seatsPayload() map[string]any {
	return map[string]any{"black": g.rec.TokenA != "", "white": g.rec.TokenB != ""}
}

func (g *Gomoku) votesPayload() map[string]any {
	return map[string]any{"rematch": g.rec.Rematch, "swap": g.rec.Swap}
}

func (g *Gomoku) initPayload(role types.Role, token string) map[string]any {
	if !role.IsPlayer() {
		token = ""
	}
	return map[string]any{
		"type":     "init",
		"you":      role,
		"token":    token,
		"moves":    g.rec.Moves,
		"current":  g.rec.Current,
		"gameOver": g.rec.GameOver,
		"winner":   g.rec.Winner,
		"reason":   g.rec.Reason,
		"seats":    g.seatsPayload(),
		"votes":    g.votesPayload(),
	}
}

// HandleOpen admits the socket, runs the seat allocator, evicts any prior
// holder of the same token, persists, and sends init before the room-wide
// presence and seat broadcasts.
func (g *Gomoku) HandleOpen(ctx context.Context, client types.ClientInterface, token, want string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.admitLocked(client)
	g.ensureLoadedLocked(ctx)

	a := g.rec.Allocate(token, ParseWant(types.KindGomoku, want), g.onlineByRoleLocked(&g.rec.State), g.now(), g.grace)
	if a.Stole {
		metrics.SeatSteals.WithLabelValues(string(types.KindGomoku)).Inc()
	}
	if a.Role.IsPlayer() {
		g.evictDuplicateLocked(ctx, a.Token, client)
	}
	g.persistLocked(ctx, g.rec)

	client.SetAttachment(types.Attachment{Kind: types.KindGomoku, Role: a.Role, Token: a.Token})

	client.Send(g.initPayload(a.Role, a.Token))
	g.broadcastPresenceLocked(ctx)
	g.broadcastLocked(ctx, map[string]any{"type": "gm_seats", "seats": g.seatsPayload()})

	logging.Info(ctx, "Gomoku client joined",
		zap.String("room", string(g.id)),
		zap.Int("role", int(a.Role)),
		zap.Bool("stole", a.Stole),
	)
}

// HandleClose refreshes the closer's lastSeen. The seat itself is never
// released on close; it stays reclaimable only through the grace rule.
func (g *Gomoku) HandleClose(ctx context.Context, client types.ClientInterface) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.removeLocked(client)
	g.ensureLoadedLocked(ctx)

	if role := g.rec.RoleFromToken(client.Attachment().Token); role.IsPlayer() {
		g.rec.Touch(role, g.now().UnixMilli())
		g.persistLocked(ctx, g.rec)
	}

	g.broadcastLocked(ctx, map[string]any{"type": "gm_seats", "seats": g.seatsPayload()})
	g.broadcastPresenceLocked(ctx)
	g.notifyIfEmptyLocked()
}

// HandleMessage dispatches one inbound frame. Unknown types are ignored and
// malformed JSON is silently dropped.
func (g *Gomoku) HandleMessage(ctx context.Context, client types.ClientInterface, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLoadedLocked(ctx)

	start := time.Now()
	switch env.Type {
	case "move":
		g.handleMove(ctx, client, data, start)
	case "timeout":
		g.handleTimeout(ctx, client, start)
	case "rematch":
		g.handleRematch(ctx, client, start)
	case "swap":
		g.handleSwap(ctx, client, start)
	case "leave", "gm_leave":
		g.handleLeave(ctx, client, start)
	default:
		logging.Debug(ctx, "Ignoring unknown message type", zap.String("room", string(g.id)), zap.String("type", env.Type))
	}
}

func (g *Gomoku) handleMove(ctx context.Context, client types.ClientInterface, data []byte, start time.Time) {
	// Pointer fields distinguish an absent coordinate from a played (0,0);
	// frames missing either are dropped without a reply.
	var p struct {
		R *int `json:"r"`
		C *int `json:"c"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.R == nil || p.C == nil {
		return
	}
	r, c := *p.R, *p.C

	role := g.rec.RoleFromToken(client.Attachment().Token)
	reason, ok := func() (string, bool) {
		switch {
		case !role.IsPlayer():
			return "观战不能落子", false
		case g.rec.GameOver:
			return "对局已结束", false
		case g.rec.Current != role:
			return "还没轮到你", false
		case r < 0 || r >= BoardSize || c < 0 || c >= BoardSize:
			return "落子越界", false
		case g.occupied(r, c):
			return "该位置已有棋子", false
		}
		return "", true
	}()
	if !ok {
		observe("move", "rejected", start)
		g.reject(client, reason)
		return
	}

	g.rec.Moves = append(g.rec.Moves, GomokuMove{R: r, C: c, P: role})
	g.rec.Touch(role, g.now().UnixMilli())
	g.rec.ClearVotes()

	if g.wins(r, c, role) {
		g.rec.GameOver = true
		g.rec.Winner = role
		g.rec.Reason = ReasonFiveInARow
		g.persistLocked(ctx, g.rec)
		g.broadcastLocked(ctx, map[string]any{
			"type": "move", "r": r, "c": c, "p": role,
			"win": role, "reason": ReasonFiveInARow,
		})
	} else {
		g.rec.Current = role.Other()
		g.persistLocked(ctx, g.rec)
		g.broadcastLocked(ctx, map[string]any{
			"type": "move", "r": r, "c": c, "p": role,
			"next": g.rec.Current,
		})
	}
	observe("move", "ok", start)
}

// handleTimeout ends the game against the sender. The server keeps no clock;
// it only honors the assertion from a seated player.
func (g *Gomoku) handleTimeout(ctx context.Context, client types.ClientInterface, start time.Time) {
	role := g.rec.RoleFromToken(client.Attachment().Token)
	if !role.IsPlayer() {
		observe("timeout", "rejected", start)
		g.reject(client, "观战不能落子")
		return
	}
	if g.rec.GameOver {
		observe("timeout", "rejected", start)
		g.reject(client, "对局已结束")
		return
	}

	g.rec.GameOver = true
	g.rec.Winner = role.Other()
	g.rec.Reason = ReasonTimeout
	g.rec.Touch(role, g.now().UnixMilli())
	g.persistLocked(ctx, g.rec)

	g.broadcastLocked(ctx, map[string]any{
		"type": "move", "r": -1, "c": -1, "p": role,
		"win": g.rec.Winner, "reason": ReasonTimeout,
	})
	observe("timeout", "ok", start)
}

func (g *Gomoku) handleRematch(ctx context.Context, client types.ClientInterface, start time.Time) {
	role := g.rec.RoleFromToken(client.Attachment().Token)
	if !role.IsPlayer() {
		observe("rematch", "rejected", start)
		g.reject(client, "观战不能投票")
		return
	}
	if !g.rec.GameOver {
		observe("rematch", "rejected", start)
		g.reject(client, "对局尚未结束")
		return
	}

	g.rec.Rematch[role] = true
	g.broadcastLocked(ctx, map[string]any{"type": "rematch_pending"})
	g.broadcastLocked(ctx, map[string]any{"type": "votes", "votes": g.votesPayload()})

	if g.rec.BothVoted(g.rec.Rematch) {
		g.rec.Moves = []GomokuMove{}
		g.rec.ResetGame()
		g.broadcastResetLocked(ctx)
	}
	g.persistLocked(ctx, g.rec)
	observe("rematch", "ok", start)
}

func (g *Gomoku) handleSwap(ctx context.Context, client types.ClientInterface, start time.Time) {
	role := g.rec.RoleFromToken(client.Attachment().Token)
	if !role.IsPlayer() {
		observe("swap", "rejected", start)
		g.reject(client, "观战不能投票")
		return
	}
	if !g.rec.GameOver && len(g.rec.Moves) > 0 {
		observe("swap", "rejected", start)
		g.reject(client, "对局进行中不能换边")
		return
	}

	g.rec.Swap[role] = true
	g.broadcastLocked(ctx, map[string]any{"type": "swap_pending"})
	g.broadcastLocked(ctx, map[string]any{"type": "votes", "votes": g.votesPayload()})

	if g.rec.BothVoted(g.rec.Swap) {
		g.rec.SwapSeats()
		g.rec.Moves = []GomokuMove{}
		g.rec.ResetGame()
		g.broadcastLocked(ctx, map[string]any{"type": "gm_seats", "seats": g.seatsPayload()})

		// Directed role update so nobody has to reconnect: each socket's
		// token now maps to the transposed seat.
		for c := range g.clients {
			att := c.Attachment()
			newRole := g.rec.RoleFromToken(att.Token)
			att.Role = newRole
			c.SetAttachment(att)
			c.Send(map[string]any{"type": "role", "you": newRole})
		}

		g.broadcastResetLocked(ctx)
	}
	g.persistLocked(ctx, g.rec)
	observe("swap", "ok", start)
}

// broadcastResetLocked announces the freshly reset game. Seat A always opens.
func (g *Gomoku) broadcastResetLocked(ctx context.Context) {
	g.broadcastLocked(ctx, map[string]any{
		"type": "state", "moves": g.rec.Moves,
		"current": g.rec.Current, "gameOver": g.rec.GameOver,
	})
	g.broadcastLocked(ctx, map[string]any{"type": "votes", "votes": g.votesPayload()})
}

// handleLeave voluntarily releases the sender's seat.
func (g *Gomoku) handleLeave(ctx context.Context, client types.ClientInterface, start time.Time) {
	token := client.Attachment().Token
	role := g.rec.RoleFromToken(token)
	if role.IsPlayer() && g.rec.SeatToken(role) == token {
		g.rec.SetSeat(role, "", 0)
		g.persistLocked(ctx, g.rec)
	}
	g.broadcastLocked(ctx, map[string]any{"type": "gm_seats", "seats": g.seatsPayload()})
	g.broadcastPresenceLocked(ctx)
	observe("leave", "ok", start)
}

// Shutdown force-closes every socket in the room.
func (g *Gomoku) Shutdown(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shutdownLocked(reason)
}

// occupied reports whether any accepted move already sits on (r, c).
func (g *Gomoku) occupied(r, c int) bool {
	for _, m := range g.rec.Moves {
		if m.R == r && m.C == c {
			return true
		}
	}
	return false
}

// wins checks for five in a row through (r, c) in the four directions.
func (g *Gomoku) wins(r, c int, role types.Role) bool {
	grid := make(map[[2]int]types.Role, len(g.rec.Moves))
	for _, m := range g.rec.Moves {
		grid[[2]int{m.R, m.C}] = m.P
	}

	dirs := [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}
	for _, d := range dirs {
		count := 1
		for _, sign := range []int{1, -1} {
			for i := 1; i < 5; i++ {
				rr, cc := r+sign*i*d[0], c+sign*i*d[1]
				if grid[[2]int{rr, cc}] != role {
					break
				}
				count++
			}
		}
		if count >= 5 {
			return true
		}
	}
	return false
}
