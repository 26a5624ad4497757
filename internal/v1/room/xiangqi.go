package room

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/qiju-live/gameroom/internal/v1/logging"
	"github.com/qiju-live/gameroom/internal/v1/metrics"
	"github.com/qiju-live/gameroom/internal/v1/types"
	"github.com/qiju-live/gameroom/internal/v1/xiangqi"
)

// Xiangqi is the room actor for Chinese chess. Seat A plays red and opens.
type Xiangqi struct {
	base
	rec *XiangqiRecord
}

// NewXiangqi creates a xiangqi room actor for the given routing key.
func NewXiangqi(id types.RoomIDType, opts Options) *Xiangqi {
	return &Xiangqi{base: newBase(id, types.KindXiangqi, "xq", opts)}
}

// colorOf maps a seat to its engine color.
func colorOf(role types.Role) xiangqi.Color {
	if role == types.RoleA {
		return xiangqi.Red
	}
	return xiangqi.Black
}

func (x *Xiangqi) ensureLoadedLocked(ctx context.Context) {
	if x.rec != nil {
		return
	}
	data, err := x.store.Load(ctx, x.key)
	if err != nil {
		logging.Error(ctx, "Failed to load xiangqi record, starting from defaults", zap.String("room", string(x.id)), zap.Error(err))
		data = nil
	}
	rec, err := DecodeXiangqiRecord(data)
	if err != nil {
		logging.Error(ctx, "Corrupt xiangqi record, starting from defaults", zap.String("room", string(x.id)), zap.Error(err))
		rec = NewXiangqiRecord()
	}
	x.rec = rec
}

func (x *Xiangqi) seatsPayload() map[string]any {
	return map[string]any{"red": x.rec.TokenA != "", "black": x.rec.TokenB != ""}
}

func (x *Xiangqi) votesPayload() map[string]any {
	return map[string]any{"rematch": x.rec.Rematch, "swap": x.rec.Swap}
}

func (x *Xiangqi) initPayload(role types.Role, token string) map[string]any {
	if !role.IsPlayer() {
		token = ""
	}
	return map[string]any{
		"type":     "init",
		"you":      role,
		"token":    token,
		"moves":    x.rec.Moves,
		"current":  x.rec.Current,
		"gameOver": x.rec.GameOver,
		"winner":   x.rec.Winner,
		"reason":   x.rec.Reason,
		"seats":    x.seatsPayload(),
		"votes":    x.votesPayload(),
	}
}

// HandleOpen mirrors the gomoku open sequence with xiangqi seat semantics.
func (x *Xiangqi) HandleOpen(ctx context.Context, client types.ClientInterface, token, want string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.admitLocked(client)
	x.ensureLoadedLocked(ctx)

	a := x.rec.Allocate(token, ParseWant(types.KindXiangqi, want), x.onlineByRoleLocked(&x.rec.State), x.now(), x.grace)
	if a.Stole {
		metrics.SeatSteals.WithLabelValues(string(types.KindXiangqi)).Inc()
	}
	if a.Role.IsPlayer() {
		x.evictDuplicateLocked(ctx, a.Token, client)
	}
	x.persistLocked(ctx, x.rec)

	client.SetAttachment(types.Attachment{Kind: types.KindXiangqi, Role: a.Role, Token: a.Token})

	client.Send(x.initPayload(a.Role, a.Token))
	x.broadcastPresenceLocked(ctx)
	x.broadcastLocked(ctx, map[string]any{"type": "xq_seats", "seats": x.seatsPayload()})

	logging.Info(ctx, "Xiangqi client joined",
		zap.String("room", string(x.id)),
		zap.Int("role", int(a.Role)),
		zap.Bool("stole", a.Stole),
	)
}

// HandleClose refreshes the closer's lastSeen; the seat stays occupied.
func (x *Xiangqi) HandleClose(ctx context.Context, client types.ClientInterface) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(client)
	x.ensureLoadedLocked(ctx)

	if role := x.rec.RoleFromToken(client.Attachment().Token); role.IsPlayer() {
		x.rec.Touch(role, x.now().UnixMilli())
		x.persistLocked(ctx, x.rec)
	}

	x.broadcastLocked(ctx, map[string]any{"type": "xq_seats", "seats": x.seatsPayload()})
	x.broadcastPresenceLocked(ctx)
	x.notifyIfEmptyLocked()
}

// HandleMessage dispatches one inbound frame.
func (x *Xiangqi) HandleMessage(ctx context.Context, client types.ClientInterface, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensureLoadedLocked(ctx)

	start := time.Now()
	switch env.Type {
	case "xq_move":
		x.handleMove(ctx, client, data, start)
	case "xq_timeout":
		x.handleTimeout(ctx, client, start)
	case "xq_rematch":
		x.handleRematch(ctx, client, start)
	case "xq_swap":
		x.handleSwap(ctx, client, start)
	case "xq_leave":
		x.handleLeave(ctx, client, start)
	default:
		logging.Debug(ctx, "Ignoring unknown message type", zap.String("room", string(x.id)), zap.String("type", env.Type))
	}
}

// rejectWithSync rejects an illegal move and resends init so the sender's
// board resynchronizes with the authoritative record. Other clients see
// nothing.
func (x *Xiangqi) rejectWithSync(client types.ClientInterface, reason string) {
	x.reject(client, reason)
	role := x.rec.RoleFromToken(client.Attachment().Token)
	client.Send(x.initPayload(role, client.Attachment().Token))
}

func (x *Xiangqi) handleMove(ctx context.Context, client types.ClientInterface, data []byte, start time.Time) {
	// Pointer fields distinguish an absent endpoint from the zero square;
	// frames missing either are dropped without a reply.
	var p struct {
		From *xiangqi.Point `json:"from"`
		To   *xiangqi.Point `json:"to"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.From == nil || p.To == nil {
		return
	}
	from, to := *p.From, *p.To

	role := x.rec.RoleFromToken(client.Attachment().Token)
	if !role.IsPlayer() {
		observe("xq_move", "rejected", start)
		x.reject(client, "观战不能落子")
		return
	}
	if x.rec.GameOver {
		observe("xq_move", "rejected", start)
		x.rejectWithSync(client, "对局已结束")
		return
	}
	if !from.InBounds() || !to.InBounds() {
		observe("xq_move", "rejected", start)
		x.rejectWithSync(client, "非法走法")
		return
	}

	// Rebuild the authoritative board by replaying the accepted history.
	engine, err := xiangqi.Replay(x.rec.Steps())
	if err != nil {
		logging.Error(ctx, "Persisted move list no longer replays", zap.String("room", string(x.id)), zap.Error(err))
		observe("xq_move", "rejected", start)
		x.rejectWithSync(client, "非法走法")
		return
	}
	if engine.Turn != colorOf(role) {
		observe("xq_move", "rejected", start)
		x.rejectWithSync(client, "还没轮到你")
		return
	}
	m, ok := engine.FindLegalMove(from, to)
	if !ok {
		observe("xq_move", "rejected", start)
		x.rejectWithSync(client, "非法走法")
		return
	}

	engine.Apply(m)
	x.rec.Moves = append(x.rec.Moves, XiangqiMove{From: from, To: to, P: role})
	x.rec.Touch(role, x.now().UnixMilli())
	x.rec.ClearVotes()

	opponent := colorOf(role.Other())
	if !engine.HasLegalMove(opponent) {
		x.rec.GameOver = true
		x.rec.Winner = role
		if engine.InCheck(opponent) {
			x.rec.Reason = ReasonCheckmate
		} else {
			x.rec.Reason = ReasonStalemate
		}
		x.persistLocked(ctx, x.rec)
		x.broadcastLocked(ctx, map[string]any{
			"type": "xq_move", "from": from, "to": to, "p": role,
			"win": role, "reason": x.rec.Reason,
		})
		x.broadcastLocked(ctx, map[string]any{
			"type": "xq_over", "winner": x.rec.Winner, "reason": x.rec.Reason,
		})
	} else {
		x.rec.Current = role.Other()
		x.persistLocked(ctx, x.rec)
		x.broadcastLocked(ctx, map[string]any{
			"type": "xq_move", "from": from, "to": to, "p": role,
			"next": x.rec.Current,
		})
	}
	observe("xq_move", "ok", start)
}

// handleTimeout ends the game against the sender; there is no ply to
// broadcast, so the terminal notice alone goes out.
func (x *Xiangqi) handleTimeout(ctx context.Context, client types.ClientInterface, start time.Time) {
	role := x.rec.RoleFromToken(client.Attachment().Token)
	if !role.IsPlayer() {
		observe("xq_timeout", "rejected", start)
		x.reject(client, "观战不能落子")
		return
	}
	if x.rec.GameOver {
		observe("xq_timeout", "rejected", start)
		x.reject(client, "对局已结束")
		return
	}

	x.rec.GameOver = true
	x.rec.Winner = role.Other()
	x.rec.Reason = ReasonTimeout
	x.rec.Touch(role, x.now().UnixMilli())
	x.persistLocked(ctx, x.rec)

	x.broadcastLocked(ctx, map[string]any{
		"type": "xq_over", "winner": x.rec.Winner, "reason": ReasonTimeout,
	})
	observe("xq_timeout", "ok", start)
}

func (x *Xiangqi) handleRematch(ctx context.Context, client types.ClientInterface, start time.Time) {
	role := x.rec.RoleFromToken(client.Attachment().Token)
	if !role.IsPlayer() {
		observe("xq_rematch", "rejected", start)
		x.reject(client, "观战不能投票")
		return
	}
	if !x.rec.GameOver {
		observe("xq_rematch", "rejected", start)
		x.reject(client, "对局尚未结束")
		return
	}

	x.rec.Rematch[role] = true
	x.broadcastLocked(ctx, map[string]any{"type": "xq_rematch_pending"})
	x.broadcastLocked(ctx, map[string]any{"type": "xq_votes", "votes": x.votesPayload()})

	if x.rec.BothVoted(x.rec.Rematch) {
		x.rec.Moves = []XiangqiMove{}
		x.rec.ResetGame()
		x.broadcastLocked(ctx, map[string]any{
			"type": "xq_reset", "reason": "rematch",
			"current": x.rec.Current, "moves": x.rec.Moves,
		})
		x.broadcastLocked(ctx, map[string]any{"type": "xq_votes", "votes": x.votesPayload()})
	}
	x.persistLocked(ctx, x.rec)
	observe("xq_rematch", "ok", start)
}

// handleSwap transposes the seats once both players consent, then closes
// every socket so clients reconnect and renegotiate with their (still
// valid, now transposed) tokens.
func (x *Xiangqi) handleSwap(ctx context.Context, client types.ClientInterface, start time.Time) {
	role := x.rec.RoleFromToken(client.Attachment().Token)
	if !role.IsPlayer() {
		observe("xq_swap", "rejected", start)
		x.reject(client, "观战不能投票")
		return
	}
	if !x.rec.GameOver && len(x.rec.Moves) > 0 {
		observe("xq_swap", "rejected", start)
		x.reject(client, "对局进行中不能换边")
		return
	}

	x.rec.Swap[role] = true
	x.broadcastLocked(ctx, map[string]any{"type": "xq_swap_pending"})
	x.broadcastLocked(ctx, map[string]any{"type": "xq_votes", "votes": x.votesPayload()})

	if x.rec.BothVoted(x.rec.Swap) {
		x.rec.SwapSeats()
		x.rec.Moves = []XiangqiMove{}
		x.rec.ResetGame()
		x.persistLocked(ctx, x.rec)

		x.broadcastLocked(ctx, map[string]any{
			"type": "xq_reset", "reason": "swap",
			"current": x.rec.Current, "moves": x.rec.Moves,
		})
		x.shutdownLocked(CloseReasonSwap)
		observe("xq_swap", "ok", start)
		return
	}
	x.persistLocked(ctx, x.rec)
	observe("xq_swap", "ok", start)
}

func (x *Xiangqi) handleLeave(ctx context.Context, client types.ClientInterface, start time.Time) {
	token := client.Attachment().Token
	role := x.rec.RoleFromToken(token)
	if role.IsPlayer() && x.rec.SeatToken(role) == token {
		x.rec.SetSeat(role, "", 0)
		x.persistLocked(ctx, x.rec)
	}
	x.broadcastLocked(ctx, map[string]any{"type": "xq_seats", "seats": x.seatsPayload()})
	x.broadcastPresenceLocked(ctx)
	observe("xq_leave", "ok", start)
}

// Shutdown force-closes every socket in the room.
func (x *Xiangqi) Shutdown(reason string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.shutdownLocked(reason)
}
