package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qiju-live/gameroom/internal/v1/logging"
	"github.com/qiju-live/gameroom/internal/v1/metrics"
	"github.com/qiju-live/gameroom/internal/v1/store"
	"github.com/qiju-live/gameroom/internal/v1/types"
)

// Close reasons carried on the websocket close frame.
const (
	CloseReasonReconnect = "reconnect" // duplicate-token eviction
	CloseReasonSwap      = "swap"      // xiangqi side-swap forces a reconnect
	CloseReasonShutdown  = "shutdown"
)

// closeCodeNormal is websocket close code 1000.
const closeCodeNormal = 1000

// Options carries the dependencies shared by every room variant.
type Options struct {
	Store   store.Store
	Grace   time.Duration // seat reclamation threshold
	Now     func() time.Time
	OnEmpty func()
}

// base is the shared skeleton of a room actor: the fan-out set, the mutex
// that serializes open/message/close within the room, and persistence.
// Cross-room parallelism comes for free since every room owns its own lock.
type base struct {
	id   types.RoomIDType
	kind types.RoomKind
	key  string

	mu      sync.Mutex
	clients map[types.ClientInterface]struct{}

	store   store.Store
	grace   time.Duration
	now     func() time.Time
	onEmpty func()
}

func newBase(id types.RoomIDType, kind types.RoomKind, kindKey string, opts Options) base {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Store == nil {
		// Memory-only: the nil RedisStore absorbs every call.
		opts.Store = (*store.RedisStore)(nil)
	}
	return base{
		id:      id,
		kind:    kind,
		key:     store.Key(kindKey, string(id)),
		clients: make(map[types.ClientInterface]struct{}),
		store:   opts.Store,
		grace:   opts.Grace,
		now:     now,
		onEmpty: opts.OnEmpty,
	}
}

// GetID returns the room's routing key.
func (b *base) GetID() types.RoomIDType {
	return b.id
}

// Kind returns the actor variant.
func (b *base) Kind() types.RoomKind {
	return b.kind
}

// Presence returns the number of attached sockets.
func (b *base) Presence() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *base) admitLocked(client types.ClientInterface) {
	b.clients[client] = struct{}{}
	metrics.RoomPresence.WithLabelValues(string(b.kind), string(b.id)).Set(float64(len(b.clients)))
}

func (b *base) removeLocked(client types.ClientInterface) {
	delete(b.clients, client)
	if len(b.clients) > 0 {
		metrics.RoomPresence.WithLabelValues(string(b.kind), string(b.id)).Set(float64(len(b.clients)))
	} else {
		metrics.RoomPresence.DeleteLabelValues(string(b.kind), string(b.id))
	}
}

// broadcastLocked marshals v once and queues it on every attached socket.
func (b *base) broadcastLocked(ctx context.Context, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error(ctx, "Failed to marshal broadcast message", zap.String("room", string(b.id)), zap.Error(err))
		return
	}
	b.broadcastRawLocked(data)
}

func (b *base) broadcastRawLocked(data []byte) {
	for client := range b.clients {
		client.SendRaw(data)
	}
}

func (b *base) broadcastPresenceLocked(ctx context.Context) {
	b.broadcastLocked(ctx, map[string]any{"type": "presence", "n": len(b.clients)})
}

// onlineByRoleLocked counts attached sockets per seat, mapping each socket's
// attachment token through the current record so that stale holders of a
// stolen seat do not count as online.
func (b *base) onlineByRoleLocked(s *State) map[types.Role]int {
	online := make(map[types.Role]int)
	for client := range b.clients {
		if role := s.RoleFromToken(client.Attachment().Token); role.IsPlayer() {
			online[role]++
		}
	}
	return online
}

// evictDuplicateLocked closes any other socket holding the same seat token.
// The admit of the new socket and the record update happen first, so the
// evicted socket's close handler observes the post-takeover state.
func (b *base) evictDuplicateLocked(ctx context.Context, token string, keep types.ClientInterface) {
	if token == "" {
		return
	}
	for client := range b.clients {
		if client == keep || client.Attachment().Token != token {
			continue
		}
		logging.Info(ctx, "Duplicate connection detected, evicting old socket",
			zap.String("room", string(b.id)),
			zap.String("token", logging.RedactToken(token)),
		)
		client.CloseWithStatus(closeCodeNormal, CloseReasonReconnect)
	}
}

// persistLocked writes the record JSON. A put failure is absorbed: the
// in-memory record stays authoritative and the room keeps serving.
func (b *base) persistLocked(ctx context.Context, rec any) {
	data, err := json.Marshal(rec)
	if err != nil {
		logging.Error(ctx, "Failed to marshal room record", zap.String("room", string(b.id)), zap.Error(err))
		return
	}
	if err := b.store.Save(ctx, b.key, data); err != nil {
		logging.Error(ctx, "Failed to persist room record", zap.String("room", string(b.id)), zap.Error(err))
	}
}

// reject sends a directed failure to the offending sender only.
func (b *base) reject(client types.ClientInterface, reason string) {
	client.Send(map[string]any{"type": "reject", "reason": reason})
}

// shutdownLocked force-closes every socket.
func (b *base) shutdownLocked(reason string) {
	for client := range b.clients {
		client.CloseWithStatus(closeCodeNormal, reason)
	}
}

// notifyIfEmptyLocked triggers the hub's cleanup callback once the last
// socket detaches. The durable record outlives the actor.
func (b *base) notifyIfEmptyLocked() {
	if len(b.clients) == 0 && b.onEmpty != nil {
		go b.onEmpty()
	}
}

// observe records metrics for one handled message.
func observe(event string, status string, start time.Time) {
	metrics.WebsocketEvents.WithLabelValues(event, status).Inc()
	metrics.MessageProcessingDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
}
