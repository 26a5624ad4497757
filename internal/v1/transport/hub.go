// Package transport owns the WebSocket edge: the HTTP upgrade surface, the
// per-socket pumps, and the registry that maps routing keys to room actors.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/qiju-live/gameroom/internal/v1/config"
	"github.com/qiju-live/gameroom/internal/v1/logging"
	"github.com/qiju-live/gameroom/internal/v1/metrics"
	"github.com/qiju-live/gameroom/internal/v1/room"
	"github.com/qiju-live/gameroom/internal/v1/store"
	"github.com/qiju-live/gameroom/internal/v1/types"
)

// DefaultRoomID is used when the room query parameter is absent.
const DefaultRoomID = "default"

// Hub is the registry of live room actors. Rooms are created lazily on the
// first connection and torn down after a short grace once empty; their
// durable records stay in the store either way.
type Hub struct {
	mu                  sync.Mutex
	rooms               map[string]types.Roomer
	pendingRoomCleanups map[string]*time.Timer

	store              store.Store
	seatGrace          time.Duration
	cleanupGracePeriod time.Duration
	allowedOrigins     set.Set[string]
}

// NewHub creates a Hub with its dependencies.
func NewHub(st store.Store, cfg *config.Config) *Hub {
	return &Hub{
		rooms:               make(map[string]types.Roomer),
		pendingRoomCleanups: make(map[string]*time.Timer),
		store:               st,
		seatGrace:           cfg.SeatGrace,
		cleanupGracePeriod:  5 * time.Second,
		allowedOrigins:      ParseAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"}),
	}
}

// ParseAllowedOrigins splits a comma-separated origin list, falling back to
// defaults when the raw value is empty.
func ParseAllowedOrigins(raw string, defaults []string) set.Set[string] {
	origins := set.New[string]()
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins.Insert(o)
		}
	}
	if origins.Len() == 0 {
		origins.Insert(defaults...)
	}
	return origins
}

// checkOrigin accepts non-browser clients and any origin whose scheme and
// host match an allowed entry.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.allowedOrigins.UnsortedList() {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// ServeGomoku handles GET /ws: the gomoku upgrade endpoint.
func (h *Hub) ServeGomoku(c *gin.Context) {
	roomID := queryDefault(c, "room", DefaultRoomID)
	h.serve(c, "gm:"+roomID, func(onEmpty func()) types.Roomer {
		return room.NewGomoku(types.RoomIDType(roomID), h.roomOptions(onEmpty))
	})
}

// ServeRelay handles GET /relay: plain relay by default, the xiangqi actor
// when game=xq.
func (h *Hub) ServeRelay(c *gin.Context) {
	roomID := queryDefault(c, "room", DefaultRoomID)
	game := queryDefault(c, "game", "relay")

	if game == "xq" {
		h.serve(c, "xq:"+roomID, func(onEmpty func()) types.Roomer {
			return room.NewXiangqi(types.RoomIDType(roomID), h.roomOptions(onEmpty))
		})
		return
	}
	h.serve(c, game+":"+roomID, func(onEmpty func()) types.Roomer {
		return room.NewRelay(types.RoomIDType(roomID), h.roomOptions(onEmpty))
	})
}

func (h *Hub) roomOptions(onEmpty func()) room.Options {
	return room.Options{
		Store:   h.store,
		Grace:   h.seatGrace,
		OnEmpty: onEmpty,
	}
}

// serve upgrades the request and hands the socket to the target room actor.
// A request that is not a WebSocket upgrade gets 426 Upgrade Required.
func (h *Hub) serve(c *gin.Context, key string, build func(onEmpty func()) types.Roomer) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.String(http.StatusUpgradeRequired, "Upgrade Required")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return
	}

	r := h.getOrCreateRoom(key, build)

	client := NewClient(conn, r, types.ClientIDType(uuid.New().String()))
	metrics.IncConnection()

	token := c.Query("token")
	want := c.Query("want")
	r.HandleOpen(c.Request.Context(), client, token, want)

	go client.WritePump()
	go client.ReadPump()
}

func queryDefault(c *gin.Context, key, fallback string) string {
	if v := c.Query(key); v != "" {
		return v
	}
	return fallback
}

// getOrCreateRoom retrieves the actor for key, cancelling a pending cleanup
// if one is scheduled, or builds a new actor.
func (h *Hub) getOrCreateRoom(key string, build func(onEmpty func()) types.Roomer) types.Roomer {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[key]; ok {
		if timer, pending := h.pendingRoomCleanups[key]; pending {
			timer.Stop()
			delete(h.pendingRoomCleanups, key)
			logging.Info(context.Background(), "Cancelled pending room cleanup due to reconnection", zap.String("key", key))
		}
		return r
	}

	r := build(func() { h.removeRoom(key) })
	h.rooms[key] = r
	metrics.ActiveRooms.WithLabelValues(string(r.Kind())).Inc()
	logging.Info(context.Background(), "Created room actor", zap.String("key", key), zap.String("kind", string(r.Kind())))
	return r
}

// removeRoom schedules deletion of an empty room actor after a grace period
// so a quick refresh does not thrash actor creation. The persisted record is
// untouched; a later connection rebuilds the actor from it.
func (h *Hub) removeRoom(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.pendingRoomCleanups[key]; ok {
		existing.Stop()
		delete(h.pendingRoomCleanups, key)
	}

	timer := time.AfterFunc(h.cleanupGracePeriod, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		r, ok := h.rooms[key]
		if !ok {
			delete(h.pendingRoomCleanups, key)
			return
		}
		if r.Presence() == 0 {
			delete(h.rooms, key)
			delete(h.pendingRoomCleanups, key)
			metrics.ActiveRooms.WithLabelValues(string(r.Kind())).Dec()
			logging.Info(context.Background(), "Removed empty room actor after grace period", zap.String("key", key))
		} else {
			delete(h.pendingRoomCleanups, key)
		}
	})

	h.pendingRoomCleanups[key] = timer
}

// Shutdown closes every room's sockets and waits out the context.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for _, timer := range h.pendingRoomCleanups {
		timer.Stop()
	}
	h.pendingRoomCleanups = make(map[string]*time.Timer)
	rooms := make([]types.Roomer, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.Shutdown(room.CloseReasonShutdown)
	}
	return ctx.Err()
}
