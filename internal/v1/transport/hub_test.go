package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiju-live/gameroom/internal/v1/config"
	"github.com/qiju-live/gameroom/internal/v1/types"
)

func newTestHub() *Hub {
	return NewHub(nil, &config.Config{
		SeatGrace:      3 * time.Minute,
		AllowedOrigins: "http://localhost:3000,https://play.example.com",
	})
}

func newTestRouter(h *Hub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", h.ServeGomoku)
	router.GET("/relay", h.ServeRelay)
	return router
}

func TestParseAllowedOrigins(t *testing.T) {
	t.Run("splits and trims", func(t *testing.T) {
		origins := ParseAllowedOrigins(" http://a.com , http://b.com ", nil)
		assert.True(t, origins.Has("http://a.com"))
		assert.True(t, origins.Has("http://b.com"))
		assert.Equal(t, 2, origins.Len())
	})

	t.Run("falls back to defaults when empty", func(t *testing.T) {
		origins := ParseAllowedOrigins("", []string{"http://localhost:3000"})
		assert.True(t, origins.Has("http://localhost:3000"))
	})
}

func TestCheckOrigin(t *testing.T) {
	h := newTestHub()

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin header", "", true},
		{"allowed origin", "http://localhost:3000", true},
		{"second allowed origin", "https://play.example.com", true},
		{"scheme mismatch", "https://localhost:3000", false},
		{"unknown host", "http://evil.example.com", false},
		{"garbage origin", "://broken", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, h.checkOrigin(r))
		})
	}
}

func TestNonUpgradeRequestGets426(t *testing.T) {
	router := newTestRouter(newTestHub())

	for _, path := range []string{"/ws", "/relay", "/relay?game=xq"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUpgradeRequired, w.Code, path)
	}
}

func TestGetOrCreateRoom(t *testing.T) {
	h := newTestHub()

	build := func(key string) func(onEmpty func()) types.Roomer {
		return func(func()) types.Roomer { return &roomStub{key: key} }
	}

	r1 := h.getOrCreateRoom("gm:a", build("gm:a"))
	r2 := h.getOrCreateRoom("gm:a", build("gm:a"))
	assert.Same(t, any(r1), any(r2), "same key reuses the live actor")

	r3 := h.getOrCreateRoom("xq:a", build("xq:a"))
	assert.NotSame(t, any(r1), any(r3), "kind is part of the key")
	assert.Equal(t, types.RoomIDType("gm:a"), r1.GetID())
	assert.Equal(t, types.RoomIDType("xq:a"), r3.GetID())
}

func TestRemoveRoomGraceAndCancel(t *testing.T) {
	h := newTestHub()
	h.cleanupGracePeriod = 20 * time.Millisecond

	build := func(onEmpty func()) types.Roomer {
		return &roomStub{key: "stub"}
	}

	t.Run("empty room is removed after the grace period", func(t *testing.T) {
		h.getOrCreateRoom("gm:x", build)
		h.removeRoom("gm:x")

		assert.Eventually(t, func() bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			_, ok := h.rooms["gm:x"]
			return !ok
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("a reconnection cancels the pending cleanup", func(t *testing.T) {
		first := h.getOrCreateRoom("gm:y", build)
		h.removeRoom("gm:y")
		second := h.getOrCreateRoom("gm:y", build)
		assert.Same(t, any(first), any(second))

		time.Sleep(50 * time.Millisecond)
		h.mu.Lock()
		_, ok := h.rooms["gm:y"]
		h.mu.Unlock()
		assert.True(t, ok, "the cancelled timer must not fire")
	})
}

// roomStub is the minimal Roomer for registry tests. The key field keeps
// distinct stubs at distinct addresses so pointer-identity asserts hold.
type roomStub struct{ key string }

func (s *roomStub) GetID() types.RoomIDType { return types.RoomIDType(s.key) }
func (*roomStub) Kind() types.RoomKind      { return types.KindGomoku }
func (*roomStub) Presence() int             { return 0 }
func (*roomStub) Shutdown(string)           {}
func (*roomStub) HandleOpen(context.Context, types.ClientInterface, string, string) {
}
func (*roomStub) HandleMessage(context.Context, types.ClientInterface, []byte) {}
func (*roomStub) HandleClose(context.Context, types.ClientInterface)           {}

func TestWebSocketEndToEnd(t *testing.T) {
	h := newTestHub()
	srv := httptest.NewServer(newTestRouter(h))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	t.Run("gomoku join receives init then seat state", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws?room=e2e", nil)
		require.NoError(t, err)
		defer conn.Close()
		defer resp.Body.Close()

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var init map[string]any
		require.NoError(t, json.Unmarshal(data, &init))
		assert.Equal(t, "init", init["type"])
		assert.EqualValues(t, 1, init["you"], "first socket takes seat A")
		assert.NotEmpty(t, init["token"])
	})

	t.Run("relay game=xq routes to the xiangqi actor", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"/relay?room=e2e&game=xq", nil)
		require.NoError(t, err)
		defer conn.Close()
		defer resp.Body.Close()

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var init map[string]any
		require.NoError(t, json.Unmarshal(data, &init))
		assert.Equal(t, "init", init["type"], "xiangqi rooms greet with init")

		h.mu.Lock()
		_, ok := h.rooms["xq:e2e"]
		h.mu.Unlock()
		assert.True(t, ok)
	})

	t.Run("plain relay routes to the relay actor", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"/relay?room=e2e", nil)
		require.NoError(t, err)
		defer conn.Close()
		defer resp.Body.Close()

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "presence", msg["type"], "relay rooms have no init")

		h.mu.Lock()
		_, ok := h.rooms["relay:e2e"]
		h.mu.Unlock()
		assert.True(t, ok)
	})
}

func TestHubShutdownClosesRooms(t *testing.T) {
	h := newTestHub()
	srv := httptest.NewServer(newTestRouter(h))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws?room=shutdown", nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.NoError(t, h.Shutdown(context.Background()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if assert.ErrorAs(t, err, &closeErr) {
				assert.Equal(t, "shutdown", closeErr.Text)
			}
			return
		}
	}
}
