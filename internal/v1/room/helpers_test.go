package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/qiju-live/gameroom/internal/v1/store"
	"github.com/qiju-live/gameroom/internal/v1/types"
	"github.com/qiju-live/gameroom/internal/v1/xiangqi"
)

func pt(r, c int) xiangqi.Point { return xiangqi.Point{R: r, C: c} }

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/redis/go-redis/v9/internal/pool.(*ConnPool).reaper"),
	)
}

// fakeClient records everything the room pushes at it.
type fakeClient struct {
	id types.ClientIDType

	mu     sync.Mutex
	att    types.Attachment
	frames []map[string]any

	closed      bool
	closeCode   int
	closeReason string
}

var clientSeq int

func newFakeClient() *fakeClient {
	clientSeq++
	return &fakeClient{id: types.ClientIDType(fmt.Sprintf("client-%d", clientSeq))}
}

func (c *fakeClient) GetID() types.ClientIDType { return c.id }

func (c *fakeClient) Attachment() types.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.att
}

func (c *fakeClient) SetAttachment(att types.Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.att = att
}

func (c *fakeClient) Send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.SendRaw(data)
}

func (c *fakeClient) SendRaw(data []byte) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, msg)
}

func (c *fakeClient) CloseWithStatus(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
}

// received returns every frame of the given type, in arrival order.
func (c *fakeClient) received(msgType string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, f := range c.frames {
		if f["type"] == msgType {
			out = append(out, f)
		}
	}
	return out
}

// last returns the most recent frame of the given type.
func (c *fakeClient) last(t *testing.T, msgType string) map[string]any {
	t.Helper()
	frames := c.received(msgType)
	require.NotEmpty(t, frames, "expected a %q frame", msgType)
	return frames[len(frames)-1]
}

// frameTypes returns the type sequence of every received frame.
func (c *fakeClient) frameTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = fmt.Sprint(f["type"])
	}
	return out
}

func (c *fakeClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *fakeClient) token() string { return c.Attachment().Token }

// testStore spins up a miniredis-backed store so persistence round-trips are
// exercised for real.
func testStore(t *testing.T) *store.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewRedisStoreFromClient(rdb)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// fixedClock returns a controllable now func starting at a fixed instant.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func send(t *testing.T, r types.Roomer, c types.ClientInterface, msg map[string]any) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	r.HandleMessage(context.Background(), c, data)
}
