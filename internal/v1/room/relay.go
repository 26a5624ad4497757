package room

import (
	"context"
	"encoding/json"

	"github.com/qiju-live/gameroom/internal/v1/types"
)

// Relay is the stateless room variant: it holds nothing but the connection
// set and mirrors every parseable frame to all attached sockets. No seats,
// no authority, no persistence.
type Relay struct {
	base
}

// NewRelay creates a relay room actor for the given routing key.
func NewRelay(id types.RoomIDType, opts Options) *Relay {
	return &Relay{base: newBase(id, types.KindRelay, "relay", opts)}
}

// HandleOpen admits the socket and announces presence. Token and want are
// ignored; everyone in a relay room is equal.
func (r *Relay) HandleOpen(ctx context.Context, client types.ClientInterface, _, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.admitLocked(client)
	client.SetAttachment(types.Attachment{Kind: types.KindRelay})
	r.broadcastPresenceLocked(ctx)
}

// HandleMessage re-broadcasts the frame verbatim when it parses as JSON.
func (r *Relay) HandleMessage(ctx context.Context, client types.ClientInterface, data []byte) {
	if !json.Valid(data) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastRawLocked(data)
}

// HandleClose drops the socket and announces the new presence count.
func (r *Relay) HandleClose(ctx context.Context, client types.ClientInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(client)
	r.broadcastPresenceLocked(ctx)
	r.notifyIfEmptyLocked()
}

// Shutdown force-closes every socket in the room.
func (r *Relay) Shutdown(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdownLocked(reason)
}
