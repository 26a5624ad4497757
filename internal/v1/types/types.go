package types

import "context"

// --- Core Domain Types ---

// RoomKind identifies which actor variant owns a room.
type RoomKind string

const (
	KindGomoku  RoomKind = "gomoku"
	KindXiangqi RoomKind = "xiangqi"
	KindRelay   RoomKind = "relay"
)

// Role is a seat within a game room. Seat A is black in gomoku and red in
// xiangqi; seat B is white in gomoku and black in xiangqi. Spectators hold
// no seat and no token.
type Role int

const (
	RoleSpectator Role = 0
	RoleA         Role = 1
	RoleB         Role = 2
)

// Other returns the opposing seat. Spectator maps to itself.
func (r Role) Other() Role {
	switch r {
	case RoleA:
		return RoleB
	case RoleB:
		return RoleA
	}
	return RoleSpectator
}

// IsPlayer reports whether r is one of the two playable seats.
func (r Role) IsPlayer() bool {
	return r == RoleA || r == RoleB
}

// RoomIDType represents the routing key of a room.
type RoomIDType string

// ClientIDType represents a unique identifier for one socket.
type ClientIDType string

// Attachment is the per-socket metadata stamped on open. It is not a cache
// of identity: the room re-derives the role from Token against the current
// record on every message, which is how a stolen seat instantly revokes the
// former holder's authority.
type Attachment struct {
	Kind  RoomKind
	Role  Role
	Token string
}

// --- Shared Interfaces ---

// ClientInterface defines the behavior required from a WebSocket client.
// This allows the room package to interact with clients without depending
// on the transport package.
type ClientInterface interface {
	GetID() ClientIDType
	Attachment() Attachment
	SetAttachment(Attachment)
	// Send marshals v to JSON and queues it, best-effort.
	Send(v any)
	// SendRaw queues pre-serialized JSON, best-effort.
	SendRaw(data []byte)
	// CloseWithStatus sends a close frame with the given code and reason
	// and tears the connection down.
	CloseWithStatus(code int, reason string)
}

// Roomer defines the room-actor surface the transport layer drives. The
// implementation must serialize the three handlers per room.
type Roomer interface {
	GetID() RoomIDType
	Kind() RoomKind
	HandleOpen(ctx context.Context, client ClientInterface, token, want string)
	HandleMessage(ctx context.Context, client ClientInterface, data []byte)
	HandleClose(ctx context.Context, client ClientInterface)
	Presence() int
	Shutdown(reason string)
}
