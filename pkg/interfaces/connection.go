package interfaces

import "classroom/pkg/types"

// Connection represents one live transport session bound to a verified identity
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and room coordination
type Connection interface {
	// ID returns the transport handle, unique per physical connection.
	// Two connections of the same user have different IDs.
	ID() string

	// Identity returns the authenticated principal
	Identity() types.Identity

	// Send queues an event for delivery (thread-safe, best effort)
	Send(event types.Event) error

	// Close closes the connection and cleans up resources
	Close() error
}

// Authenticator verifies a credential presented at connection time
type Authenticator interface {
	// Verify returns the identity encoded in token or an error wrapping ErrAuthRejected
	Verify(token string) (types.Identity, error)
}
