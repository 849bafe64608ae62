package interfaces

import "securechat/pkg/types"

// Connection represents one live realtime session
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details
// lets the registry and router run against fakes in tests
type Connection interface {
	// ID returns the opaque identifier assigned at connect time
	ID() string

	// Send queues a JSON payload for the connection's writer goroutine
	// FUNCTIONAL DISCOVERY: Send never blocks on the network; a slow peer
	// surfaces as an error instead of stalling fan-out to other peers
	Send(v interface{}) error

	// Close tears down the transport; safe to call more than once
	Close() error

	// State reports the admission lifecycle state
	State() types.ConnectionState

	// SetState is called by the registry on admit, reject and release
	SetState(state types.ConnectionState)
}
