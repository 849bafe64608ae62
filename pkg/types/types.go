package types

import (
	"encoding/json"
	"time"
)

// Realtime event names carried in Envelope.Event
// FUNCTIONAL DISCOVERY: Event names match what existing socket clients already emit
const (
	EventConnected   = "connected"
	EventChatMessage = "chat message"
	EventHistory     = "history"
	EventError       = "error"
)

// UndecryptableMarker replaces the body of a history record whose ciphertext
// cannot be decrypted with the current key
const UndecryptableMarker = "[undecryptable message]"

// ConnectionState is the lifecycle state of one realtime session
type ConnectionState string

const (
	ConnectionStatePending  ConnectionState = "pending"
	ConnectionStateAdmitted ConnectionState = "admitted"
	ConnectionStateRejected ConnectionState = "rejected"
	ConnectionStateClosed   ConnectionState = "closed"
)

// ChatMessage is one persisted chat event
// ARCHITECTURAL DISCOVERY: Only ciphertext ever reaches the store; plaintext lives
// on the submit path and in decrypted history entries, never both in one record on disk
type ChatMessage struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Location   string    `json:"location"`
	Ciphertext string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// MaxMessageBytes caps the UTF-8 length of a chat message body; must match the
// maxbytes tag on ChatSubmission.Message
const MaxMessageBytes = 64 * 1024

// ChatSubmission is the client payload of a "chat message" event or POST /chat
type ChatSubmission struct {
	Username string `json:"username" validate:"required,max=50"`
	Location string `json:"location" validate:"required,max=200"`
	Message  string `json:"message" validate:"maxbytes=65536"`
}

// ChatBroadcast is what every admitted connection receives after a commit
type ChatBroadcast struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Location  string    `json:"location"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// BroadcastResult reports the stored record's identity and fan-out outcome
type BroadcastResult struct {
	SequenceID int64     `json:"sequence_id"`
	Timestamp  time.Time `json:"timestamp"`
	Delivered  int       `json:"delivered"`
	Failed     int       `json:"failed"`
}

// HistoryEntry is one decrypted record returned by the history service
// FUNCTIONAL DISCOVERY: Valid=false marks a record kept in place with UndecryptableMarker
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Location  string    `json:"location"`
	Plaintext string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Valid     bool      `json:"valid"`
}

// User is a registered account as exposed outside the account package
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthResult is returned by a successful login or registration
type AuthResult struct {
	User      *User     `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Envelope frames every websocket message in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEnvelope is the server-side form of Envelope with a typed payload
type OutboundEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ConnectedPayload is sent once to a connection right after admission
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

// ErrorPayload is the data of an "error" event sent to a single connection
type ErrorPayload struct {
	Message string `json:"message"`
}
