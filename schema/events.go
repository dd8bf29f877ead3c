package schema

import "time"

// EventKind identifies the event payload.
type EventKind string

const (
	// KindAny matches every event; used for subscribe-all.
	KindAny EventKind = "*"
	// KindConnected signals an established relay connection.
	KindConnected EventKind = "connected"
	// KindDisconnected signals a lost or closed relay connection.
	KindDisconnected EventKind = "disconnected"
	// KindScreen carries a captured screen frame.
	KindScreen EventKind = "screen"
	// KindKeysReceived carries relay-originated keystrokes.
	KindKeysReceived EventKind = "keysReceived"
	// KindSessionCreated signals a session coming into existence.
	KindSessionCreated EventKind = "sessionCreated"
	// KindSessionKilled signals a session going away.
	KindSessionKilled EventKind = "sessionKilled"
	// KindResizeRequest carries a relay-originated resize.
	KindResizeRequest EventKind = "resizeRequest"
	// KindError carries a transport or protocol error.
	KindError EventKind = "error"
)

// DisconnectReason classifies why the relay connection ended.
type DisconnectReason string

const (
	DisconnectNormal         DisconnectReason = "normal"
	DisconnectConnectionLost DisconnectReason = "connectionLost"
	DisconnectAuthFailed     DisconnectReason = "authFailed"
	DisconnectCircuitBreaker DisconnectReason = "circuitBreaker"
	DisconnectServerError    DisconnectReason = "serverError"
)

// Event is the tagged variant published on the bus. Kind selects which
// payload fields are meaningful; Time is stamped at creation.
type Event struct {
	Kind EventKind
	Time time.Time

	// Connected
	MachineID string

	// Disconnected
	Reason DisconnectReason
	Detail string

	// Screen, KeysReceived, SessionCreated, SessionKilled, ResizeRequest
	Session string

	// Screen
	Frame Frame

	// KeysReceived
	Keys  string
	Enter bool

	// ResizeRequest
	Cols int
	Rows int

	// Error
	Err AgentError
}

// NewConnectedEvent reports a completed relay handshake.
func NewConnectedEvent(machineID string) Event {
	return Event{Kind: KindConnected, Time: time.Now(), MachineID: machineID}
}

// NewDisconnectedEvent reports a closed relay connection.
func NewDisconnectedEvent(reason DisconnectReason, detail string) Event {
	return Event{Kind: KindDisconnected, Time: time.Now(), Reason: reason, Detail: detail}
}

// NewScreenEvent carries a captured frame.
func NewScreenEvent(frame Frame) Event {
	return Event{Kind: KindScreen, Time: time.Now(), Session: frame.Session, Frame: frame}
}

// NewKeysReceivedEvent carries relay-originated keystrokes.
func NewKeysReceivedEvent(session, keys string, enter bool) Event {
	return Event{Kind: KindKeysReceived, Time: time.Now(), Session: session, Keys: keys, Enter: enter}
}

// NewSessionCreatedEvent reports a created session.
func NewSessionCreatedEvent(session string) Event {
	return Event{Kind: KindSessionCreated, Time: time.Now(), Session: session}
}

// NewSessionKilledEvent reports a killed session.
func NewSessionKilledEvent(session string) Event {
	return Event{Kind: KindSessionKilled, Time: time.Now(), Session: session}
}

// NewResizeRequestEvent carries a relay-originated resize.
func NewResizeRequestEvent(session string, cols, rows int) Event {
	return Event{Kind: KindResizeRequest, Time: time.Now(), Session: session, Cols: cols, Rows: rows}
}

// NewErrorEvent carries a coded error.
func NewErrorEvent(code, message string) Event {
	return Event{Kind: KindError, Time: time.Now(), Err: AgentError{Code: code, Message: message}}
}
