package domain

// SessionState is the negotiation progress of one signaling connection.
// States are ordered; a session only moves forward until it disconnects.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateJoined
	StateNegotiating
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateJoined:
		return "joined"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	}
	return "unknown"
}
