package session

// State is the lifecycle position of a secure connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateHandshakeIdentity
	StateHandshakeParameters
	StateHandshakeToken
	StateAuthenticated
	StateSending
	StateReceiving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshakeIdentity:
		return "HANDSHAKE_IDENTITY"
	case StateHandshakeParameters:
		return "HANDSHAKE_PARAMETERS"
	case StateHandshakeToken:
		return "HANDSHAKE_TOKEN"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateSending:
		return "SENDING"
	case StateReceiving:
		return "RECEIVING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
