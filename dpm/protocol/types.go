package protocol

type MessageType uint8

const (
	MessageTypeIdentity         MessageType = 1
	MessageTypeHandshakeParams  MessageType = 2
	MessageTypeHandshakeToken   MessageType = 3
	MessageTypeDiscoveryRequest MessageType = 4
	MessageTypeDiscoveryEcho    MessageType = 5
	MessageTypeGetFragment      MessageType = 6
	MessageTypeFragment         MessageType = 7
	MessageTypeSealed           MessageType = 8
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeIdentity:
		return "IDENTITY"
	case MessageTypeHandshakeParams:
		return "HANDSHAKE_PARAMS"
	case MessageTypeHandshakeToken:
		return "HANDSHAKE_TOKEN"
	case MessageTypeDiscoveryRequest:
		return "DISCOVERY_REQUEST"
	case MessageTypeDiscoveryEcho:
		return "DISCOVERY_ECHO"
	case MessageTypeGetFragment:
		return "GET_FRAGMENT"
	case MessageTypeFragment:
		return "FRAGMENT"
	case MessageTypeSealed:
		return "SEALED"
	default:
		return "UNKNOWN"
	}
}
