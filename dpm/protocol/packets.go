package protocol

import (
	"fmt"
	"io"

	"github.com/TheusHen/DPM/dpm/identity"
	"github.com/TheusHen/DPM/dpm/vault"
)

// Packet is a typed message carried in one frame.
type Packet interface {
	Type() MessageType
	MarshalBinary() ([]byte, error)
}

// Identity announces the sender's NodeID.
type Identity struct {
	NodeID identity.NodeID
}

// HandshakeParams carries the PAKE commitment.
type HandshakeParams struct {
	Scalar  []byte
	Element []byte
}

// HandshakeToken carries the PAKE confirmation token.
type HandshakeToken struct {
	Token []byte
}

// DiscoveryRequest asks every node of a network to answer.
type DiscoveryRequest struct {
	NetworkID identity.NetworkID
	// Sender is a random id of the requesting service. With multicast
	// loopback on, a node hears its own requests and drops them by this id.
	Sender uint64
}

// DiscoveryEcho names the port of a server opened for the requester.
type DiscoveryEcho struct {
	Port uint16
}

// GetFragment asks a peer for its fragment.
type GetFragment struct {
	NetworkID identity.NetworkID
}

// Fragment carries one vault fragment.
type Fragment struct {
	vault.Fragment
}

// Sealed is an AEAD-encrypted frame.
type Sealed struct {
	Ciphertext []byte
}

func (Identity) Type() MessageType         { return MessageTypeIdentity }
func (HandshakeParams) Type() MessageType  { return MessageTypeHandshakeParams }
func (HandshakeToken) Type() MessageType   { return MessageTypeHandshakeToken }
func (DiscoveryRequest) Type() MessageType { return MessageTypeDiscoveryRequest }
func (DiscoveryEcho) Type() MessageType    { return MessageTypeDiscoveryEcho }
func (GetFragment) Type() MessageType      { return MessageTypeGetFragment }
func (Fragment) Type() MessageType         { return MessageTypeFragment }
func (Sealed) Type() MessageType           { return MessageTypeSealed }

func (p Identity) MarshalBinary() ([]byte, error) {
	var w writer
	w.raw(p.NodeID[:])
	return w.buf, nil
}

func (p HandshakeParams) MarshalBinary() ([]byte, error) {
	var w writer
	w.bytes(p.Scalar)
	w.bytes(p.Element)
	return w.buf, nil
}

func (p HandshakeToken) MarshalBinary() ([]byte, error) {
	var w writer
	w.bytes(p.Token)
	return w.buf, nil
}

func (p DiscoveryRequest) MarshalBinary() ([]byte, error) {
	var w writer
	w.raw(p.NetworkID[:])
	w.u64(p.Sender)
	return w.buf, nil
}

func (p DiscoveryEcho) MarshalBinary() ([]byte, error) {
	var w writer
	w.u16(p.Port)
	return w.buf, nil
}

func (p GetFragment) MarshalBinary() ([]byte, error) {
	var w writer
	w.raw(p.NetworkID[:])
	return w.buf, nil
}

func (p Sealed) MarshalBinary() ([]byte, error) {
	var w writer
	w.raw(p.Ciphertext)
	return w.buf, nil
}

// Encode wraps p in a frame.
func Encode(p Packet) (Frame, error) {
	payload, err := p.MarshalBinary()
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: p.Type(), Payload: payload}, nil
}

// Decode parses the packet held by f.
func Decode(f Frame) (Packet, error) {
	r := &reader{b: f.Payload}
	var p Packet
	switch f.Type {
	case MessageTypeIdentity:
		id, err := identity.NodeIDFromBytes(r.raw(16))
		if err != nil && r.err == nil {
			r.err = fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		p = Identity{NodeID: id}
	case MessageTypeHandshakeParams:
		p = HandshakeParams{Scalar: r.bytes(), Element: r.bytes()}
	case MessageTypeHandshakeToken:
		p = HandshakeToken{Token: r.bytes()}
	case MessageTypeDiscoveryRequest:
		var req DiscoveryRequest
		copy(req.NetworkID[:], r.take(len(req.NetworkID)))
		req.Sender = r.u64()
		p = req
	case MessageTypeDiscoveryEcho:
		p = DiscoveryEcho{Port: r.u16()}
	case MessageTypeGetFragment:
		var req GetFragment
		copy(req.NetworkID[:], r.take(len(req.NetworkID)))
		p = req
	case MessageTypeFragment:
		frag, err := vault.UnmarshalFragment(r.rest())
		if err != nil && r.err == nil {
			r.err = fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		p = Fragment{Fragment: frag}
	case MessageTypeSealed:
		p = Sealed{Ciphertext: r.rest()}
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, f.Type)
	}
	if err := r.finish(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Type, err)
	}
	return p, nil
}

func WritePacket(w io.Writer, p Packet) error {
	f, err := Encode(p)
	if err != nil {
		return err
	}
	return WriteFrame(w, f)
}

func ReadPacket(r io.Reader) (Packet, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(f)
}

// MarshalPacket returns the datagram form of p.
func MarshalPacket(p Packet) ([]byte, error) {
	f, err := Encode(p)
	if err != nil {
		return nil, err
	}
	return MarshalFrame(f)
}

// UnmarshalPacket parses a datagram produced by MarshalPacket.
func UnmarshalPacket(b []byte) (Packet, error) {
	f, err := UnmarshalFrame(b)
	if err != nil {
		return nil, err
	}
	return Decode(f)
}
