package session

import (
	"errors"
	"fmt"

	"github.com/TheusHen/DPM/dpm/identity"
	"github.com/TheusHen/DPM/dpm/pake"
	"github.com/TheusHen/DPM/dpm/protocol"
)

type role int

const (
	roleClient role = iota
	roleServer
)

// exchange runs one handshake stage: the client sends then receives, the
// server receives then sends.
func exchange(ch *channel, r role, out protocol.Packet) (protocol.Packet, error) {
	if r == roleClient {
		if err := ch.send(out); err != nil {
			return nil, err
		}
		return ch.recv(out.Type())
	}
	in, err := ch.recv(out.Type())
	if err != nil {
		return nil, err
	}
	if err := ch.send(out); err != nil {
		return nil, err
	}
	return in, nil
}

func authError(state State, err error) error {
	return &OpError{Op: "handshake", State: state, Err: fmt.Errorf("%w: %w", ErrAuthentication, err)}
}

// handshake authenticates the peer with the PAKE engine and returns the
// session key. Each stage is bounded by opts.HandshakeTimeout.
func handshake(ch *channel, r role, opts Options, setState func(State)) ([]byte, identity.NodeID, error) {
	var none identity.NodeID

	setState(StateHandshakeIdentity)
	if err := ch.arm(opts.HandshakeTimeout); err != nil {
		return nil, none, authError(StateHandshakeIdentity, ch.fail(err))
	}
	in, err := exchange(ch, r, protocol.Identity{NodeID: opts.LocalID})
	if err != nil {
		return nil, none, authError(StateHandshakeIdentity, err)
	}
	remoteID := in.(protocol.Identity).NodeID

	sess, err := opts.Engine.InitiateSession(opts.LocalID, remoteID)
	if err != nil {
		if errors.Is(err, pake.ErrSameIdentity) {
			return nil, none, authError(StateHandshakeIdentity, err)
		}
		// derivation failures are not the peer's fault
		return nil, none, &OpError{Op: "handshake", State: StateHandshakeIdentity, Err: err}
	}
	defer sess.Wipe()

	setState(StateHandshakeParameters)
	if err := ch.arm(opts.HandshakeTimeout); err != nil {
		return nil, none, authError(StateHandshakeParameters, ch.fail(err))
	}
	local := sess.Parameters()
	in, err = exchange(ch, r, protocol.HandshakeParams{Scalar: local.Scalar, Element: local.Element})
	if err != nil {
		return nil, none, authError(StateHandshakeParameters, err)
	}
	hp := in.(protocol.HandshakeParams)
	remote := pake.Parameters{Scalar: hp.Scalar, Element: hp.Element}

	token, err := sess.GenerateToken(remote)
	if err != nil {
		return nil, none, authError(StateHandshakeParameters, err)
	}

	setState(StateHandshakeToken)
	if err := ch.arm(opts.HandshakeTimeout); err != nil {
		return nil, none, authError(StateHandshakeToken, ch.fail(err))
	}
	var key []byte
	if r == roleClient {
		if err := ch.send(protocol.HandshakeToken{Token: token}); err != nil {
			return nil, none, authError(StateHandshakeToken, err)
		}
		in, err := ch.recv(protocol.MessageTypeHandshakeToken)
		if err != nil {
			return nil, none, authError(StateHandshakeToken, err)
		}
		if key, err = sess.ValidateToken(in.(protocol.HandshakeToken).Token, remote); err != nil {
			return nil, none, authError(StateHandshakeToken, err)
		}
	} else {
		// The server only confirms after the client proved knowledge of the secret.
		in, err := ch.recv(protocol.MessageTypeHandshakeToken)
		if err != nil {
			return nil, none, authError(StateHandshakeToken, err)
		}
		if key, err = sess.ValidateToken(in.(protocol.HandshakeToken).Token, remote); err != nil {
			return nil, none, authError(StateHandshakeToken, err)
		}
		if err := ch.send(protocol.HandshakeToken{Token: token}); err != nil {
			return nil, none, authError(StateHandshakeToken, err)
		}
	}

	setState(StateAuthenticated)
	return key, remoteID, nil
}
