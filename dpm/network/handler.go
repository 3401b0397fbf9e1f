package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheusHen/DPM/dpm/identity"
	"github.com/TheusHen/DPM/dpm/protocol"
	"github.com/TheusHen/DPM/dpm/session"
	"github.com/TheusHen/DPM/dpm/vault"
)

// ServeRequest answers the single request of an authenticated peer.
func (c *Controller) ServeRequest(_ context.Context, remote identity.NodeID, req protocol.Packet) (protocol.Packet, error) {
	log := c.log.With().Str("remote", remote.String()).Logger()
	switch req := req.(type) {
	case protocol.Fragment:
		if err := req.Fragment.Validate(); err != nil {
			return nil, err
		}
		if err := c.cfg.Store.Save(req.Fragment); err != nil {
			log.Error().Err(err).Msg("cannot save received fragment")
			return nil, err
		}
		log.Info().Int("size", int(req.TotalSize)).Msg("stored fragment from peer")
		return nil, nil

	case protocol.GetFragment:
		if !req.NetworkID.Equal(c.cfg.Props.NetworkID) {
			log.Debug().Msg("fragment request for a foreign network")
			return nil, nil
		}
		frag, err := c.cfg.Store.Load()
		if errors.Is(err, vault.ErrNoFragment) {
			return protocol.Fragment{}, nil
		}
		if err != nil {
			log.Error().Err(err).Msg("cannot load local fragment")
			return nil, err
		}
		return protocol.Fragment{Fragment: frag}, nil

	default:
		return nil, fmt.Errorf("%w: %T", session.ErrUnexpectedPacket, req)
	}
}
