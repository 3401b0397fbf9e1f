package session

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/TheusHen/DPM/dpm/identity"
	"github.com/TheusHen/DPM/dpm/pake"
	"github.com/TheusHen/DPM/dpm/transport/quic"
)

const (
	DefaultConnectTimeout   = 2 * time.Second
	DefaultHandshakeTimeout = 3 * time.Second
	DefaultTransferTimeout  = 10 * time.Second
	DefaultAcceptTimeout    = 10 * time.Second
)

// Options configures both ends of a secure connection.
type Options struct {
	LocalID identity.NodeID
	Engine  *pake.Engine

	// ConnectTimeout bounds dialing, including the transport handshake.
	ConnectTimeout time.Duration
	// HandshakeTimeout bounds each PAKE stage separately.
	HandshakeTimeout time.Duration
	// TransferTimeout bounds sending the request and receiving the response.
	TransferTimeout time.Duration
	// AcceptTimeout bounds how long a server waits for its single client.
	AcceptTimeout time.Duration

	Logger zerolog.Logger
}

func DefaultOptions(local identity.NodeID, engine *pake.Engine) Options {
	return Options{
		LocalID:          local,
		Engine:           engine,
		ConnectTimeout:   DefaultConnectTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		TransferTimeout:  DefaultTransferTimeout,
		AcceptTimeout:    DefaultAcceptTimeout,
		Logger:           zerolog.Nop(),
	}
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.TransferTimeout <= 0 {
		o.TransferTimeout = DefaultTransferTimeout
	}
	if o.AcceptTimeout <= 0 {
		o.AcceptTimeout = DefaultAcceptTimeout
	}
	return o
}

func (o Options) transport() quic.Config {
	return quic.Config{
		HandshakeIdleTimeout: o.ConnectTimeout,
		MaxIdleTimeout:       o.TransferTimeout + 3*o.HandshakeTimeout,
	}
}
