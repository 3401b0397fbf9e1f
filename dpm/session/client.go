package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/TheusHen/DPM/dpm/crypto"
	"github.com/TheusHen/DPM/dpm/protocol"
	"github.com/TheusHen/DPM/dpm/transport/quic"
)

// Result is the outcome of one connection.
type Result struct {
	Dest     netip.AddrPort
	Response protocol.Packet
	Err      error
}

// Client is the connecting side of a secure connection. It carries exactly one
// request and, optionally, one response.
type Client struct {
	dest         netip.AddrPort
	opts         Options
	log          zerolog.Logger
	request      protocol.Packet
	wantResponse bool
	state        atomic.Int32
}

// NewClient prepares a connection to dest. Nothing happens until Run.
func NewClient(dest netip.AddrPort, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		dest: dest,
		opts: opts,
		log:  opts.Logger.With().Str("peer", dest.String()).Logger(),
	}
}

// SetRequest queues the packet sent once the peer is authenticated.
func (c *Client) SetRequest(p protocol.Packet, wantResponse bool) {
	c.request = p
	c.wantResponse = wantResponse
}

func (c *Client) Dest() netip.AddrPort { return c.dest }

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	c.log.Trace().Stringer("state", s).Msg("connection state")
}

// Run drives the connection to completion. It always ends in StateClosed.
func (c *Client) Run(ctx context.Context) Result {
	resp, err := c.run(ctx)
	c.setState(StateClosed)
	if err != nil {
		c.log.Debug().Err(err).Msg("connection failed")
	}
	return Result{Dest: c.dest, Response: resp, Err: err}
}

func (c *Client) fail(op string, err error) error {
	return &OpError{Op: op, State: c.State(), Err: classify(err)}
}

func (c *Client) run(ctx context.Context) (protocol.Packet, error) {
	if c.request == nil {
		return nil, ErrNoRequest
	}

	c.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	conn, err := quic.Dial(dialCtx, c.dest.String(), c.opts.transport())
	if err != nil {
		return nil, c.fail("connect", err)
	}
	defer conn.CloseWithError(codeOK, "")

	st, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		return nil, c.fail("connect", err)
	}
	cancel()

	ch := newChannel(ctx, st)
	defer ch.close()

	key, remote, err := handshake(ch, roleClient, c.opts, c.setState)
	if err != nil {
		_ = conn.CloseWithError(codeAuthFailed, "authentication failed")
		return nil, err
	}
	ch.aead, err = crypto.NewAEAD(key)
	crypto.Zero(key)
	if err != nil {
		return nil, c.fail("authenticate", err)
	}
	c.log.Debug().Str("remote", remote.String()).Msg("peer authenticated")

	c.setState(StateSending)
	if err := ch.arm(c.opts.TransferTimeout); err != nil {
		return nil, c.fail("send", err)
	}
	if err := ch.sendSealed(c.request); err != nil {
		return nil, c.fail("send", err)
	}
	if err := st.Close(); err != nil {
		return nil, c.fail("send", err)
	}

	if !c.wantResponse {
		// the server closes its side once the request has been handled
		if err := ch.drain(); err != nil {
			return nil, c.fail("send", err)
		}
		return nil, nil
	}

	c.setState(StateReceiving)
	resp, err := ch.recvSealed()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(classify(err), ErrTimedOut) {
			return nil, c.fail("receive", fmt.Errorf("%w: %w", ErrNoResponse, err))
		}
		return nil, c.fail("receive", err)
	}
	return resp, nil
}
