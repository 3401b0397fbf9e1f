package session

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheusHen/DPM/dpm/crypto"
	"github.com/TheusHen/DPM/dpm/identity"
	"github.com/TheusHen/DPM/dpm/protocol"
	"github.com/TheusHen/DPM/dpm/transport/quic"
)

// Handler answers the single request of an authenticated connection.
// A nil response closes the connection without sending anything back.
type Handler interface {
	ServeRequest(ctx context.Context, remote identity.NodeID, req protocol.Packet) (protocol.Packet, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, remote identity.NodeID, req protocol.Packet) (protocol.Packet, error)

func (f HandlerFunc) ServeRequest(ctx context.Context, remote identity.NodeID, req protocol.Packet) (protocol.Packet, error) {
	return f(ctx, remote, req)
}

// Server is the listening side of a secure connection. It is bound to an
// ephemeral port and serves exactly one client.
type Server struct {
	ln      *quic.Listener
	opts    Options
	handler Handler
	log     zerolog.Logger
	state   atomic.Int32
}

// Listen opens an ephemeral server on host.
func Listen(host string, opts Options, h Handler) (*Server, error) {
	opts = opts.withDefaults()
	ln, err := quic.Listen(net.JoinHostPort(host, "0"), opts.transport())
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, opts: opts, handler: h}
	s.log = opts.Logger.With().Uint16("port", s.Port()).Logger()
	return s, nil
}

func (s *Server) Port() uint16 { return s.ln.Port() }

func (s *Server) State() State { return State(s.state.Load()) }

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
	s.log.Trace().Stringer("state", st).Msg("connection state")
}

func (s *Server) fail(op string, err error) error {
	return &OpError{Op: op, State: s.State(), Err: classify(err)}
}

// Close releases the listener without serving.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts one client within AcceptTimeout, authenticates it, and
// answers its request. The listener is closed when Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	err := s.serve(ctx)
	s.setState(StateClosed)
	_ = s.ln.Close()
	if err != nil {
		s.log.Debug().Err(err).Msg("serve failed")
	}
	return err
}

func (s *Server) serve(ctx context.Context) error {
	s.setState(StateConnecting)
	acceptCtx, cancel := context.WithTimeout(ctx, s.opts.AcceptTimeout)
	defer cancel()
	conn, err := s.ln.Accept(acceptCtx)
	if err != nil {
		return s.fail("accept", err)
	}
	defer conn.CloseWithError(codeOK, "")

	st, err := conn.AcceptStream(acceptCtx)
	if err != nil {
		return s.fail("accept", err)
	}
	cancel()

	ch := newChannel(ctx, st)
	defer ch.close()

	key, remote, err := handshake(ch, roleServer, s.opts, s.setState)
	if err != nil {
		_ = conn.CloseWithError(codeAuthFailed, "authentication failed")
		return err
	}
	ch.aead, err = crypto.NewAEAD(key)
	crypto.Zero(key)
	if err != nil {
		return s.fail("authenticate", err)
	}

	s.setState(StateReceiving)
	if err := ch.arm(s.opts.TransferTimeout); err != nil {
		return s.fail("receive", err)
	}
	req, err := ch.recvSealed()
	if err != nil {
		_ = conn.CloseWithError(codeRequestFailed, "request failed")
		return s.fail("receive", err)
	}

	resp, err := s.handler.ServeRequest(ctx, remote, req)
	if err != nil {
		_ = conn.CloseWithError(codeRequestFailed, "request failed")
		return s.fail("handle", err)
	}

	s.setState(StateSending)
	if resp != nil {
		if err := ch.arm(s.opts.TransferTimeout); err != nil {
			return s.fail("send", err)
		}
		if err := ch.sendSealed(resp); err != nil {
			return s.fail("send", err)
		}
	}
	if err := st.Close(); err != nil {
		return s.fail("send", err)
	}

	// Stay open until the client has read everything and hung up.
	t := time.NewTimer(s.opts.TransferTimeout)
	defer t.Stop()
	select {
	case <-conn.Context().Done():
	case <-t.C:
	case <-ctx.Done():
	}
	return nil
}
