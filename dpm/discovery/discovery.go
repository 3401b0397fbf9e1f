package discovery

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheusHen/DPM/dpm/identity"
	"github.com/TheusHen/DPM/dpm/protocol"
)

var (
	ErrRoundInProgress = errors.New("discovery: a round is already in progress")
	ErrClosed          = errors.New("discovery: service closed")
)

const (
	// DefaultWindow is how long a round collects echoes.
	DefaultWindow = 2 * time.Second

	maxDatagram = 1500
)

// Transport sends and receives discovery datagrams.
// Implementations: Multicast (UDP) and memory.Conn (in-process).
type Transport interface {
	// WriteToGroup sends b to every other member of the group.
	WriteToGroup(b []byte) error
	// WriteTo sends b to a single member.
	WriteTo(b []byte, addr netip.AddrPort) error
	// ReadFrom blocks until a datagram arrives or the transport is closed.
	ReadFrom(b []byte) (int, netip.AddrPort, error)
	Close() error
}

// Responder opens a server for a peer that asked to discover this node and
// returns its port.
type Responder interface {
	RespondDiscovery(ctx context.Context) (uint16, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context) (uint16, error)

func (f ResponderFunc) RespondDiscovery(ctx context.Context) (uint16, error) { return f(ctx) }

type round struct {
	out  chan netip.AddrPort
	seen map[netip.AddrPort]bool
}

// Service runs the discovery protocol for one network on one transport.
type Service struct {
	tr        Transport
	id        uint64
	networkID identity.NetworkID
	responder Responder
	log       zerolog.Logger

	mu        sync.Mutex
	listening bool
	current   *round
	closed    bool

	done chan struct{}
}

func NewService(tr Transport, networkID identity.NetworkID, responder Responder, logger zerolog.Logger) *Service {
	var id [8]byte
	_, _ = rand.Read(id[:])
	return &Service{
		tr:        tr,
		id:        binary.BigEndian.Uint64(id[:]),
		networkID: networkID,
		responder: responder,
		log:       logger,
		done:      make(chan struct{}),
	}
}

// SetListening controls whether discovery requests from peers are answered.
// Echoes for this node's own rounds are received either way.
func (s *Service) SetListening(on bool) {
	s.mu.Lock()
	s.listening = on
	s.mu.Unlock()
}

func (s *Service) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Run reads datagrams until the transport is closed or ctx is done.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.done)
	stop := context.AfterFunc(ctx, func() { _ = s.tr.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := s.tr.ReadFrom(buf)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || ctx.Err() != nil {
				return nil
			}
			return err
		}
		p, err := protocol.UnmarshalPacket(buf[:n])
		if err != nil {
			s.log.Debug().Err(err).Str("from", from.String()).Msg("dropping malformed datagram")
			continue
		}
		switch p := p.(type) {
		case protocol.DiscoveryRequest:
			s.handleRequest(ctx, p, from)
		case protocol.DiscoveryEcho:
			s.handleEcho(p, from)
		}
	}
}

func (s *Service) handleRequest(ctx context.Context, req protocol.DiscoveryRequest, from netip.AddrPort) {
	if req.Sender == s.id {
		// our own request, looped back by the transport
		return
	}
	if !req.NetworkID.Equal(s.networkID) || !s.Listening() {
		return
	}
	port, err := s.responder.RespondDiscovery(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("from", from.String()).Msg("cannot answer discovery request")
		return
	}
	b, err := protocol.MarshalPacket(protocol.DiscoveryEcho{Port: port})
	if err == nil {
		err = s.tr.WriteTo(b, from)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("from", from.String()).Msg("cannot send discovery echo")
		return
	}
	s.log.Debug().Str("from", from.String()).Uint16("port", port).Msg("answered discovery request")
}

func (s *Service) handleEcho(echo protocol.DiscoveryEcho, from netip.AddrPort) {
	if echo.Port == 0 {
		return
	}
	peer := netip.AddrPortFrom(from.Addr().Unmap(), echo.Port)

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.current
	if r == nil || r.seen[peer] {
		return
	}
	r.seen[peer] = true
	select {
	case r.out <- peer:
	default:
		s.log.Warn().Str("peer", peer.String()).Msg("discovery round backlog full, dropping peer")
	}
}

// Discover broadcasts one request and returns the peers that echo within
// window. The channel is closed when the window ends or ctx is done.
func (s *Service) Discover(ctx context.Context, window time.Duration) (<-chan netip.AddrPort, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.current != nil {
		s.mu.Unlock()
		return nil, ErrRoundInProgress
	}
	r := &round{out: make(chan netip.AddrPort, 256), seen: map[netip.AddrPort]bool{}}
	s.current = r
	s.mu.Unlock()

	b, err := protocol.MarshalPacket(protocol.DiscoveryRequest{NetworkID: s.networkID, Sender: s.id})
	if err == nil {
		err = s.tr.WriteToGroup(b)
	}
	if err != nil {
		s.endRound(r)
		return nil, err
	}

	go func() {
		t := time.NewTimer(window)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		case <-s.done:
		}
		s.endRound(r)
	}()
	return r.out, nil
}

func (s *Service) endRound(r *round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == r {
		s.current = nil
		close(r.out)
	}
}

// Close stops Run and releases the transport.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.listening = false
	s.mu.Unlock()
	return s.tr.Close()
}
