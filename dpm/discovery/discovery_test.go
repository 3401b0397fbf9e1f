package discovery

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheusHen/DPM/dpm/discovery/memory"
	"github.com/TheusHen/DPM/dpm/identity"
	"github.com/TheusHen/DPM/dpm/protocol"
)

func networkID(b byte) identity.NetworkID {
	var id identity.NetworkID
	id[0] = b
	return id
}

func startService(t *testing.T, hub *memory.Hub, nid identity.NetworkID, port uint16) (*Service, *memory.Conn) {
	t.Helper()
	conn := hub.Join()
	s := NewService(conn, nid, ResponderFunc(func(context.Context) (uint16, error) { return port, nil }), zerolog.Nop())
	go func() { _ = s.Run(context.Background()) }()
	t.Cleanup(func() { _ = s.Close() })
	return s, conn
}

func collect(ch <-chan netip.AddrPort) []netip.AddrPort {
	var out []netip.AddrPort
	for p := range ch {
		out = append(out, p)
	}
	return out
}

func TestDiscoverFindsOwnNetworkOnly(t *testing.T) {
	hub := memory.New()
	a, _ := startService(t, hub, networkID(1), 1000)
	b, bConn := startService(t, hub, networkID(1), 2001)
	c, _ := startService(t, hub, networkID(2), 3001)
	b.SetListening(true)
	c.SetListening(true)

	peers, err := a.Discover(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	got := collect(peers)
	want := netip.AddrPortFrom(bConn.Addr().Addr(), 2001)
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got peers %v, want [%s]", got, want)
	}
}

func TestDiscoverIgnoresSilentNodes(t *testing.T) {
	hub := memory.New()
	a, _ := startService(t, hub, networkID(1), 1000)
	startService(t, hub, networkID(1), 2001)

	peers, err := a.Discover(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got := collect(peers); len(got) != 0 {
		t.Fatalf("expected no peers from a node that is not listening, got %v", got)
	}
}

func TestDiscoverOneRoundAtATime(t *testing.T) {
	hub := memory.New()
	a, _ := startService(t, hub, networkID(1), 1000)

	ctx, cancel := context.WithCancel(context.Background())
	peers, err := a.Discover(ctx, time.Minute)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if _, err := a.Discover(context.Background(), time.Second); !errors.Is(err, ErrRoundInProgress) {
		t.Fatalf("expected ErrRoundInProgress, got %v", err)
	}

	cancel()
	select {
	case _, ok := <-peers:
		if ok {
			t.Fatalf("unexpected peer")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("round not closed after cancel")
	}

	if _, err := a.Discover(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("Discover after round: %v", err)
	}
}

func TestDiscoverAfterClose(t *testing.T) {
	hub := memory.New()
	a, _ := startService(t, hub, networkID(1), 1000)
	_ = a.Close()
	if _, err := a.Discover(context.Background(), time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// loopTransport hands every datagram it sends back to itself, like a
// multicast socket with loopback on and no other member.
type loopTransport struct {
	addr   netip.AddrPort
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newLoopTransport() *loopTransport {
	return &loopTransport{
		addr:   netip.MustParseAddrPort("127.0.0.1:41000"),
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (l *loopTransport) WriteToGroup(b []byte) error {
	l.in <- append([]byte{}, b...)
	return nil
}

func (l *loopTransport) WriteTo(b []byte, addr netip.AddrPort) error {
	if addr == l.addr {
		l.in <- append([]byte{}, b...)
	}
	return nil
}

func (l *loopTransport) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-l.in:
		return copy(b, d), l.addr, nil
	case <-l.closed:
		return 0, netip.AddrPort{}, memory.ErrClosed
	}
}

func (l *loopTransport) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func TestDiscoverIgnoresOwnRequest(t *testing.T) {
	var answered atomic.Bool
	s := NewService(newLoopTransport(), networkID(1), ResponderFunc(func(context.Context) (uint16, error) {
		answered.Store(true)
		return 4242, nil
	}), zerolog.Nop())
	go func() { _ = s.Run(context.Background()) }()
	defer s.Close()
	s.SetListening(true)

	peers, err := s.Discover(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got := collect(peers); len(got) != 0 {
		t.Fatalf("node discovered itself: %v", got)
	}
	if answered.Load() {
		t.Fatalf("node opened a server for its own request")
	}
}

func TestDiscoverAnswersOtherSenderOnSameTransport(t *testing.T) {
	tr := newLoopTransport()
	s := NewService(tr, networkID(1), ResponderFunc(func(context.Context) (uint16, error) { return 4242, nil }), zerolog.Nop())
	go func() { _ = s.Run(context.Background()) }()
	defer s.Close()
	s.SetListening(true)

	// a second node behind the same address, as with a shared group port
	b, err := protocol.MarshalPacket(protocol.DiscoveryRequest{NetworkID: networkID(1), Sender: s.id + 1})
	if err != nil {
		t.Fatalf("MarshalPacket: %v", err)
	}
	peers, err := s.Discover(context.Background(), 300*time.Millisecond)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	tr.in <- b
	got := collect(peers)
	if len(got) != 1 || got[0].Port() != 4242 {
		t.Fatalf("expected the other sender to be answered, got %v", got)
	}
}

func TestListenMulticastRejectsUnicastGroup(t *testing.T) {
	if _, err := ListenMulticast(netip.MustParseAddrPort("127.0.0.1:35587"), MulticastOptions{}); err == nil {
		t.Fatalf("expected error for a unicast group")
	}
}
