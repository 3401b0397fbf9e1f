package memory

import (
	"errors"
	"net/netip"
	"sync"
)

var ErrClosed = errors.New("memory: transport closed")

type datagram struct {
	b    []byte
	from netip.AddrPort
}

// Hub is an in-memory multicast group.
// It is useful for tests, examples and embedding in applications.
type Hub struct {
	mu      sync.RWMutex
	members map[netip.AddrPort]*Conn
	next    uint16
}

func New() *Hub {
	return &Hub{members: map[netip.AddrPort]*Conn{}, next: 40000}
}

// Join adds a member reachable at 127.0.0.1 under a fresh port.
// Its own group datagrams are not delivered back to it.
func (h *Hub) Join() *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	addr := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), h.next)
	h.next++
	c := &Conn{hub: h, addr: addr, inbox: make(chan datagram, 64), closed: make(chan struct{})}
	h.members[addr] = c
	return c
}

func (h *Hub) leave(addr netip.AddrPort) {
	h.mu.Lock()
	delete(h.members, addr)
	h.mu.Unlock()
}

// Conn is one member of a Hub. It implements discovery.Transport.
type Conn struct {
	hub   *Hub
	addr  netip.AddrPort
	inbox chan datagram

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *Conn) Addr() netip.AddrPort { return c.addr }

func (c *Conn) deliver(d datagram) {
	select {
	case c.inbox <- d:
	case <-c.closed:
	default:
		// full inbox drops, as UDP would
	}
}

func (c *Conn) WriteToGroup(b []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for addr, m := range c.hub.members {
		if addr == c.addr {
			continue
		}
		m.deliver(datagram{b: append([]byte{}, b...), from: c.addr})
	}
	return nil
}

func (c *Conn) WriteTo(b []byte, addr netip.AddrPort) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.hub.mu.RLock()
	m, ok := c.hub.members[addr]
	c.hub.mu.RUnlock()
	if ok {
		m.deliver(datagram{b: append([]byte{}, b...), from: c.addr})
	}
	return nil
}

func (c *Conn) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-c.inbox:
		return copy(b, d.b), d.from, nil
	case <-c.closed:
		return 0, netip.AddrPort{}, ErrClosed
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.hub.leave(c.addr)
	})
	return nil
}
