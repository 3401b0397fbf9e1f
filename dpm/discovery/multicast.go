package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"golang.org/x/net/ipv4"
)

// DefaultGroup is the multicast group and port every node joins.
var DefaultGroup = netip.MustParseAddrPort("232.0.0.0:35587")

// MulticastOptions tunes the multicast socket.
type MulticastOptions struct {
	// Interface restricts the group to one interface. Empty joins on every
	// multicast-capable interface that is up.
	Interface string
	// Loopback delivers datagrams sent by this host back to it. Needed when
	// several nodes share one host; a node still ignores its own requests.
	Loopback bool
	// TTL of outgoing datagrams. Defaults to 1 (link local).
	TTL int
}

// Multicast is a UDP4 multicast Transport. Requests are received on a socket
// bound to the group port, which other nodes on the host may share. Everything
// is sent from a second, ephemeral socket, so echoes come back to this node
// alone.
type Multicast struct {
	group *net.UDPAddr

	gconn net.PacketConn
	gpc   *ipv4.PacketConn
	uconn net.PacketConn
	upc   *ipv4.PacketConn

	in        chan received
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type received struct {
	b    []byte
	from netip.AddrPort
	err  error
}

func ListenMulticast(group netip.AddrPort, opts MulticastOptions) (*Multicast, error) {
	if !group.Addr().Is4() || !group.Addr().IsMulticast() {
		return nil, fmt.Errorf("discovery: %s is not an IPv4 multicast group", group)
	}
	lc := net.ListenConfig{Control: reusePort}
	gconn, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(int(group.Port()))))
	if err != nil {
		return nil, err
	}
	uconn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		gconn.Close()
		return nil, err
	}
	m := &Multicast{
		group: net.UDPAddrFromAddrPort(group),
		gconn: gconn,
		gpc:   ipv4.NewPacketConn(gconn),
		uconn: uconn,
		upc:   ipv4.NewPacketConn(uconn),
		in:    make(chan received, 64),
		done:  make(chan struct{}),
	}
	if err := m.join(opts); err != nil {
		gconn.Close()
		uconn.Close()
		return nil, err
	}
	m.wg.Add(2)
	go m.read(m.gpc)
	go m.read(m.upc)
	return m, nil
}

// LocalAddr is the address datagrams are sent from and echoes arrive at.
func (m *Multicast) LocalAddr() netip.AddrPort {
	if ua, ok := m.uconn.LocalAddr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	return netip.AddrPort{}
}

func (m *Multicast) read(pc *ipv4.PacketConn) {
	defer m.wg.Done()
	for {
		buf := make([]byte, maxDatagram)
		n, _, src, err := pc.ReadFrom(buf)
		var r received
		if err != nil {
			r.err = err
		} else if ua, ok := src.(*net.UDPAddr); ok {
			ap := ua.AddrPort()
			r.b, r.from = buf[:n], netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
		} else {
			continue
		}
		select {
		case m.in <- r:
		case <-m.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (m *Multicast) join(opts MulticastOptions) error {
	ifaces, err := multicastInterfaces(opts.Interface)
	if err != nil {
		return err
	}
	joined := 0
	var errs []error
	for i := range ifaces {
		if err := m.gpc.JoinGroup(&ifaces[i], m.group); err != nil {
			errs = append(errs, fmt.Errorf("join on %s: %w", ifaces[i].Name, err))
			continue
		}
		joined++
	}
	if joined == 0 {
		if len(errs) == 0 {
			return errors.New("discovery: no multicast-capable interface")
		}
		return errors.Join(errs...)
	}
	if opts.Interface != "" {
		if err := m.upc.SetMulticastInterface(&ifaces[0]); err != nil {
			return err
		}
	}
	if err := m.upc.SetMulticastLoopback(opts.Loopback); err != nil {
		return err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 1
	}
	return m.upc.SetMulticastTTL(ttl)
}

func multicastInterfaces(name string) ([]net.Interface, error) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, err
		}
		return []net.Interface{*ifi}, nil
	}
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.Interface
	for _, ifi := range all {
		if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagMulticast != 0 {
			out = append(out, ifi)
		}
	}
	return out, nil
}

func (m *Multicast) WriteToGroup(b []byte) error {
	_, err := m.upc.WriteTo(b, nil, m.group)
	return err
}

func (m *Multicast) WriteTo(b []byte, addr netip.AddrPort) error {
	_, err := m.upc.WriteTo(b, nil, net.UDPAddrFromAddrPort(addr))
	return err
}

func (m *Multicast) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	select {
	case r := <-m.in:
		if r.err != nil {
			return 0, netip.AddrPort{}, r.err
		}
		return copy(b, r.b), r.from, nil
	case <-m.done:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (m *Multicast) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		err = errors.Join(m.gconn.Close(), m.uconn.Close())
		m.wg.Wait()
	})
	return err
}
