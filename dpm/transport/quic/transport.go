package quic

import (
	"context"
	"net"
	"time"

	q "github.com/quic-go/quic-go"
)

// Config tunes the QUIC connection behaviour.
type Config struct {
	HandshakeIdleTimeout time.Duration
	MaxIdleTimeout       time.Duration
}

func (c Config) quicConfig() *q.Config {
	return &q.Config{
		HandshakeIdleTimeout: c.HandshakeIdleTimeout,
		MaxIdleTimeout:       c.MaxIdleTimeout,
	}
}

type Listener struct {
	inner *q.Listener
}

func Listen(addr string, cfg Config) (*Listener, error) {
	tlsConf, err := NewServerTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, cfg.quicConfig())
	if err != nil {
		return nil, err
	}
	return &Listener{inner: ln}, nil
}

func (l *Listener) Accept(ctx context.Context) (q.Connection, error) {
	return l.inner.Accept(ctx)
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

// Port returns the UDP port the listener is bound to.
func (l *Listener) Port() uint16 {
	if ua, ok := l.inner.Addr().(*net.UDPAddr); ok {
		return uint16(ua.Port)
	}
	return 0
}

// Close stops the listener. Connections accepted from it are closed too.
func (l *Listener) Close() error { return l.inner.Close() }

func Dial(ctx context.Context, addr string, cfg Config) (q.Connection, error) {
	tlsConf, err := NewClientTLSConfig()
	if err != nil {
		return nil, err
	}
	return q.DialAddr(ctx, addr, tlsConf, cfg.quicConfig())
}
