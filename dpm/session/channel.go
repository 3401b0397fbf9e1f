package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/TheusHen/DPM/dpm/crypto"
	"github.com/TheusHen/DPM/dpm/protocol"
)

// Stream is the byte stream a connection runs over.
// quic-go streams and net.Conn both satisfy it.
type Stream interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

var sealedAD = []byte("dpm/sealed/v1")

// channel exchanges packets over a Stream. Every operation is bounded by the
// deadline set through arm; cancelling ctx expires the deadline at once.
type channel struct {
	ctx  context.Context
	st   Stream
	aead *crypto.AEAD
	stop func() bool
}

func newChannel(ctx context.Context, st Stream) *channel {
	c := &channel{ctx: ctx, st: st}
	c.stop = context.AfterFunc(ctx, func() {
		past := time.Unix(1, 0)
		_ = st.SetReadDeadline(past)
		_ = st.SetWriteDeadline(past)
	})
	return c
}

func (c *channel) close() {
	c.stop()
}

// arm bounds the next operations by timeout.
func (c *channel) arm(timeout time.Duration) error {
	d := time.Now().Add(timeout)
	if err := c.st.SetReadDeadline(d); err != nil {
		return err
	}
	if err := c.st.SetWriteDeadline(d); err != nil {
		return err
	}
	return c.ctx.Err()
}

// fail prefers the context error over the deadline error it caused.
func (c *channel) fail(err error) error {
	if ctxErr := c.ctx.Err(); ctxErr != nil {
		return classify(ctxErr)
	}
	return classify(err)
}

func (c *channel) send(p protocol.Packet) error {
	if err := protocol.WritePacket(c.st, p); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *channel) recv(want protocol.MessageType) (protocol.Packet, error) {
	p, err := protocol.ReadPacket(c.st)
	if err != nil {
		return nil, c.fail(err)
	}
	if p.Type() != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedPacket, p.Type(), want)
	}
	return p, nil
}

func (c *channel) sendSealed(p protocol.Packet) error {
	inner, err := protocol.MarshalPacket(p)
	if err != nil {
		return err
	}
	ct, err := c.aead.Seal(inner, sealedAD)
	crypto.Zero(inner)
	if err != nil {
		return err
	}
	return c.send(protocol.Sealed{Ciphertext: ct})
}

func (c *channel) recvSealed() (protocol.Packet, error) {
	p, err := c.recv(protocol.MessageTypeSealed)
	if err != nil {
		return nil, err
	}
	inner, err := c.aead.Open(p.(protocol.Sealed).Ciphertext, sealedAD)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(inner)
	return protocol.UnmarshalPacket(inner)
}

// drain waits for the peer to close its side of the stream.
func (c *channel) drain() error {
	var b [1]byte
	n, err := io.ReadFull(c.st, b[:])
	switch {
	case n > 0:
		return ErrUnexpectedPacket
	case errors.Is(err, io.EOF):
		return nil
	default:
		return c.fail(err)
	}
}
