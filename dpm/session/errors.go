package session

import (
	"context"
	"errors"
	"fmt"
	"net"

	q "github.com/quic-go/quic-go"
)

var (
	ErrTimedOut         = errors.New("session: operation timed out")
	ErrCancelled        = errors.New("session: operation cancelled")
	ErrAuthentication   = errors.New("session: authentication failed")
	ErrNoResponse       = errors.New("session: no response")
	ErrNoRequest        = errors.New("session: no request queued")
	ErrUnexpectedPacket = errors.New("session: unexpected packet")
	ErrRemote           = errors.New("session: peer aborted the connection")
)

// Application error codes sent when closing a QUIC connection. They never say
// which handshake stage failed.
const (
	codeOK            q.ApplicationErrorCode = 0
	codeAuthFailed    q.ApplicationErrorCode = 1
	codeRequestFailed q.ApplicationErrorCode = 2
)

// OpError describes a failed operation of a connection.
type OpError struct {
	Op    string
	State State
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("session %s in %s: %v", e.Op, e.State, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// classify tags err with one of ErrTimedOut, ErrCancelled or ErrRemote when it
// matches. Other errors are I/O errors and are returned unchanged.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrTimedOut) || errors.Is(err, ErrCancelled) || errors.Is(err, ErrRemote) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	var appErr *q.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote {
		return fmt.Errorf("%w: %w", ErrRemote, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	return err
}
