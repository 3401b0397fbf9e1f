package pake

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"

	group "github.com/bytemare/crypto"

	"github.com/TheusHen/DPM/dpm/crypto"
	"github.com/TheusHen/DPM/dpm/identity"
)

var (
	ErrSameIdentity      = errors.New("pake: local and remote identities are equal")
	ErrPWENotFound       = errors.New("pake: password element search exhausted")
	ErrInvalidParameters = errors.New("pake: invalid handshake parameters")
	ErrReflection        = errors.New("pake: remote parameters reflect local parameters")
	ErrNoSharedKey       = errors.New("pake: token validated before generation")
	ErrTokenMismatch     = errors.New("pake: token mismatch")
)

const (
	// DefaultMaxAttempts bounds the password element search.
	DefaultMaxAttempts = 100000
	// MinRounds is the number of counters always tried.
	MinRounds = 40
)

// Engine holds the password derivative and derives per-pair sessions from it.
// One Engine is shared by every connection of a node.
type Engine struct {
	secret      *crypto.Secret
	maxAttempts int
}

type Option func(*Engine)

func WithMaxAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

func NewEngine(secret *crypto.Secret, opts ...Option) *Engine {
	e := &Engine{secret: secret, maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Parameters is the (scalar, element) commitment sent to the peer.
type Parameters struct {
	Scalar  []byte
	Element []byte
}

func (p Parameters) decode() (*group.Scalar, *group.Element, error) {
	if len(p.Scalar) != ScalarLength || len(p.Element) != ElementLength {
		return nil, nil, ErrInvalidParameters
	}
	s := curve.NewScalar()
	if err := s.Decode(p.Scalar); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if s.IsZero() {
		return nil, nil, ErrInvalidParameters
	}
	el := curve.NewElement()
	if err := el.Decode(p.Element); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if el.IsIdentity() {
		return nil, nil, ErrInvalidParameters
	}
	return s, el, nil
}

// Session is the state of one handshake with one peer.
type Session struct {
	local, remote identity.NodeID

	pwe     *group.Element
	rand    *group.Scalar
	scalar  *group.Scalar
	element *group.Element
	params  Parameters

	sharedKey []byte
}

// InitiateSession computes the password element for the pair and draws fresh
// commitment values.
func (e *Engine) InitiateSession(local, remote identity.NodeID) (*Session, error) {
	if local == remote {
		return nil, ErrSameIdentity
	}

	var pwe *group.Element
	err := e.secret.Use(func(d []byte) error {
		var err error
		pwe, err = passwordElement(d, local, remote, e.maxAttempts)
		return err
	})
	if err != nil {
		return nil, err
	}

	for {
		r := curve.NewScalar().Random()
		mask := curve.NewScalar().Random()
		scalar := r.Copy().Add(mask)
		if scalar.IsZero() {
			continue
		}
		element := pwe.Copy().Multiply(mask).Negate()
		return &Session{
			local:   local,
			remote:  remote,
			pwe:     pwe,
			rand:    r,
			scalar:  scalar,
			element: element,
			params:  Parameters{Scalar: scalar.Encode(), Element: element.Encode()},
		}, nil
	}
}

// Parameters returns the local commitment to send to the peer.
func (s *Session) Parameters() Parameters { return s.params }

func (s *Session) Remote() identity.NodeID { return s.remote }

// GenerateToken computes the shared key from the peer's commitment and returns
// the local confirmation token.
func (s *Session) GenerateToken(remote Parameters) ([]byte, error) {
	rs, re, err := remote.decode()
	if err != nil {
		return nil, err
	}
	if bytes.Equal(remote.Scalar, s.params.Scalar) || bytes.Equal(remote.Element, s.params.Element) {
		return nil, ErrReflection
	}

	secretPoint := s.pwe.Copy().Multiply(rs).Add(re).Multiply(s.rand)
	sharedKey, err := bijection(secretPoint)
	if err != nil {
		return nil, err
	}
	localB, err := bijection(s.element)
	if err != nil {
		return nil, err
	}
	remoteB, err := bijection(re)
	if err != nil {
		return nil, err
	}
	s.sharedKey = sharedKey
	return crypto.Hash(sharedKey, localB, s.params.Scalar, remoteB, remote.Scalar), nil
}

// ValidateToken checks the peer's token and returns the session key.
func (s *Session) ValidateToken(token []byte, remote Parameters) ([]byte, error) {
	if s.sharedKey == nil {
		return nil, ErrNoSharedKey
	}
	rs, re, err := remote.decode()
	if err != nil {
		return nil, err
	}
	localB, err := bijection(s.element)
	if err != nil {
		return nil, err
	}
	remoteB, err := bijection(re)
	if err != nil {
		return nil, err
	}

	expected := crypto.Hash(s.sharedKey, remoteB, remote.Scalar, localB, s.params.Scalar)
	if subtle.ConstantTimeCompare(expected, token) != 1 {
		return nil, ErrTokenMismatch
	}

	sumB, err := bijection(s.element.Copy().Add(re))
	if err != nil {
		return nil, err
	}
	scalarSum := s.scalar.Copy().Add(rs)
	return crypto.Hash(s.sharedKey, sumB, scalarSum.Encode()), nil
}

// Wipe drops the secret values held by the session.
func (s *Session) Wipe() {
	crypto.Zero(s.sharedKey)
	s.sharedKey = nil
	s.rand = nil
	s.pwe = nil
}
