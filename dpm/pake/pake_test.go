package pake

import (
	"bytes"
	"errors"
	"testing"

	"github.com/TheusHen/DPM/dpm/crypto"
	"github.com/TheusHen/DPM/dpm/identity"
)

func mustNodeID(t *testing.T, s string) identity.NodeID {
	t.Helper()
	id, err := identity.ParseNodeID(s)
	if err != nil {
		t.Fatalf("ParseNodeID: %v", err)
	}
	return id
}

func mustSecret(t *testing.T, pw string) *crypto.Secret {
	t.Helper()
	s, err := crypto.Derive([]byte(pw))
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	return s
}

// exchange runs the parameter and token stages between two sessions.
func exchange(t *testing.T, a, b *Session) ([]byte, []byte, error, error) {
	t.Helper()
	tokA, err := a.GenerateToken(b.Parameters())
	if err != nil {
		t.Fatalf("GenerateToken a: %v", err)
	}
	tokB, err := b.GenerateToken(a.Parameters())
	if err != nil {
		t.Fatalf("GenerateToken b: %v", err)
	}
	keyA, errA := a.ValidateToken(tokB, b.Parameters())
	keyB, errB := b.ValidateToken(tokA, a.Parameters())
	return keyA, keyB, errA, errB
}

func TestPasswordElementSymmetric(t *testing.T) {
	secret := mustSecret(t, "shared")
	a := mustNodeID(t, "00000000-0000-0000-0000-000000000001")
	b := mustNodeID(t, "00000000-0000-0000-0000-000000000002")

	var ab, ba []byte
	_ = secret.Use(func(d []byte) error {
		p1, err := passwordElement(d, a, b, DefaultMaxAttempts)
		if err != nil {
			t.Fatalf("passwordElement: %v", err)
		}
		p2, err := passwordElement(d, b, a, DefaultMaxAttempts)
		if err != nil {
			t.Fatalf("passwordElement: %v", err)
		}
		ab, ba = p1.Encode(), p2.Encode()
		return nil
	})
	if !bytes.Equal(ab, ba) {
		t.Fatalf("PWE depends on argument order")
	}

	other := mustSecret(t, "different")
	_ = other.Use(func(d []byte) error {
		p, err := passwordElement(d, a, b, DefaultMaxAttempts)
		if err != nil {
			t.Fatalf("passwordElement: %v", err)
		}
		if bytes.Equal(p.Encode(), ab) {
			t.Fatalf("PWE must depend on the secret")
		}
		return nil
	})
}

func TestHandshakeDerivesSameKey(t *testing.T) {
	secret := mustSecret(t, "shared")
	a := mustNodeID(t, "00000000-0000-0000-0000-000000000001")
	b := mustNodeID(t, "00000000-0000-0000-0000-000000000002")

	engineA := NewEngine(secret)
	engineB := NewEngine(secret)

	sa, err := engineA.InitiateSession(a, b)
	if err != nil {
		t.Fatalf("InitiateSession a: %v", err)
	}
	sb, err := engineB.InitiateSession(b, a)
	if err != nil {
		t.Fatalf("InitiateSession b: %v", err)
	}
	if len(sa.Parameters().Scalar) != ScalarLength || len(sa.Parameters().Element) != ElementLength {
		t.Fatalf("unexpected parameter lengths")
	}

	keyA, keyB, errA, errB := exchange(t, sa, sb)
	if errA != nil || errB != nil {
		t.Fatalf("ValidateToken: %v / %v", errA, errB)
	}
	if len(keyA) != 32 || !bytes.Equal(keyA, keyB) {
		t.Fatalf("session keys differ")
	}

	// A second handshake between the same nodes uses fresh randomness.
	sa2, _ := engineA.InitiateSession(a, b)
	sb2, _ := engineB.InitiateSession(b, a)
	keyA2, _, errA, errB := exchange(t, sa2, sb2)
	if errA != nil || errB != nil {
		t.Fatalf("ValidateToken: %v / %v", errA, errB)
	}
	if bytes.Equal(keyA, keyA2) {
		t.Fatalf("session keys must not repeat across sessions")
	}
}

func TestHandshakeRejectsImpostor(t *testing.T) {
	a := mustNodeID(t, "00000000-0000-0000-0000-000000000001")
	b := mustNodeID(t, "00000000-0000-0000-0000-000000000002")

	sa, err := NewEngine(mustSecret(t, "shared")).InitiateSession(a, b)
	if err != nil {
		t.Fatalf("InitiateSession: %v", err)
	}
	sb, err := NewEngine(mustSecret(t, "guess")).InitiateSession(b, a)
	if err != nil {
		t.Fatalf("InitiateSession: %v", err)
	}

	_, _, errA, errB := exchange(t, sa, sb)
	if !errors.Is(errA, ErrTokenMismatch) || !errors.Is(errB, ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch on both sides, got %v / %v", errA, errB)
	}
}

func TestInitiateSessionErrors(t *testing.T) {
	secret := mustSecret(t, "shared")
	a := mustNodeID(t, "00000000-0000-0000-0000-000000000001")
	b := mustNodeID(t, "00000000-0000-0000-0000-000000000002")

	if _, err := NewEngine(secret).InitiateSession(a, a); !errors.Is(err, ErrSameIdentity) {
		t.Fatalf("expected ErrSameIdentity, got %v", err)
	}
	if _, err := NewEngine(secret, WithMaxAttempts(0)).InitiateSession(a, b); !errors.Is(err, ErrPWENotFound) {
		t.Fatalf("expected ErrPWENotFound, got %v", err)
	}

	secret.Wipe()
	if _, err := NewEngine(secret).InitiateSession(a, b); !errors.Is(err, crypto.ErrSecretWiped) {
		t.Fatalf("expected ErrSecretWiped, got %v", err)
	}
}

func TestGenerateTokenRejectsBadParameters(t *testing.T) {
	secret := mustSecret(t, "shared")
	a := mustNodeID(t, "00000000-0000-0000-0000-000000000001")
	b := mustNodeID(t, "00000000-0000-0000-0000-000000000002")
	sa, err := NewEngine(secret).InitiateSession(a, b)
	if err != nil {
		t.Fatalf("InitiateSession: %v", err)
	}

	if _, err := sa.ValidateToken(make([]byte, 32), sa.Parameters()); !errors.Is(err, ErrNoSharedKey) {
		t.Fatalf("expected ErrNoSharedKey, got %v", err)
	}
	if _, err := sa.GenerateToken(sa.Parameters()); !errors.Is(err, ErrReflection) {
		t.Fatalf("expected ErrReflection, got %v", err)
	}

	bad := []Parameters{
		{},
		{Scalar: make([]byte, ScalarLength), Element: sa.Parameters().Element},
		{Scalar: sa.Parameters().Scalar, Element: make([]byte, ElementLength)},
		{Scalar: sa.Parameters().Scalar[:10], Element: sa.Parameters().Element},
	}
	for i, p := range bad {
		if _, err := sa.GenerateToken(p); !errors.Is(err, ErrInvalidParameters) {
			t.Fatalf("case %d: expected ErrInvalidParameters, got %v", i, err)
		}
	}
}
