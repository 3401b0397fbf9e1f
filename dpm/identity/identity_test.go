package identity

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/TheusHen/DPM/dpm/crypto"
)

func TestNodeIDParseStable(t *testing.T) {
	id := NewNodeID()
	if id.IsZero() {
		t.Fatalf("expected non-zero NodeID")
	}

	parsed, err := ParseNodeID(id.String())
	if err != nil {
		t.Fatalf("ParseNodeID: %v", err)
	}
	if parsed != id {
		t.Fatalf("ParseNodeID mismatch")
	}
	fromBytes, err := NodeIDFromBytes(id.Bytes())
	if err != nil {
		t.Fatalf("NodeIDFromBytes: %v", err)
	}
	if fromBytes != id {
		t.Fatalf("NodeIDFromBytes mismatch")
	}
	if _, err := NodeIDFromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short NodeID")
	}
}

func TestNodeIDCompare(t *testing.T) {
	a, _ := ParseNodeID("00000000-0000-0000-0000-000000000001")
	b, _ := ParseNodeID("00000000-0000-0000-0000-000000000002")
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 || a.Compare(a) != 0 {
		t.Fatalf("unexpected ordering")
	}
}

func TestNetworkID(t *testing.T) {
	secret, err := crypto.Derive([]byte("master"))
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	id1, err := ComputeNetworkID(secret, "seed")
	if err != nil {
		t.Fatalf("ComputeNetworkID: %v", err)
	}
	id2, _ := ComputeNetworkID(secret, "seed")
	id3, _ := ComputeNetworkID(secret, "other")
	if !id1.Equal(id2) {
		t.Fatalf("network id not deterministic")
	}
	if id1.Equal(id3) {
		t.Fatalf("seed must change the network id")
	}
	if id1.Int().Sign() < 0 {
		t.Fatalf("network id must be non-negative")
	}

	parsed, err := ParseNetworkID(id1.String())
	if err != nil {
		t.Fatalf("ParseNetworkID: %v", err)
	}
	if parsed != id1 {
		t.Fatalf("ParseNetworkID mismatch")
	}

	secret.Wipe()
	if _, err := ComputeNetworkID(secret, "seed"); !errors.Is(err, crypto.ErrSecretWiped) {
		t.Fatalf("expected ErrSecretWiped, got %v", err)
	}
}

func TestPropertiesSaveLoadVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.json")

	if _, err := LoadProperties(path); !errors.Is(err, ErrNoProperties) {
		t.Fatalf("expected ErrNoProperties, got %v", err)
	}

	secret, _ := crypto.Derive([]byte("master"))
	seed, err := NewSeed()
	if err != nil {
		t.Fatalf("NewSeed: %v", err)
	}
	props, err := NewProperties(secret, seed)
	if err != nil {
		t.Fatalf("NewProperties: %v", err)
	}
	if err := SaveProperties(path, props); err != nil {
		t.Fatalf("SaveProperties: %v", err)
	}

	got, err := LoadProperties(path)
	if err != nil {
		t.Fatalf("LoadProperties: %v", err)
	}
	if got != props {
		t.Fatalf("properties mismatch: %+v != %+v", got, props)
	}
	if err := got.Verify(secret); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	wrong, _ := crypto.Derive([]byte("not the master"))
	if err := got.Verify(wrong); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if _, err := NewProperties(secret, ""); !errors.Is(err, ErrEmptySeed) {
		t.Fatalf("expected ErrEmptySeed, got %v", err)
	}
}
