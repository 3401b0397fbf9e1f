package identity

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/TheusHen/DPM/dpm/crypto"
	"github.com/TheusHen/DPM/dpm/internal/atomicfile"
)

var (
	ErrNoProperties  = errors.New("identity: network properties not found")
	ErrWrongPassword = errors.New("identity: password does not match network")
	ErrEmptySeed     = errors.New("identity: empty seed")
)

// Properties is the persisted, non-secret description of this node.
type Properties struct {
	NodeID    NodeID    `json:"node_id"`
	NetworkID NetworkID `json:"network_id"`
	Seed      string    `json:"seed"`
}

// NewSeed returns a random seed for the first device of a network.
func NewSeed() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// NewProperties creates properties for a new device joining the network named by seed.
func NewProperties(secret *crypto.Secret, seed string) (Properties, error) {
	if seed == "" {
		return Properties{}, ErrEmptySeed
	}
	nid, err := ComputeNetworkID(secret, seed)
	if err != nil {
		return Properties{}, err
	}
	return Properties{NodeID: NewNodeID(), NetworkID: nid, Seed: seed}, nil
}

// Verify checks that secret was derived from the password this network was created with.
func (p Properties) Verify(secret *crypto.Secret) error {
	nid, err := ComputeNetworkID(secret, p.Seed)
	if err != nil {
		return err
	}
	if !nid.Equal(p.NetworkID) {
		return ErrWrongPassword
	}
	return nil
}

func LoadProperties(path string) (Properties, error) {
	var p Properties
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, ErrNoProperties
		}
		return p, fmt.Errorf("read properties: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode properties: %w", err)
	}
	if p.NodeID.IsZero() || p.Seed == "" {
		return p, fmt.Errorf("decode properties: incomplete file %s", path)
	}
	return p, nil
}

// SaveProperties persists p atomically.
func SaveProperties(path string, p Properties) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	return atomicfile.WriteFile(path, data, 0o600)
}
