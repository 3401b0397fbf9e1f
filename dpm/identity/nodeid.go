package identity

import (
	"bytes"

	"github.com/google/uuid"
)

// NodeID is the random per-device identifier.
type NodeID uuid.UUID

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

func ParseNodeID(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, err
	}
	return NodeID(u), nil
}

// NodeIDFromBytes parses the 16-byte wire form.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return NodeID{}, err
	}
	return NodeID(u), nil
}

func (id NodeID) String() string { return uuid.UUID(id).String() }

func (id NodeID) Bytes() []byte {
	out := make([]byte, len(id))
	copy(out, id[:])
	return out
}

func (id NodeID) IsZero() bool { return id == NodeID{} }

// Compare orders NodeIDs by their byte representation.
func (id NodeID) Compare(other NodeID) int {
	return bytes.Compare(id[:], other[:])
}

func (id NodeID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *NodeID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}
