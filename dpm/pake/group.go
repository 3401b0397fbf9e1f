package pake

import (
	"math/big"
	"strconv"

	"filippo.io/nistec"
	group "github.com/bytemare/crypto"

	"github.com/TheusHen/DPM/dpm/crypto"
	"github.com/TheusHen/DPM/dpm/identity"
)

const (
	// ScalarLength is the encoded size of a P-256 scalar.
	ScalarLength = 32
	// ElementLength is the encoded size of a compressed P-256 point.
	ElementLength = 33
)

var (
	curve = group.P256Sha256

	// fieldPrime is the P-256 field prime.
	fieldPrime, _ = new(big.Int).SetString("ffffffff00000001000000000000000000000000ffffffffffffffffffffffff", 16)

	pweInfo = []byte("dpm/pwe")
)

// passwordElement runs the hunting-and-pecking search. The loop keeps going
// until at least MinRounds counters were tried so that the running time does
// not reveal which counter produced the point.
func passwordElement(derivative []byte, local, remote identity.NodeID, maxAttempts int) (*group.Element, error) {
	hi, lo := local, remote
	if hi.Compare(lo) < 0 {
		hi, lo = lo, hi
	}

	var pwe *group.Element
	for counter := 1; counter <= maxAttempts; counter++ {
		if pwe != nil && counter > MinRounds {
			break
		}
		seed := crypto.Hash(hi[:], lo[:], derivative, []byte(strconv.Itoa(counter)))
		candidate, err := candidatePoint(seed)
		if err != nil {
			return nil, err
		}
		el := curve.NewElement()
		if err := el.Decode(candidate); err != nil {
			// x is not on the curve
			continue
		}
		if pwe == nil {
			pwe = el
		}
	}
	if pwe == nil {
		return nil, ErrPWENotFound
	}
	return pwe, nil
}

// candidatePoint expands seed into an x-coordinate mod p and uses the seed's
// parity as the y sign, returning a compressed encoding.
func candidatePoint(seed []byte) ([]byte, error) {
	expanded, err := crypto.DeriveKey(seed, nil, pweInfo, 48)
	if err != nil {
		return nil, err
	}
	x := new(big.Int).SetBytes(expanded)
	x.Mod(x, fieldPrime)

	out := make([]byte, ElementLength)
	out[0] = 0x02 | seed[len(seed)-1]&1
	x.FillBytes(out[1:])
	return out, nil
}

// bijection maps a point to the integer formed by its uncompressed encoding
// without the format byte, as 64 big-endian bytes.
func bijection(el *group.Element) ([]byte, error) {
	if el.IsIdentity() {
		return nil, ErrInvalidParameters
	}
	p, err := nistec.NewP256Point().SetBytes(el.Encode())
	if err != nil {
		return nil, err
	}
	return p.Bytes()[1:], nil
}
