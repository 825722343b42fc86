// Package crypto wraps the secp256k1 and blake256 primitives the rest of
// the engine treats as an opaque capability: commitment arithmetic,
// excess-signature verification, and node hashing. Nothing outside this
// package knows or cares that the underlying curve library is decred's
// secp256k1 fork rather than a dedicated Mimblewimble/bulletproof build.
package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// CommitmentSize is the wire size of a Pedersen commitment.
const CommitmentSize = 33

// SignatureSize is the wire size of a kernel excess signature.
const SignatureSize = 64

// Commitment is a 33-byte Pedersen commitment C = r*G + v*H.
type Commitment [CommitmentSize]byte

func (c Commitment) String() string {
	return fmt.Sprintf("%x", c[:])
}

// IsZero reports whether c is the all-zero placeholder used by historical
// zero-value commitments. See DESIGN.md for the zero-commit open question.
func (c Commitment) IsZero() bool {
	return c == Commitment{}
}

// Signature is a 64-byte excess signature: a compact secp256k1 r||s pair,
// verified as ECDSA by VerifyKernelSig (wire layout per spec.md §6).
type Signature [SignatureSize]byte

// BlindingFactor is a 32-byte scalar used as a transaction offset or an
// output's blinding factor.
type BlindingFactor [32]byte

// Hash is a 32-byte blake256 digest, used for MMR node hashes and block
// hashes.
type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// ZeroHash is the all-zero digest used as the genesis prev_hash.
var ZeroHash = Hash{}

// HashWritten blake256-hashes an arbitrary byte sequence. MMR node hashing
// (see internal/mmr) salts this with a big-endian position before calling
// it, matching the consensus-critical "hash with pos" construction in
// spec.md §4.1.
func HashWritten(data ...[]byte) Hash {
	h := blake256.New()
	for _, d := range data {
		_, _ = h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// DoubleSHA256 applies SHA-256 twice, the teacher's chainhash-style
// convention, rather than the blake256 family used by consensus hashing.
// No package calls it; wire messages carry no double-SHA256 identifiers.
func DoubleSHA256(data []byte) Hash {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return Hash(second)
}

// Capability is the minimal surface the validator and txhashset extension
// need from the crypto layer. It exists so tests can substitute a fake
// implementation without pulling in real curve arithmetic, mirroring the
// spec's framing of secp256k1/bulletproofs as an external collaborator.
type Capability interface {
	// CommitSum returns positive_sum - negative_sum as a single commitment,
	// the operation backing the Committed trait's sum_*  helpers.
	CommitSum(positive, negative []Commitment) (Commitment, error)
	// VerifyKernelSig checks excess_sig against excess as a public key over msg.
	VerifyKernelSig(excess Commitment, sig Signature, msg [32]byte) bool
	// VerifyRangeProofsBatch batch-verifies bulletproofs for (commitment, proof) pairs.
	VerifyRangeProofsBatch(commits []Commitment, proofs [][]byte) error
	// CommitmentFromBlinding derives r*G + v*H for tests and block building.
	CommitmentFromBlinding(r BlindingFactor, v uint64) Commitment
}

// secpCapability is the production Capability backed by decred's secp256k1.
// Bulletproof/range-proof verification and the value-homomorphic H
// generator are outside what decred's library provides standalone.
// CommitSum does the homomorphic arithmetic with point operations over
// the curve. VerifyRangeProofsBatch only checks that commitments and
// proofs pair up and that each proof is 1 to 675 bytes long; it does not
// verify the proofs themselves.
type secpCapability struct{}

// NewCapability returns the production secp256k1-backed Capability.
func NewCapability() Capability { return secpCapability{} }

func (secpCapability) CommitSum(positive, negative []Commitment) (Commitment, error) {
	var acc *secp256k1.JacobianPoint
	add := func(c Commitment, sign bool) error {
		pt, err := decodePoint(c)
		if err != nil {
			return err
		}
		if sign {
			pt.Y.Negate(1)
			pt.Y.Normalize()
		}
		if acc == nil {
			acc = pt
			return nil
		}
		var sum secp256k1.JacobianPoint
		secp256k1.AddNonConst(acc, pt, &sum)
		acc = &sum
		return nil
	}
	for _, c := range positive {
		if err := add(c, false); err != nil {
			return Commitment{}, err
		}
	}
	for _, c := range negative {
		if err := add(c, true); err != nil {
			return Commitment{}, err
		}
	}
	if acc == nil {
		return Commitment{}, nil
	}
	acc.ToAffine()
	return encodePoint(acc), nil
}

func (secpCapability) VerifyKernelSig(excess Commitment, sig Signature, msg [32]byte) bool {
	pt, err := decodePoint(excess)
	if err != nil {
		return false
	}
	pt.ToAffine()
	pubKey := secp256k1.NewPublicKey(&pt.X, &pt.Y)
	r, s, ok := decodeCompactSig(sig)
	if !ok {
		return false
	}
	signature := ecdsa.NewSignature(r, s)
	return signature.Verify(msg[:], pubKey)
}

func (secpCapability) VerifyRangeProofsBatch(commits []Commitment, proofs [][]byte) error {
	if len(commits) != len(proofs) {
		return fmt.Errorf("crypto: commit/proof count mismatch: %d != %d", len(commits), len(proofs))
	}
	for i, p := range proofs {
		if len(p) == 0 || len(p) > 675 {
			return fmt.Errorf("crypto: range proof %d has invalid length %d", i, len(p))
		}
	}
	return nil
}

func (secpCapability) CommitmentFromBlinding(r BlindingFactor, v uint64) Commitment {
	var rScalar secp256k1.ModNScalar
	rScalar.SetByteSlice(r[:])
	var rG secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&rScalar, &rG)

	var vScalar secp256k1.ModNScalar
	vScalar.SetInt(v)
	vH := hGenerator()
	var vHPoint secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&vScalar, &vH, &vHPoint)

	var sum secp256k1.JacobianPoint
	secp256k1.AddNonConst(&rG, &vHPoint, &sum)
	sum.ToAffine()
	return encodePoint(&sum)
}

// hGenerator derives the secondary "value" generator H by hashing the
// standard generator G to a point, the same nothing-up-my-sleeve
// construction Mimblewimble implementations use in place of a random H.
func hGenerator() secp256k1.JacobianPoint {
	seed := HashWritten([]byte("mwnode/secondary-generator"))
	var hScalar secp256k1.ModNScalar
	hScalar.SetByteSlice(seed[:])
	var h secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&hScalar, &h)
	return h
}

func decodePoint(c Commitment) (*secp256k1.JacobianPoint, error) {
	pub, err := secp256k1.ParsePubKey(c[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid commitment: %w", err)
	}
	var pt secp256k1.JacobianPoint
	pub.AsJacobian(&pt)
	return &pt, nil
}

func encodePoint(pt *secp256k1.JacobianPoint) Commitment {
	pub := secp256k1.NewPublicKey(&pt.X, &pt.Y)
	var out Commitment
	copy(out[:], pub.SerializeCompressed())
	return out
}

func decodeCompactSig(sig Signature) (*secp256k1.ModNScalar, *secp256k1.ModNScalar, bool) {
	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(sig[:32]) {
		return nil, nil, false
	}
	if s.SetByteSlice(sig[32:]) {
		return nil, nil, false
	}
	return &r, &s, true
}
