// Package types holds the consensus-critical wire/data model shared by
// every other package: commitments, kernels, transactions, blocks, and
// headers. It deliberately has no behaviour beyond sorting/serialisation
// helpers — validation lives in internal/validate, storage in
// internal/txhashset and internal/store.
package types

import (
	"bytes"
	"sort"
	"time"

	"github.com/rawblock/mwnode/internal/crypto"
)

// OutputFeatures distinguishes plain outputs from coinbase rewards.
type OutputFeatures uint8

const (
	PlainOutput OutputFeatures = iota
	CoinbaseOutput
)

// KernelFeatures selects one of the four kernel variants described in
// spec.md §3.
type KernelFeatures uint8

const (
	KernelPlain KernelFeatures = iota
	KernelCoinbase
	KernelHeightLocked
	KernelNoRecentDuplicate
)

// MaxNRDRelativeHeight is the upper bound on an NRD kernel's relative_height,
// spec.md §3.
const MaxNRDRelativeHeight = 1440

// OutputIdentifier is {features, commitment}.
type OutputIdentifier struct {
	Features   OutputFeatures
	Commitment crypto.Commitment
}

// Output is an OutputIdentifier plus its bulletproof range proof.
type Output struct {
	OutputIdentifier
	RangeProof []byte // max 675 bytes, spec.md §6
}

// InputMode distinguishes the v2 and v3 wire encodings of an input.
type InputMode uint8

const (
	// InputCommitOnly is the v3+ wire format: the input references an
	// output only by commitment.
	InputCommitOnly InputMode = iota
	// InputFeaturesAndCommit is the legacy v2 wire format.
	InputFeaturesAndCommit
)

// Input references a spent output by commitment.
type Input struct {
	Mode       InputMode
	Features   OutputFeatures // only meaningful when Mode == InputFeaturesAndCommit
	Commitment crypto.Commitment
}

// TxKernel is the public witness for a Mimblewimble transaction.
type TxKernel struct {
	Features       KernelFeatures
	Fee            uint64 // Plain, HeightLocked, NoRecentDuplicate
	LockHeight     uint64 // HeightLocked only
	RelativeHeight uint16 // NoRecentDuplicate only, in [1, MaxNRDRelativeHeight]
	Excess         crypto.Commitment
	ExcessSig      crypto.Signature
}

// SigMsg derives the feature-specific signing/verification message for
// this kernel, per spec.md §4.3 ("kernel signatures"). The digest commits
// to the features tag and whichever of fee/lock_height/relative_height
// apply, so that a signature cannot be replayed across feature variants.
func (k TxKernel) SigMsg() [32]byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(k.Features))
	switch k.Features {
	case KernelPlain, KernelNoRecentDuplicate:
		writeUint64(&buf, k.Fee)
	case KernelHeightLocked:
		writeUint64(&buf, k.Fee)
		writeUint64(&buf, k.LockHeight)
	case KernelCoinbase:
		// no fee, no lock
	}
	if k.Features == KernelNoRecentDuplicate {
		writeUint64(&buf, uint64(k.RelativeHeight))
	}
	return crypto.HashWritten(buf.Bytes())
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	buf.Write(b[:])
}

// TransactionBody holds the sorted-unique inputs/outputs/kernels of a
// transaction or block.
type TransactionBody struct {
	Inputs  []Input
	Outputs []Output
	Kernels []TxKernel
}

// Transaction is {offset, body}, the Mimblewimble equation's left-hand
// operand set, spec.md §3.
type Transaction struct {
	Offset crypto.BlindingFactor
	Body   TransactionBody
}

// Weight is the transaction weight w = bo*21 + bi*1 + bk*3, spec.md §4.3.
const (
	WeightPerOutput = 21
	WeightPerInput  = 1
	WeightPerKernel = 3
)

// Weight returns the transaction's consensus weight.
func (t Transaction) Weight() uint64 {
	return uint64(len(t.Body.Outputs))*WeightPerOutput +
		uint64(len(t.Body.Inputs))*WeightPerInput +
		uint64(len(t.Body.Kernels))*WeightPerKernel
}

// Fee sums the fees carried by the transaction's kernels.
func (t Transaction) Fee() uint64 {
	var total uint64
	for _, k := range t.Body.Kernels {
		switch k.Features {
		case KernelPlain, KernelHeightLocked, KernelNoRecentDuplicate:
			total += k.Fee
		}
	}
	return total
}

// InputCommitmentLess orders inputs by commitment, spec.md §4.3.
func InputCommitmentLess(a, b Input) bool {
	return bytes.Compare(a.Commitment[:], b.Commitment[:]) < 0
}

// OutputCommitmentLess orders outputs by commitment.
func OutputCommitmentLess(a, b Output) bool {
	return bytes.Compare(a.Commitment[:], b.Commitment[:]) < 0
}

// KernelLess orders kernels by (features, fee, lock_height) then excess,
// spec.md §4.3.
func KernelLess(a, b TxKernel) bool {
	if a.Features != b.Features {
		return a.Features < b.Features
	}
	if a.Fee != b.Fee {
		return a.Fee < b.Fee
	}
	if a.LockHeight != b.LockHeight {
		return a.LockHeight < b.LockHeight
	}
	return bytes.Compare(a.Excess[:], b.Excess[:]) < 0
}

// SortBody sorts inputs, outputs and kernels into their canonical wire
// order. Validation rejects unsorted or duplicate bodies (CorruptedData);
// this helper is for tx construction and tests.
func (b *TransactionBody) SortBody() {
	sort.Slice(b.Inputs, func(i, j int) bool { return InputCommitmentLess(b.Inputs[i], b.Inputs[j]) })
	sort.Slice(b.Outputs, func(i, j int) bool { return OutputCommitmentLess(b.Outputs[i], b.Outputs[j]) })
	sort.Slice(b.Kernels, func(i, j int) bool { return KernelLess(b.Kernels[i], b.Kernels[j]) })
}

// IsSortedUnique reports whether inputs, outputs and kernels are each
// sorted and free of duplicate commitments/excesses.
func (b TransactionBody) IsSortedUnique() bool {
	for i := 1; i < len(b.Inputs); i++ {
		if !InputCommitmentLess(b.Inputs[i-1], b.Inputs[i]) {
			return false
		}
	}
	for i := 1; i < len(b.Outputs); i++ {
		if !OutputCommitmentLess(b.Outputs[i-1], b.Outputs[i]) {
			return false
		}
	}
	for i := 1; i < len(b.Kernels); i++ {
		if !KernelLess(b.Kernels[i-1], b.Kernels[i]) {
			return false
		}
	}
	return true
}

// CutThroughPairs reports whether any input and output share a commitment,
// the condition validate.CutThrough rejects, spec.md §4.3 + §8 scenario 4.
func (b TransactionBody) CutThroughPairs() []crypto.Commitment {
	outSet := make(map[crypto.Commitment]struct{}, len(b.Outputs))
	for _, o := range b.Outputs {
		outSet[o.Commitment] = struct{}{}
	}
	var dup []crypto.Commitment
	for _, in := range b.Inputs {
		if _, ok := outSet[in.Commitment]; ok {
			dup = append(dup, in.Commitment)
		}
	}
	return dup
}

// CutThrough removes matching (input, output) commitment pairs in place,
// spec.md §4.3 / GLOSSARY.
func CutThrough(inputs []Input, outputs []Output) ([]Input, []Output) {
	outIdx := make(map[crypto.Commitment]int, len(outputs))
	for i, o := range outputs {
		outIdx[o.Commitment] = i
	}
	dropIn := make(map[int]bool)
	dropOut := make(map[int]bool)
	for i, in := range inputs {
		if j, ok := outIdx[in.Commitment]; ok && !dropOut[j] {
			dropIn[i] = true
			dropOut[j] = true
		}
	}
	keptIn := inputs[:0:0]
	for i, in := range inputs {
		if !dropIn[i] {
			keptIn = append(keptIn, in)
		}
	}
	keptOut := outputs[:0:0]
	for i, o := range outputs {
		if !dropOut[i] {
			keptOut = append(keptOut, o)
		}
	}
	return keptIn, keptOut
}

// Header is the consensus-critical block header, field order matching
// spec.md §6 exactly (wire-order is consensus-critical).
type Header struct {
	Version           uint16
	Height            uint64
	PrevHash          crypto.Hash
	PrevRoot          crypto.Hash
	Timestamp         time.Time
	OutputRoot        crypto.Hash
	RangeProofRoot    crypto.Hash
	KernelRoot        crypto.Hash
	TotalKernelOffset crypto.BlindingFactor
	OutputMMRSize     uint64
	KernelMMRSize     uint64
	TotalDifficulty   uint64
	SecondaryScaling  uint32
	Nonce             uint64
	POW               ProofOfWork
}

// ProofOfWork is treated as an opaque external collaborator, spec.md §1:
// verify_pow(header) -> bool producing a difficulty. Only the fields the
// consensus core needs to thread through (header hash input, edge_bits
// for LowEdgebits checks) are modelled.
type ProofOfWork struct {
	EdgeBits uint8
	Nonces   []uint64
}

// Hash returns the header's blake256 digest over its canonical byte
// encoding. Real implementations hash the full serialised header;
// Bytes() captures the consensus-critical field order.
func (h Header) Hash() crypto.Hash {
	return crypto.HashWritten(h.Bytes())
}

// Bytes serialises the header in the exact field order of spec.md §6.
func (h Header) Bytes() []byte {
	var buf bytes.Buffer
	writeUint64(&buf, uint64(h.Version))
	writeUint64(&buf, h.Height)
	buf.Write(h.PrevHash[:])
	buf.Write(h.PrevRoot[:])
	writeUint64(&buf, uint64(h.Timestamp.Unix()))
	buf.Write(h.OutputRoot[:])
	buf.Write(h.RangeProofRoot[:])
	buf.Write(h.KernelRoot[:])
	buf.Write(h.TotalKernelOffset[:])
	writeUint64(&buf, h.OutputMMRSize)
	writeUint64(&buf, h.KernelMMRSize)
	writeUint64(&buf, h.TotalDifficulty)
	writeUint64(&buf, uint64(h.SecondaryScaling))
	writeUint64(&buf, h.Nonce)
	buf.WriteByte(h.POW.EdgeBits)
	for _, n := range h.POW.Nonces {
		writeUint64(&buf, n)
	}
	return buf.Bytes()
}

// Block is {header, body}.
type Block struct {
	Header Header
	Body   TransactionBody
}
