// Package validate implements the transaction/block validator of
// spec.md §4.3: sort/uniqueness, weight limits, cut-through, the
// Mimblewimble sum equation, kernel signatures, range proofs, and the
// per-feature kernel rules (plain/coinbase/height-locked/NRD). Grounded
// on original_source's core/src/core/transaction.rs validate() chain,
// expressed in the teacher's style of small composable checks returning
// a single sentinel error each.
package validate

import (
	"github.com/rawblock/mwnode/internal/consensuserr"
	"github.com/rawblock/mwnode/internal/crypto"
	"github.com/rawblock/mwnode/internal/txhashset"
	"github.com/rawblock/mwnode/internal/types"
)

// MaxBlockWeight is the per-block weight cap transactions aggregate
// against (spec.md §4.3, mirroring original_source's default_policy
// constant of the same purpose).
const MaxBlockWeight = 40_000

// CoinbaseMaturity is the number of blocks a coinbase output must age
// before it can be spent (spec.md §4.2 step 7, §8 scenario 2).
const CoinbaseMaturity = 1440

// ReadValidate performs the cheap structural checks that don't require
// chain state: sort/uniqueness, weight, cut-through, and the no-coinbase-
// kernel rule for pool-submitted transactions (spec.md §4.5 step 1).
func ReadValidate(tx types.Transaction, maxWeight uint64) error {
	if !tx.Body.IsSortedUnique() {
		return consensuserr.ErrCorruptedData
	}
	if tx.Weight() > maxWeight {
		return consensuserr.ErrTooHeavy
	}
	if len(tx.Body.CutThroughPairs()) > 0 {
		return consensuserr.ErrCutThrough
	}
	for _, k := range tx.Body.Kernels {
		if k.Features == types.KernelCoinbase {
			return consensuserr.ErrCoinbaseNotAllowed
		}
	}
	return nil
}

// VerifySumEquation checks the Mimblewimble balance equation for a
// standalone transaction: output_sum - input_sum == kernel_excess_sum +
// offset*G + fee*H (spec.md §4.3 "Sum check"), treating each kernel's
// fee as a net negative input via the fee generator H.
func VerifySumEquation(cap crypto.Capability, tx types.Transaction) error {
	outputs := make([]crypto.Commitment, len(tx.Body.Outputs))
	for i, o := range tx.Body.Outputs {
		outputs[i] = o.Commitment
	}
	inputs := make([]crypto.Commitment, len(tx.Body.Inputs))
	for i, in := range tx.Body.Inputs {
		inputs[i] = in.Commitment
	}
	feeCommit := cap.CommitmentFromBlinding(crypto.BlindingFactor{}, tx.Fee())
	lhs, err := cap.CommitSum(append(outputs, feeCommit), inputs)
	if err != nil {
		return consensuserr.ErrKernelSumMismatch
	}

	excesses := make([]crypto.Commitment, len(tx.Body.Kernels))
	for i, k := range tx.Body.Kernels {
		excesses[i] = k.Excess
	}
	offsetCommit := cap.CommitmentFromBlinding(tx.Offset, 0)
	rhs, err := cap.CommitSum(append(excesses, offsetCommit), nil)
	if err != nil {
		return consensuserr.ErrKernelSumMismatch
	}

	if lhs != rhs {
		return consensuserr.ErrKernelSumMismatch
	}
	return nil
}

// VerifyKernelSignatures batch-checks every kernel's excess_sig against
// its excess as a public key over the feature-specific signing message
// (spec.md §4.3 "Kernel signatures").
func VerifyKernelSignatures(cap crypto.Capability, kernels []types.TxKernel) error {
	for _, k := range kernels {
		if !cap.VerifyKernelSig(k.Excess, k.ExcessSig, k.SigMsg()) {
			return consensuserr.ErrInvalidKernelSig
		}
	}
	return nil
}

// VerifyRangeProofs batch-verifies every output's bulletproof (spec.md
// §4.3 "Range proofs", §4.2 "Validation cost controls").
func VerifyRangeProofs(cap crypto.Capability, outputs []types.Output) error {
	commits := make([]crypto.Commitment, len(outputs))
	proofs := make([][]byte, len(outputs))
	for i, o := range outputs {
		commits[i] = o.Commitment
		proofs[i] = o.RangeProof
	}
	if err := cap.VerifyRangeProofsBatch(commits, proofs); err != nil {
		return consensuserr.ErrInvalidRangeProof
	}
	return nil
}

// VerifyKernelFeatures enforces the per-feature rules of spec.md §4.3:
// height-locked kernels must unlock at or before currentHeight, and
// coinbase kernels are rejected outside block assembly (callers pass
// allowCoinbase=true only when validating a full block body).
func VerifyKernelFeatures(kernels []types.TxKernel, currentHeight uint64, allowCoinbase bool) error {
	for _, k := range kernels {
		switch k.Features {
		case types.KernelCoinbase:
			if !allowCoinbase {
				return consensuserr.ErrCoinbaseNotAllowed
			}
		case types.KernelHeightLocked:
			if currentHeight < k.LockHeight {
				return consensuserr.ErrTxLockHeight
			}
		case types.KernelNoRecentDuplicate:
			if k.RelativeHeight == 0 || k.RelativeHeight > types.MaxNRDRelativeHeight {
				return consensuserr.ErrCorruptedData
			}
		}
	}
	return nil
}

// NRDIndex tracks excess -> last_height_seen for NRD kernels accepted
// onto the chain, the index spec.md §4.3/§4.5 describes the chain
// maintaining outside the UTXO set proper.
type NRDIndex struct {
	lastSeen map[crypto.Commitment]uint64
}

// NewNRDIndex returns an empty index.
func NewNRDIndex() *NRDIndex { return &NRDIndex{lastSeen: make(map[crypto.Commitment]uint64)} }

// CheckAndRecord enforces the NRD relative-height rule and, if it
// passes, records h as the new last-seen height for excess.
//
// spec.md §4.3/§8: no kernel with the same excess may exist at any
// height in (h - relative_height, h), i.e. a duplicate is rejected
// whenever h - last_seen < relative_height, and accepted only once that
// many blocks have passed; see DESIGN.md.
func (n *NRDIndex) CheckAndRecord(excess crypto.Commitment, relativeHeight uint16, h uint64) error {
	if last, ok := n.lastSeen[excess]; ok {
		if h < last || h-last < uint64(relativeHeight) {
			return consensuserr.ErrNRDRelativeHeight
		}
	}
	n.lastSeen[excess] = h
	return nil
}

// Peek applies the same rule as CheckAndRecord without recording h,
// letting a caller (internal/pool) reject a candidate transaction
// without mutating the chain-level index until the block actually
// commits.
func (n *NRDIndex) Peek(excess crypto.Commitment, relativeHeight uint16, h uint64) error {
	if last, ok := n.lastSeen[excess]; ok {
		if h < last || h-last < uint64(relativeHeight) {
			return consensuserr.ErrNRDRelativeHeight
		}
	}
	return nil
}

// ValidateTransaction runs the full spec.md §4.3 chain against a
// UTXOView-aware context for a standalone transaction (as opposed to a
// block body, which ApplyBlock validates as part of the extension
// protocol in internal/txhashset).
func ValidateTransaction(cap crypto.Capability, view *txhashset.UTXOView, tx types.Transaction, currentHeight uint64, maxWeight uint64) error {
	if err := ReadValidate(tx, maxWeight); err != nil {
		return err
	}
	if err := VerifySumEquation(cap, tx); err != nil {
		return err
	}
	if err := VerifyKernelSignatures(cap, tx.Body.Kernels); err != nil {
		return err
	}
	if err := VerifyRangeProofs(cap, tx.Body.Outputs); err != nil {
		return err
	}
	if err := VerifyKernelFeatures(tx.Body.Kernels, currentHeight, false); err != nil {
		return err
	}
	for _, in := range tx.Body.Inputs {
		data, ok := view.GetUnspent(in.Commitment)
		if !ok {
			return consensuserr.ErrOutputNotFound
		}
		if data.Ident.Features == types.CoinbaseOutput && currentHeight < data.Height+CoinbaseMaturity {
			return consensuserr.ErrImmatureCoinbase
		}
	}
	return nil
}
