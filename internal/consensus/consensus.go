// Package consensus defines the consensus contract that drives fork choice
// and mining scheduling. Proof-of-Work is the only concrete implementation
// (internal/consensus/pow); the interface is kept narrow enough that a
// Proof-of-Stake or other plugin could implement it without touching the
// node state machine or task taxonomy.
package consensus

import (
	"errors"
	"math/big"

	"github.com/Unipisa/SimBlock/internal/chain"
)

// ErrMiningPowerTooLow is returned by a MintPlan sampler when the success
// probability per attempt underflows the threshold at which the
// arbitrary-precision sampler can no longer produce a meaningful delay
// (spec.md §4.D / §9: p <= 2^-70). This is a fatal configuration error, not
// a value to silently swallow.
var ErrMiningPowerTooLow = errors.New("consensus: mining probability underflowed precision threshold")

// ErrInvalidMiningProbability is returned when the per-attempt mining
// success probability p = 1/difficulty is not strictly between 0 and 1, so
// 1-p <= 0 and the delay sampler's ln(1-p) term is undefined. A difficulty
// of 1 or less (reachable via the retarget clamp) triggers this.
var ErrInvalidMiningProbability = errors.New("consensus: mining probability must satisfy 0 < p < 1")

// Block is the fork-choice-relevant view of a concrete consensus block. PoW's
// pow.Block satisfies it via TotalDifficulty; a hypothetical PoS block would
// satisfy it with a stake-weighted equivalent.
type Block interface {
	Base() *chain.Block
	Weight() *big.Int
}

// MintPlan is what Engine.Minting returns: "arm a mining task DelayMs in the
// future, and if it fires unchanged, the new block gets Difficulty". The
// task taxonomy (internal/task) turns this into a concrete MiningTask; the
// consensus package never constructs a Task itself, keeping it independent
// of the scheduler.
type MintPlan struct {
	DelayMs    int64
	Difficulty *big.Int
}

// Engine is the consensus contract. NodePower is the node's mining power
// (hashes/ms) and is consensus-independent; it is passed in rather than
// pulled from a concrete Node type so this package has no dependency on
// internal/node.
type Engine interface {
	// GenesisBlock constructs the genesis block credited to producer,
	// minted at mintTimeMs.
	GenesisBlock(id chain.BlockID, producer int, mintTimeMs int64) Block

	// Minting samples the next mining attempt for a node with the given
	// mining power, mining atop tip. Returns ErrMiningPowerTooLow if the
	// sampler's precondition is violated.
	Minting(tip Block, nodePower int64) (MintPlan, error)

	// NewBlock constructs the block a successful mining attempt produces.
	NewBlock(id chain.BlockID, parent Block, producer int, mintTimeMs int64, difficulty *big.Int) Block

	// IsReceivedBlockValid reports whether recv is acceptable as the new
	// tip given the node's current tip cur (cur may be nil if the node has
	// none yet, which never happens past genesis but is defensive).
	IsReceivedBlockValid(recv, cur Block) bool
}
