// Package pow implements the Proof-of-Work consensus.Engine: next-difficulty
// retargeting, block validity, and the arbitrary-precision mining-delay
// sampler of spec.md §4.D.
package pow

import (
	"math/big"
	"math/rand"

	"github.com/Unipisa/SimBlock/internal/chain"
	"github.com/Unipisa/SimBlock/internal/consensus"
)

// samplerPrecisionBits is the math/big.Float precision (in bits) used for
// the mining-delay sampler, comfortably above the ~66 bits needed for 20
// decimal digits. No third-party arbitrary-precision decimal library is
// present anywhere in the retrieval pack (see DESIGN.md), so math/big is
// used directly here rather than carrying a hand-rolled decimal type.
const samplerPrecisionBits = 256

// minProbabilityLog2 is the spec's p <= 2^-70 threshold: below this the
// sampler can no longer distinguish ln(1-p) from -p without the result
// losing all meaning, and reaching it is treated as a fatal configuration
// error rather than a silent no-op (spec.md §9 open question).
const minProbabilityLog2 = -70

// Block is the PoW-specific consensus.Block: it adds difficulty, total
// difficulty, and the next-difficulty target for its children atop
// chain.Block.
type Block struct {
	base            *chain.Block
	parent          *Block
	difficulty      *big.Int
	totalDifficulty *big.Int
	nextDifficulty  *big.Int
}

func (b *Block) Base() *chain.Block       { return b.base }
func (b *Block) Weight() *big.Int         { return b.totalDifficulty }
func (b *Block) Difficulty() *big.Int     { return b.difficulty }
func (b *Block) NextDifficulty() *big.Int { return b.nextDifficulty }

// Engine is the PoW consensus.Engine implementation.
type Engine struct {
	// TargetIntervalMs is the desired mean time between blocks (INTERVAL).
	TargetIntervalMs int64
	// DifficultyInterval is the number of blocks between retargets.
	DifficultyInterval int64
	// InitialDifficulty seeds genesis and the pre-first-retarget period.
	InitialDifficulty *big.Int
	// PowerLookup returns a node's mining power (hashes/ms) by id; used
	// when summing the window's mining power during a retarget.
	PowerLookup func(nodeID int) int64
	// Rand is the simulation's single shared PRNG. It must never be
	// replaced with the math/rand package-level functions: reproducibility
	// depends on every stochastic draw coming from this one source.
	Rand *rand.Rand
}

var _ consensus.Engine = (*Engine)(nil)

func (e *Engine) GenesisBlock(id chain.BlockID, producer int, mintTimeMs int64) consensus.Block {
	base := chain.NewGenesis(id, producer, mintTimeMs)
	difficulty := new(big.Int).Set(e.InitialDifficulty)
	return &Block{
		base:            base,
		parent:          nil,
		difficulty:      difficulty,
		totalDifficulty: new(big.Int).Set(difficulty),
		nextDifficulty:  new(big.Int).Set(difficulty),
	}
}

func (e *Engine) NewBlock(id chain.BlockID, parentB consensus.Block, producer int, mintTimeMs int64, difficulty *big.Int) consensus.Block {
	parent := parentB.(*Block)
	base := chain.NewChild(id, parent.base, producer, mintTimeMs)
	totalDifficulty := new(big.Int).Add(parent.totalDifficulty, difficulty)
	b := &Block{
		base:            base,
		parent:          parent,
		difficulty:      new(big.Int).Set(difficulty),
		totalDifficulty: totalDifficulty,
	}
	b.nextDifficulty = e.computeNextDifficulty(b)
	return b
}

// computeNextDifficulty implements spec.md §4.C's retarget rule: every
// DifficultyInterval blocks, nextDifficulty = parent.difficulty *
// sum(miningPower over the window) * TargetIntervalMs / observedIntervalMs;
// between retargets it is inherited unchanged from the parent.
func (e *Engine) computeNextDifficulty(b *Block) *big.Int {
	height := int64(b.base.Height())
	if height == 0 {
		return new(big.Int).Set(e.InitialDifficulty)
	}
	if e.DifficultyInterval <= 0 || height%e.DifficultyInterval != 0 {
		return new(big.Int).Set(b.parent.nextDifficulty)
	}

	sumPower := big.NewInt(0)
	cur := b
	var windowStart *Block
	for i := int64(0); i < e.DifficultyInterval; i++ {
		sumPower.Add(sumPower, big.NewInt(e.PowerLookup(cur.base.Producer())))
		if cur.parent == nil {
			windowStart = cur
			break
		}
		windowStart = cur.parent
		cur = cur.parent
	}

	observedMs := b.base.MintTimeMs() - windowStart.base.MintTimeMs()
	if observedMs <= 0 {
		observedMs = 1
	}

	next := new(big.Int).Mul(b.parent.difficulty, sumPower)
	next.Mul(next, big.NewInt(e.TargetIntervalMs))
	next.Div(next, big.NewInt(observedMs))
	if next.Sign() <= 0 {
		next = big.NewInt(1)
	}
	return next
}

func (e *Engine) IsReceivedBlockValid(recv, cur consensus.Block) bool {
	r := recv.(*Block)
	if !r.base.IsGenesis() {
		if r.difficulty.Cmp(r.parent.nextDifficulty) < 0 {
			return false
		}
	}
	if cur == nil {
		return true
	}
	return r.Weight().Cmp(cur.Weight()) > 0
}

// Minting samples the next mining-attempt delay atop tip for a node with the
// given mining power, using the formula
//
//	delay = floor( ln(u) / ln(1 - p) / miningPower )
//
// where u ~ Uniform(0,1) and p = 1/nextDifficulty, computed on
// arbitrary-precision big.Float to avoid catastrophic cancellation when p is
// tiny. Returns consensus.ErrMiningPowerTooLow if p <= 2^-70.
func (e *Engine) Minting(tip consensus.Block, nodePower int64) (consensus.MintPlan, error) {
	t := tip.(*Block)
	difficulty := t.nextDifficulty
	if difficulty.Sign() <= 0 {
		difficulty = big.NewInt(1)
	}

	p := new(big.Float).SetPrec(samplerPrecisionBits).SetInt(difficulty)
	p = new(big.Float).SetPrec(samplerPrecisionBits).Quo(big.NewFloat(1), p)

	log2P := new(big.Float).SetPrec(samplerPrecisionBits)
	log2P.Copy(p)
	exp := approxLog2(log2P)
	if exp <= minProbabilityLog2 {
		return consensus.MintPlan{}, consensus.ErrMiningPowerTooLow
	}

	oneMinusP := new(big.Float).SetPrec(samplerPrecisionBits).Sub(big.NewFloat(1), p)
	if oneMinusP.Sign() <= 0 {
		// difficulty <= 1 makes p = 1/difficulty >= 1, so 1-p <= 0 and
		// ln(1-p) is undefined: fatal, not a value to approximate.
		return consensus.MintPlan{}, consensus.ErrInvalidMiningProbability
	}

	u := e.Rand.Float64()
	for u <= 0 {
		u = e.Rand.Float64()
	}

	lnU := bigLn(big.NewFloat(u))
	lnOneMinusP := bigLn(oneMinusP)

	delay := new(big.Float).SetPrec(samplerPrecisionBits).Quo(lnU, lnOneMinusP)
	power := new(big.Float).SetPrec(samplerPrecisionBits).SetInt64(nodePower)
	delay.Quo(delay, power)

	delayMs, _ := delay.Int64()
	if delayMs < 0 {
		delayMs = 0
	}

	return consensus.MintPlan{DelayMs: delayMs, Difficulty: difficulty}, nil
}

// approxLog2 returns ceil(log2(x)) for 0 < x <= 1, so that result <= -70
// holds exactly when x <= 2^-70, without needing a full transcendental log
// implementation on big.Float.
func approxLog2(x *big.Float) int {
	if x.Sign() <= 0 {
		return -1 << 30
	}
	exp := 0
	half := big.NewFloat(0.5)
	v := new(big.Float).SetPrec(x.Prec()).Copy(x)
	for v.Cmp(half) <= 0 {
		v.Mul(v, big.NewFloat(2))
		exp--
	}
	return exp
}

// bigLn computes a natural-log approximation on big.Float using the
// Taylor series for ln(1+y) = y - y^2/2 + y^3/3 - ... after range-reducing x
// into [0.5, 2) by factoring out powers of two (ln(x) = k*ln(2) + ln(x/2^k)).
// This keeps the whole mining-delay computation on arbitrary-precision
// arithmetic end to end, matching spec.md §9's requirement that the
// division not be computed in plain double precision.
func bigLn(x *big.Float) *big.Float {
	prec := uint(samplerPrecisionBits)
	const ln2 = 0.6931471805599453094172321214581765680755001343602552541206800094

	if x.Sign() <= 0 {
		// ln is undefined here; callers must guard against x <= 0 before
		// calling (Minting checks oneMinusP.Sign() for exactly this
		// reason). Without this check, x == 0 would never reach the
		// doubling loop's 0.5 threshold below and loop forever.
		return new(big.Float).SetPrec(prec).SetInf(true)
	}

	v := new(big.Float).SetPrec(prec).Copy(x)
	k := 0
	two := big.NewFloat(2)
	half := big.NewFloat(0.5)
	for v.Cmp(two) >= 0 {
		v.Quo(v, two)
		k++
	}
	for v.Cmp(half) < 0 {
		v.Mul(v, two)
		k--
	}

	y := new(big.Float).SetPrec(prec).Sub(v, big.NewFloat(1))
	term := new(big.Float).SetPrec(prec).Copy(y)
	sum := new(big.Float).SetPrec(prec)
	for n := 1; n <= 60; n++ {
		contribution := new(big.Float).SetPrec(prec).Quo(term, big.NewFloat(float64(n)))
		if n%2 == 0 {
			sum.Sub(sum, contribution)
		} else {
			sum.Add(sum, contribution)
		}
		term.Mul(term, y)
	}

	kLn2 := new(big.Float).SetPrec(prec).Mul(big.NewFloat(ln2), big.NewFloat(float64(k)))
	return sum.Add(sum, kLn2)
}
