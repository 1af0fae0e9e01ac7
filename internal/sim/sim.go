// Package sim is the simulation driver of spec.md §4.H: it builds the node
// population and topology from a config.Config, seeds genesis and each
// node's first mining attempt, pumps the event queue until the termination
// predicate is met, and flushes the propagation observer.
package sim

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/Unipisa/SimBlock/internal/chain"
	"github.com/Unipisa/SimBlock/internal/config"
	"github.com/Unipisa/SimBlock/internal/consensus"
	"github.com/Unipisa/SimBlock/internal/consensus/pow"
	"github.com/Unipisa/SimBlock/internal/metrics"
	"github.com/Unipisa/SimBlock/internal/netmodel"
	"github.com/Unipisa/SimBlock/internal/node"
	"github.com/Unipisa/SimBlock/internal/simctx"
	"github.com/Unipisa/SimBlock/internal/simlog"
	"github.com/Unipisa/SimBlock/internal/task"
	"github.com/Unipisa/SimBlock/internal/topology"
)

// minMiningPower is the floor applied to a sampled mining power: the
// Minting sampler divides by it, so a non-positive draw would produce an
// infinite or undefined delay rather than a merely slow miner.
const minMiningPower = 1

// engines maps cfg.Algo to a constructor for its consensus.Engine. Proof of
// Work is the only one built in; a Proof-of-Stake plugin would register
// itself here without the rest of this package changing (spec.md §4.D).
var engines = map[string]func(cfg config.Config, rng *rand.Rand) consensus.Engine{
	"pow": func(cfg config.Config, rng *rand.Rand) consensus.Engine {
		return &pow.Engine{
			TargetIntervalMs:   cfg.IntervalMs,
			DifficultyInterval: cfg.DifficultyInterval,
			InitialDifficulty:  cfg.InitialDifficultyBig(),
			PowerLookup:        func(nodeID int) int64 { return 0 }, // overwritten by Build once nodes exist
			Rand:               rng,
		}
	},
}

// Deps bundles the loaded external collaborators a run needs beyond the
// bare config: the region/latency table, an optional degree distribution,
// a logger, a metrics registry, and the output sink. Log, Metrics, and
// Degrees may be nil.
type Deps struct {
	Table   *netmodel.RegionTable
	Degrees *config.DegreeDistribution
	Log     *simlog.Logger
	Metrics *metrics.Registry
	Sink    io.Writer
	RunID   string
}

// Build constructs a ready-to-run simctx.Context: it samples each node's
// region, mining power, and CBR/churn flags, wires the neighbor topology,
// seeds a shared genesis block, and arms every node's first mining attempt.
func Build(cfg config.Config, deps Deps) (*simctx.Context, error) {
	newEngine, ok := engines[cfg.Algo]
	if !ok {
		return nil, fmt.Errorf("%w: algo %q", config.ErrUnknownStrategy, cfg.Algo)
	}
	if deps.Table == nil {
		return nil, fmt.Errorf("sim: build: no region table supplied")
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	netModel := netmodel.New(deps.Table, rng)
	engine := newEngine(cfg, rng)

	ctx := simctx.New(cfg, engine, netModel, rng, deps.Log, deps.Metrics, deps.Sink, deps.RunID)

	numRegions := len(deps.Table.UploadBps)
	if numRegions == 0 {
		numRegions = 1
	}
	powerByNode := make(map[int]int64, cfg.NumOfNodes)

	for i := 0; i < cfg.NumOfNodes; i++ {
		region := rng.Intn(numRegions)
		power := sampleMiningPower(cfg, rng)
		useCBR := rng.Float64() < cfg.CBRUsageRate
		isChurn := rng.Float64() < cfg.ChurnNodeRate

		n := node.New(i, region, power, useCBR, isChurn)
		ctx.AddNode(n)
		powerByNode[i] = power
	}

	if powEngine, ok := engine.(*pow.Engine); ok {
		powEngine.PowerLookup = func(nodeID int) int64 { return powerByNode[nodeID] }
	}

	strategy, err := topology.Resolve(cfg.Table)
	if err != nil {
		return nil, err
	}
	neighbors := strategy.Build(cfg.NumOfNodes, deps.Degrees, rng)
	for i, peers := range neighbors {
		for _, peer := range peers {
			ctx.Nodes[i].AddNeighbor(peer)
			ctx.Nodes[peer].AddNeighbor(i)
		}
	}

	genesis := engine.GenesisBlock(ctx.NextBlockID(), -1, 0)
	// Arming order matters: ArmMining draws from the shared PRNG, and Go
	// randomizes map-range order per execution, so ranging over ctx.Nodes
	// directly would make each node's first mining delay depend on
	// iteration order rather than only on the seed (spec.md §5/§8 S6).
	// Node ids were assigned 0..NumOfNodes-1 above, so a plain numeric
	// range gives a stable order without an extra sort.
	for i := 0; i < cfg.NumOfNodes; i++ {
		n := ctx.Nodes[i]
		n.Tip = genesis
		n.Known.Add(genesis.Base().ID())
		task.ArmMining(ctx, n)
	}

	return ctx, nil
}

// sampleMiningPower draws a node's mining power from Normal(AverageMiningPower,
// StdevMiningPower), clamped to minMiningPower so the Minting sampler's
// division never sees a non-positive divisor.
func sampleMiningPower(cfg config.Config, rng *rand.Rand) int64 {
	sample := cfg.AverageMiningPower + rng.NormFloat64()*cfg.StdevMiningPower
	power := int64(sample)
	if power < minMiningPower {
		power = minMiningPower
	}
	return power
}

// Run pumps ctx's event queue until it empties or any node's tip has
// reached endHeight (spec.md §4.H step 4), then flushes the
// observer's remaining tracked blocks to its sink. If two consecutive
// observer writes fail, ctx.AbortErr is set (spec.md §7) and Run stops
// pumping and returns it without attempting the final flush, since the sink
// has already demonstrated it cannot be written to.
func Run(ctx *simctx.Context, endHeight int64) error {
	target := chain.Height(endHeight)
	for ctx.AbortErr == nil && ctx.Clock.Len() > 0 && ctx.MaxTipHeight() < target {
		if !ctx.Clock.RunNext() {
			break
		}
		if ctx.Metrics != nil {
			ctx.Metrics.EventsProcessed.Inc()
			ctx.Metrics.EventQueueDepth.Set(float64(ctx.Clock.Len()))
		}
	}
	if ctx.AbortErr != nil {
		return ctx.AbortErr
	}
	return ctx.Observer.FlushAll(ctx.Sink)
}
