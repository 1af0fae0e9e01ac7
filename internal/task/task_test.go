package task

import (
	"bytes"
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Unipisa/SimBlock/internal/config"
	"github.com/Unipisa/SimBlock/internal/consensus/pow"
	"github.com/Unipisa/SimBlock/internal/netmodel"
	"github.com/Unipisa/SimBlock/internal/node"
	"github.com/Unipisa/SimBlock/internal/simctx"
)

func newTestContext(t *testing.T, n int) (*simctx.Context, *pow.Engine) {
	t.Helper()
	cfg := config.Default()
	cfg.BlockSizeBytes = 100
	cfg.CompactBlockSizeBytes = 10
	cfg.DifficultyInterval = 1000 // avoid retargeting mid-test

	rng := rand.New(rand.NewSource(1))
	engine := &pow.Engine{
		TargetIntervalMs:   cfg.IntervalMs,
		DifficultyInterval: cfg.DifficultyInterval,
		InitialDifficulty:  big.NewInt(1000),
		PowerLookup:        func(int) int64 { return 50 },
		Rand:               rng,
	}

	table := &netmodel.RegionTable{
		LatencyMeanMs:   [][]float64{{0, 100}, {100, 0}},
		LatencyStdDevMs: [][]float64{{1, 1}, {1, 1}},
		UploadBps:       []float64{1_000_000, 1_000_000},
		DownloadBps:     []float64{1_000_000, 1_000_000},
	}
	netModel := netmodel.New(table, rng)

	var buf bytes.Buffer
	ctx := simctx.New(cfg, engine, netModel, rng, nil, nil, &buf, "test-run")

	for i := 0; i < n; i++ {
		nd := node.New(i, i%2, 50, true, false)
		ctx.AddNode(nd)
	}
	return ctx, engine
}

func TestMiningTaskAdoptsTipAndRearms(t *testing.T) {
	ctx, engine := newTestContext(t, 1)
	n0 := ctx.Nodes[0]
	genesis := engine.GenesisBlock(ctx.NextBlockID(), 0, 0)
	n0.Tip = genesis
	n0.Known.Add(genesis.Base().ID())

	ArmMining(ctx, n0)
	require.NotNil(t, n0.MiningTask)

	require.True(t, ctx.Clock.RunNext())
	require.NotSame(t, genesis, n0.Tip)
	require.Equal(t, genesis.Base().Height()+1, n0.Tip.Base().Height())
	require.NotNil(t, n0.MiningTask) // a new one was armed
}

func TestStaleMiningTaskIsNoop(t *testing.T) {
	ctx, engine := newTestContext(t, 1)
	n0 := ctx.Nodes[0]
	genesis := engine.GenesisBlock(ctx.NextBlockID(), 0, 0)
	n0.Tip = genesis
	n0.Known.Add(genesis.Base().ID())

	stale := NewMiningTask(ctx, 0, genesis, big.NewInt(1000), 10)
	// Node moves to a different tip before the stale task fires.
	other := engine.NewBlock(ctx.NextBlockID(), genesis, 0, 5, big.NewInt(1000))
	n0.Tip = other

	require.True(t, ctx.Clock.RunNext())
	require.Same(t, other, n0.Tip)
	require.False(t, stale.cancelled)
}

func TestInvTaskTriggersFullBlockDownloadWithoutCBR(t *testing.T) {
	ctx, engine := newTestContext(t, 2)
	n0, n1 := ctx.Nodes[0], ctx.Nodes[1]
	n1.UseCBR = false
	genesis := engine.GenesisBlock(ctx.NextBlockID(), 0, 0)
	n0.Tip = genesis
	n0.Known.Add(genesis.Base().ID())
	n1.Known.Add(genesis.Base().ID())

	block := engine.NewBlock(ctx.NextBlockID(), genesis, 0, 0, big.NewInt(1000))
	NewInvTask(ctx, 0, 1, block)

	require.True(t, ctx.Clock.RunNext()) // INV delivered -> starts full-block download
	d, ok := n1.DownloadFor(block.Base().ID())
	require.True(t, ok)
	require.Equal(t, node.StateAwaitingFullBlock, d.State)

	require.True(t, ctx.Clock.RunNext()) // BlockMessageTask delivers
	require.Same(t, block, n1.Tip)
}

func TestCBRFailureFallsBackToRecBlockTxn(t *testing.T) {
	ctx, engine := newTestContext(t, 2)
	n0, n1 := ctx.Nodes[0], ctx.Nodes[1]
	ctx.Config.CBRFailureRateControl = 1.0 // always fail

	genesis := engine.GenesisBlock(ctx.NextBlockID(), 0, 0)
	n0.Tip = genesis
	n0.Known.Add(genesis.Base().ID())
	n1.Known.Add(genesis.Base().ID())

	block := engine.NewBlock(ctx.NextBlockID(), genesis, 0, 0, big.NewInt(1000))
	NewInvTask(ctx, 0, 1, block)

	require.True(t, ctx.Clock.RunNext()) // INV -> AwaitingCmpct
	d, _ := n1.DownloadFor(block.Base().ID())
	require.Equal(t, node.StateAwaitingCmpct, d.State)

	require.True(t, ctx.Clock.RunNext()) // CMPCT fails -> AwaitingFallback
	d, _ = n1.DownloadFor(block.Base().ID())
	require.Equal(t, node.StateAwaitingFallback, d.State)

	require.True(t, ctx.Clock.RunNext()) // fallback delivers
	require.Same(t, block, n1.Tip)
}

func TestOrphanInvReplayedWhenParentBecomesKnown(t *testing.T) {
	ctx, engine := newTestContext(t, 2)
	n0, n1 := ctx.Nodes[0], ctx.Nodes[1]

	genesis := engine.GenesisBlock(ctx.NextBlockID(), 0, 0)
	n0.Tip = genesis
	n0.Known.Add(genesis.Base().ID())
	n1.Known.Add(genesis.Base().ID())

	parent := engine.NewBlock(ctx.NextBlockID(), genesis, 0, 0, big.NewInt(1000))
	child := engine.NewBlock(ctx.NextBlockID(), parent, 0, 10, big.NewInt(1000))

	// Child's INV arrives before parent's: n1 doesn't know parent yet.
	handleInv(ctx, n1, 0, child)
	require.False(t, n1.Known.Contains(child.Base().ID()), "child should not be marked known while parent is unresolved")

	handleInv(ctx, n1, 0, parent)
	require.True(t, n1.Known.Contains(parent.Base().ID()))
	require.True(t, n1.Known.Contains(child.Base().ID()), "child should be replayed once parent becomes known")
}
