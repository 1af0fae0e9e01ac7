package sim

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Unipisa/SimBlock/internal/config"
	"github.com/Unipisa/SimBlock/internal/netmodel"
)

// alwaysFailWriter simulates a sink that never accepts a write, to exercise
// the consecutive-I/O-failure abort path (spec.md §7).
type alwaysFailWriter struct{}

func (alwaysFailWriter) Write(p []byte) (int, error) {
	return 0, errors.New("sim_test: simulated sink failure")
}

func singleRegionTable(n int) *netmodel.RegionTable {
	mean := make([][]float64, n)
	stddev := make([][]float64, n)
	up := make([]float64, n)
	down := make([]float64, n)
	for i := 0; i < n; i++ {
		mean[i] = make([]float64, n)
		stddev[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i != j {
				mean[i][j] = 100
				stddev[i][j] = 1
			}
		}
		up[i] = 1_000_000
		down[i] = 1_000_000
	}
	return &netmodel.RegionTable{LatencyMeanMs: mean, LatencyStdDevMs: stddev, UploadBps: up, DownloadBps: down}
}

func TestSingleNodeReachesEndHeightWithNoNetworkTraffic(t *testing.T) {
	cfg := config.Default()
	cfg.NumOfNodes = 1
	cfg.EndBlockHeight = 5
	cfg.DifficultyInterval = 1000
	cfg.BlockSizeBytes = 1000
	cfg.CompactBlockSizeBytes = 200
	cfg.Seed = 7

	var sink bytes.Buffer
	ctx, err := Build(cfg, Deps{Table: singleRegionTable(1), Sink: &sink, RunID: "s1"})
	require.NoError(t, err)

	require.NoError(t, Run(ctx, cfg.EndBlockHeight))
	require.GreaterOrEqual(t, int64(ctx.MaxTipHeight()), cfg.EndBlockHeight)
	// A lone node never receives an INV from anyone else, so the observer
	// never has a second arrival to record a nonzero line for.
	require.Empty(t, strings.TrimSpace(sink.String()))
}

func TestTwoNodesPropagateAndObserverRecordsDelay(t *testing.T) {
	cfg := config.Default()
	cfg.NumOfNodes = 2
	cfg.EndBlockHeight = 8
	cfg.DifficultyInterval = 1000
	cfg.BlockSizeBytes = 1000
	cfg.CompactBlockSizeBytes = 200
	cfg.CBRUsageRate = 0 // force full-block transfer, simplest path
	cfg.Seed = 42

	var sink bytes.Buffer
	ctx, err := Build(cfg, Deps{Table: singleRegionTable(1), Sink: &sink, RunID: "s2"})
	require.NoError(t, err)
	// Both nodes must be able to reach each other for propagation to occur.
	ctx.Nodes[0].AddNeighbor(1)
	ctx.Nodes[1].AddNeighbor(0)

	require.NoError(t, Run(ctx, cfg.EndBlockHeight))
	require.GreaterOrEqual(t, int64(ctx.MaxTipHeight()), cfg.EndBlockHeight)
	require.NotEmpty(t, strings.TrimSpace(sink.String()))
}

func TestRunIsDeterministicForAFixedSeed(t *testing.T) {
	cfg := config.Default()
	cfg.NumOfNodes = 6
	cfg.EndBlockHeight = 6
	cfg.DifficultyInterval = 3
	cfg.Seed = 99

	run := func() string {
		var sink bytes.Buffer
		ctx, err := Build(cfg, Deps{Table: singleRegionTable(2), Sink: &sink, RunID: "det"})
		require.NoError(t, err)
		require.NoError(t, Run(ctx, cfg.EndBlockHeight))
		return sink.String()
	}

	require.Equal(t, run(), run())
}

func TestRunAbortsAfterTwoConsecutiveObserverWriteFailures(t *testing.T) {
	cfg := config.Default()
	// Two nodes, so a block's record holds the peer's nonzero delay and an
	// eviction really writes to the sink (a lone node only records zero
	// delays, which are never written).
	cfg.NumOfNodes = 2
	cfg.EndBlockHeight = 20
	cfg.DifficultyInterval = 1000
	cfg.ObserverWindow = 1
	cfg.Seed = 3

	ctx, err := Build(cfg, Deps{Table: singleRegionTable(1), Sink: alwaysFailWriter{}, RunID: "io-fail"})
	require.NoError(t, err)

	err = Run(ctx, cfg.EndBlockHeight)
	require.Error(t, err)
	require.Equal(t, ctx.AbortErr, err)
	// The run must stop well short of EndBlockHeight: it gives up after the
	// second consecutive failed eviction rather than grinding through 20
	// blocks against a sink that has already proven broken.
	require.Less(t, int64(ctx.MaxTipHeight()), cfg.EndBlockHeight)
}

func TestBuildRejectsUnknownAlgo(t *testing.T) {
	cfg := config.Default()
	cfg.Algo = "nonexistent"
	_, err := Build(cfg, Deps{Table: singleRegionTable(1)})
	require.ErrorIs(t, err, config.ErrUnknownStrategy)
}
