package node

import (
	"math/big"
	"testing"

	"github.com/Unipisa/SimBlock/internal/chain"
	"github.com/stretchr/testify/require"
)

type stubTask struct{ cancelled bool }

func (s *stubTask) Execute()        {}
func (s *stubTask) Cancel()         { s.cancelled = true }
func (s *stubTask) Cancelled() bool { return s.cancelled }

func TestCancelMiningTaskTombstonesAndClears(t *testing.T) {
	n := New(0, 0, 10, false, false)
	task := &stubTask{}
	n.MiningTask = task
	n.CancelMiningTask()
	require.True(t, task.cancelled)
	require.Nil(t, n.MiningTask)
}

func TestDownloadLifecycle(t *testing.T) {
	n := New(0, 0, 10, false, false)
	blockID := chain.BlockID(42)
	n.StartDownload(blockID, 1, StateAwaitingFullBlock)

	d, ok := n.DownloadFor(blockID)
	require.True(t, ok)
	require.Equal(t, StateAwaitingFullBlock, d.State)

	n.FinishDownload(blockID)
	_, ok = n.DownloadFor(blockID)
	require.False(t, ok)
}

type stubBlock struct {
	base   *chain.Block
	weight *big.Int
}

func (s *stubBlock) Base() *chain.Block { return s.base }
func (s *stubBlock) Weight() *big.Int   { return s.weight }

func TestOrphanQueueAndReplay(t *testing.T) {
	n := New(0, 0, 10, false, false)
	parent := chain.BlockID(7)
	b8 := &stubBlock{base: chain.NewGenesis(8, 1, 0), weight: big.NewInt(1)}
	b9 := &stubBlock{base: chain.NewGenesis(9, 1, 0), weight: big.NewInt(1)}
	n.QueueOrphan(parent, OrphanInv{From: 2, Block: b8})
	n.QueueOrphan(parent, OrphanInv{From: 3, Block: b9})

	orphans := n.TakeOrphans(parent)
	require.Len(t, orphans, 2)

	again := n.TakeOrphans(parent)
	require.Empty(t, again)
}

func TestAddNeighbor(t *testing.T) {
	n := New(0, 0, 10, false, false)
	n.AddNeighbor(5)
	n.AddNeighbor(5)
	require.Equal(t, 1, n.Neighbors.Cardinality())
	require.True(t, n.Neighbors.Contains(5))
}
