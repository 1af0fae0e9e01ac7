// Package node holds the per-node mutable simulation state: chain tip,
// outbound neighbor set, in-flight block downloads, and queued orphan
// announcements. The state-machine transitions that drive this state
// (spec.md §4.E) live in internal/task, which treats Node as a data
// container it mutates as tasks execute.
package node

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Unipisa/SimBlock/internal/chain"
	"github.com/Unipisa/SimBlock/internal/clock"
	"github.com/Unipisa/SimBlock/internal/consensus"
)

// DownloadState is a per-(block,peer) transfer state, the non-terminal
// states of spec.md §4.E's table ("Delivered" is terminal and modeled by
// removing the Download entry rather than storing it).
type DownloadState int

const (
	StateAwaitingCmpct DownloadState = iota
	StateAwaitingFullBlock
	StateAwaitingFallback
)

// Download tracks one in-flight block transfer.
type Download struct {
	From  int
	Block chain.BlockID
	State DownloadState
}

// OrphanInv is a queued INV whose parent block was not yet known locally; it
// is replayed once that parent becomes known, either by processing the
// parent's INV or by adopting the parent as tip (spec.md §4.E). The full
// block is carried (not just its id) since, in this simulation, INV messages
// reference live block objects rather than bytes to re-fetch.
type OrphanInv struct {
	From  int
	Block consensus.Block
}

// Node is one participant in the simulated network.
type Node struct {
	ID          int
	Region      int
	MiningPower int64
	UseCBR      bool
	IsChurnNode bool

	Tip        consensus.Block
	MiningTask clock.Task

	Neighbors mapset.Set[int]

	// Known holds every block id whose INV this node has processed (its
	// parent's INV was processed first), independent of whether the block
	// was ever downloaded or adopted as tip. It is what makes a later
	// child's INV resolvable rather than an orphan.
	Known mapset.Set[chain.BlockID]

	// Downloads holds in-flight transfers keyed by the block being
	// downloaded; at most one concurrent download per block per node.
	Downloads map[chain.BlockID]*Download

	// Orphans holds INVs queued on an unknown parent, keyed by that
	// parent's block id.
	Orphans map[chain.BlockID][]OrphanInv
}

// New constructs a Node with empty peer/download/orphan state.
func New(id, region int, miningPower int64, useCBR, isChurnNode bool) *Node {
	return &Node{
		ID:          id,
		Region:      region,
		MiningPower: miningPower,
		UseCBR:      useCBR,
		IsChurnNode: isChurnNode,
		Neighbors:   mapset.NewSet[int](),
		Known:       mapset.NewSet[chain.BlockID](),
		Downloads:   make(map[chain.BlockID]*Download),
		Orphans:     make(map[chain.BlockID][]OrphanInv),
	}
}

// AddNeighbor registers an outbound peer.
func (n *Node) AddNeighbor(peerID int) {
	n.Neighbors.Add(peerID)
}

// CancelMiningTask tombstones the node's current mining task, if any, per
// the invariant that a node never holds more than one outstanding
// MiningTask (spec.md §3).
func (n *Node) CancelMiningTask() {
	if n.MiningTask != nil {
		n.MiningTask.Cancel()
		n.MiningTask = nil
	}
}

// StartDownload begins tracking a new in-flight transfer for blockID.
func (n *Node) StartDownload(blockID chain.BlockID, from int, state DownloadState) {
	n.Downloads[blockID] = &Download{From: from, Block: blockID, State: state}
}

// DownloadFor returns the in-flight download for blockID, if any.
func (n *Node) DownloadFor(blockID chain.BlockID) (*Download, bool) {
	d, ok := n.Downloads[blockID]
	return d, ok
}

// FinishDownload removes the in-flight transfer record for blockID (the
// Delivered terminal state of spec.md §4.E's table).
func (n *Node) FinishDownload(blockID chain.BlockID) {
	delete(n.Downloads, blockID)
}

// QueueOrphan records an INV whose parent is unknown.
func (n *Node) QueueOrphan(parent chain.BlockID, inv OrphanInv) {
	n.Orphans[parent] = append(n.Orphans[parent], inv)
}

// TakeOrphans returns and clears the queued orphans for a parent block id,
// called when that parent becomes known (its INV is processed, or it is
// adopted as tip).
func (n *Node) TakeOrphans(parent chain.BlockID) []OrphanInv {
	orphans := n.Orphans[parent]
	delete(n.Orphans, parent)
	return orphans
}
