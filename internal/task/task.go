// Package task implements the message/task taxonomy of spec.md §4.F and the
// transition logic of the node state machine in §4.E: INV propagation,
// compact-block relay with failure/fallback, and mining. Every task type
// implements internal/clock.Task and carries the internal/simctx.Context it
// mutates when executed.
package task

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/Unipisa/SimBlock/internal/chain"
	"github.com/Unipisa/SimBlock/internal/consensus"
	"github.com/Unipisa/SimBlock/internal/node"
	"github.com/Unipisa/SimBlock/internal/simctx"
)

// base is embedded by every concrete task and implements the tombstone
// half of the clock.Task contract.
type base struct {
	ctx       *simctx.Context
	cancelled bool
}

func (b *base) Cancel()         { b.cancelled = true }
func (b *base) Cancelled() bool { return b.cancelled }

// MiningTask fires when a node's mining attempt would succeed. adoptTip
// tombstones the node's pending MiningTask via Cancel whenever the tip
// changes; in addition, Execute is a stale no-op if the node's tip is not
// the tip the task was armed on (spec.md §3's invariant), which covers a
// task whose node had its tip replaced without going through adoptTip.
type MiningTask struct {
	base
	NodeID     int
	ParentTip  consensus.Block
	Difficulty *big.Int
}

// NewMiningTask constructs and schedules a MiningTask delayMs in the future.
func NewMiningTask(ctx *simctx.Context, nodeID int, parentTip consensus.Block, difficulty *big.Int, delayMs int64) *MiningTask {
	t := &MiningTask{base: base{ctx: ctx}, NodeID: nodeID, ParentTip: parentTip, Difficulty: difficulty}
	ctx.Clock.Schedule(t, delayMs)
	return t
}

func (t *MiningTask) Execute() {
	n := t.ctx.Nodes[t.NodeID]
	if n.Tip != t.ParentTip {
		// Stale: superseded by a different tip while this attempt was
		// outstanding. Silently dropped, not an error (spec.md §7).
		return
	}
	now := t.ctx.Now()
	blockID := t.ctx.NextBlockID()
	newBlock := t.ctx.Consensus.NewBlock(blockID, t.ParentTip, t.NodeID, now, t.Difficulty)
	if t.ctx.Metrics != nil {
		t.ctx.Metrics.BlocksMined.Inc()
	}
	adoptTip(t.ctx, n, newBlock)
}

// InvTask announces a block to a peer. On execution it drives the Idle
// transition of spec.md §4.E's table.
type InvTask struct {
	base
	From, To int
	Block    consensus.Block
}

// NewInvTask constructs and schedules an InvTask, self-scheduling at
// messageLatency(from.region, to.region) as spec.md §4.F requires of every
// message task.
func NewInvTask(ctx *simctx.Context, from, to int, block consensus.Block) *InvTask {
	t := &InvTask{base: base{ctx: ctx}, From: from, To: to, Block: block}
	latency := ctx.Net.MessageLatency(ctx.Nodes[from].Region, ctx.Nodes[to].Region)
	ctx.Clock.Schedule(t, latency)
	return t
}

func (t *InvTask) Execute() {
	handleInv(t.ctx, t.ctx.Nodes[t.To], t.From, t.Block)
}

// handleInv implements the Idle row of spec.md §4.E's table plus the
// orphan-queueing anomaly of §7.
func handleInv(ctx *simctx.Context, n *node.Node, from int, block consensus.Block) {
	if n.Known.Contains(block.Base().ID()) {
		return
	}
	if parent := block.Base().Parent(); parent != nil && !n.Known.Contains(parent.ID()) {
		n.QueueOrphan(parent.ID(), node.OrphanInv{From: from, Block: block})
		return
	}
	n.Known.Add(block.Base().ID())
	replayOrphans(ctx, n, block.Base().ID())

	if n.Tip != nil && block.Weight().Cmp(n.Tip.Weight()) <= 0 {
		// Not better than our current tip: no download needed.
		return
	}
	if _, inFlight := n.DownloadFor(block.Base().ID()); inFlight {
		return
	}

	sender := ctx.Nodes[from]
	if n.UseCBR && sender.UseCBR {
		n.StartDownload(block.Base().ID(), from, node.StateAwaitingCmpct)
		NewCmpctBlockMessageTask(ctx, from, n.ID, block)
	} else {
		n.StartDownload(block.Base().ID(), from, node.StateAwaitingFullBlock)
		NewBlockMessageTask(ctx, from, n.ID, block, ctx.Config.BlockSizeBytes)
	}
}

// replayOrphans re-delivers any INVs queued on parent now that it is known,
// recursing through handleInv so a chain of orphans unwinds in one pass.
func replayOrphans(ctx *simctx.Context, n *node.Node, parent chain.BlockID) {
	for _, o := range n.TakeOrphans(parent) {
		handleInv(ctx, n, o.From, o.Block)
	}
}

// CmpctBlockMessageTask models the compact-block transfer: after
// downloadTime(COMPACT_BLOCK_SIZE), either succeeds (Delivered) or fails
// into AwaitingFallback, per a churn/control-dependent failure rate.
type CmpctBlockMessageTask struct {
	base
	From, To int
	Block    consensus.Block
}

func NewCmpctBlockMessageTask(ctx *simctx.Context, from, to int, block consensus.Block) *CmpctBlockMessageTask {
	t := &CmpctBlockMessageTask{base: base{ctx: ctx}, From: from, To: to, Block: block}
	dt := ctx.Net.DownloadTime(ctx.Nodes[from].Region, ctx.Nodes[to].Region, ctx.Config.CompactBlockSizeBytes)
	ctx.Clock.Schedule(t, dt)
	return t
}

func (t *CmpctBlockMessageTask) Execute() {
	n := t.ctx.Nodes[t.To]
	if _, ok := n.DownloadFor(t.Block.Base().ID()); !ok {
		return // superseded/cancelled in the interim
	}

	failureRate := t.ctx.Config.CBRFailureRateControl
	if n.IsChurnNode {
		failureRate = t.ctx.Config.CBRFailureRateChurn
	}
	if t.ctx.Rand.Float64() >= failureRate {
		deliver(t.ctx, n, t.Block)
		return
	}

	fallbackSize := sampleFallbackSize(t.ctx)
	n.StartDownload(t.Block.Base().ID(), t.From, node.StateAwaitingFallback)
	NewRecBlockTxnTask(t.ctx, t.From, t.To, t.Block, fallbackSize)
}

// sampleFallbackSize draws a byte size from the configured empirical CDF
// (CBR_FAILURE_BLOCK_SIZE_DISTRIBUTION_*), falling back to the full block
// size if no distribution was configured.
func sampleFallbackSize(ctx *simctx.Context) int64 {
	dist := ctx.Config.CBRFailureSizeDistribution
	if len(dist) == 0 {
		return ctx.Config.BlockSizeBytes
	}
	u := ctx.Rand.Float64()
	for _, entry := range dist {
		if u <= entry.CumulativeP {
			return entry.Bytes
		}
	}
	return dist[len(dist)-1].Bytes
}

// RecBlockTxnTask is the fallback transfer scheduled after a CBR failure: a
// GET_BLOCK_TXN/REC_BLOCK_TXN round-trip modeled as a single
// downloadTime(sampledSize) delay, after which the block is Delivered.
type RecBlockTxnTask struct {
	base
	From, To int
	Block    consensus.Block
}

func NewRecBlockTxnTask(ctx *simctx.Context, from, to int, block consensus.Block, fallbackSize int64) *RecBlockTxnTask {
	t := &RecBlockTxnTask{base: base{ctx: ctx}, From: from, To: to, Block: block}
	dt := ctx.Net.DownloadTime(ctx.Nodes[from].Region, ctx.Nodes[to].Region, fallbackSize)
	ctx.Clock.Schedule(t, dt)
	return t
}

func (t *RecBlockTxnTask) Execute() {
	n := t.ctx.Nodes[t.To]
	if d, ok := n.DownloadFor(t.Block.Base().ID()); !ok || d.State != node.StateAwaitingFallback {
		return
	}
	deliver(t.ctx, n, t.Block)
}

// GetBlockTxnTask exists to name the request half of the CBR-failure
// round-trip in the taxonomy of spec.md §4.F; its effect is folded into
// RecBlockTxnTask's single scheduled delay (CBR failure is always followed
// by exactly one successful fallback transfer, never a further retry —
// spec.md §7).
type GetBlockTxnTask struct {
	base
	From, To int
	Block    consensus.Block
}

func (t *GetBlockTxnTask) Execute() {}

// BlockMessageTask models a full-block (non-CBR) transfer: after
// downloadTime(BLOCK_SIZE), the block is Delivered.
type BlockMessageTask struct {
	base
	From, To int
	Block    consensus.Block
}

func NewBlockMessageTask(ctx *simctx.Context, from, to int, block consensus.Block, sizeBytes int64) *BlockMessageTask {
	t := &BlockMessageTask{base: base{ctx: ctx}, From: from, To: to, Block: block}
	dt := ctx.Net.DownloadTime(ctx.Nodes[from].Region, ctx.Nodes[to].Region, sizeBytes)
	ctx.Clock.Schedule(t, dt)
	return t
}

func (t *BlockMessageTask) Execute() {
	n := t.ctx.Nodes[t.To]
	if _, ok := n.DownloadFor(t.Block.Base().ID()); !ok {
		return
	}
	deliver(t.ctx, n, t.Block)
}

// deliver implements the Delivered row of spec.md §4.E's table: validate,
// and if valid, adopt as tip (cancelling any in-flight MiningTask,
// rebroadcasting INV, arming the next MiningTask, and notifying the
// observer); either way the in-flight download record is cleared.
func deliver(ctx *simctx.Context, n *node.Node, block consensus.Block) {
	n.FinishDownload(block.Base().ID())
	if !ctx.Consensus.IsReceivedBlockValid(block, n.Tip) {
		return
	}
	adoptTip(ctx, n, block)
}

// adoptTip performs the common "accept block as new tip" side effects
// shared by mining a block locally and receiving a valid one from a peer.
func adoptTip(ctx *simctx.Context, n *node.Node, block consensus.Block) {
	n.CancelMiningTask()
	n.Tip = block
	n.Known.Add(block.Base().ID())

	now := ctx.Now()
	if err := ctx.Observer.ArriveBlock(ctx.Sink, block.Base().ID(), block.Base().MintTimeMs(), block.Base().Producer(), n.ID, now); err != nil {
		ctx.RecordIOFailure(err)
		if ctx.Log != nil {
			ctx.Log.WithRun(ctx.RunID, ctx.Config.Seed).WithField("node", n.ID).Warn(fmt.Sprintf("observer flush failed: %v", err))
		}
	} else {
		ctx.ClearIOFailure()
	}
	if ctx.Metrics != nil {
		delay := now - block.Base().MintTimeMs()
		ctx.Metrics.PropagationDelay.Observe(float64(delay))
	}

	broadcastInv(ctx, n, block)
	replayOrphans(ctx, n, block.Base().ID())
	ArmMining(ctx, n)
}

// broadcastInv sends INV(block) to every outbound neighbor, each scheduled
// independently at messageLatency(self.region, peer.region) — spec.md §4.E
// notes these are not guaranteed to arrive in send order. Neighbors are
// visited in sorted peer-id order rather than n.Neighbors' native map
// iteration order: each NewInvTask draws from the shared PRNG via
// MessageLatency, and Go randomizes map-range order per execution, so an
// unsorted walk would make the sequence of latency draws (and everything
// stochastic downstream of it) depend on iteration order instead of only
// on the seed (spec.md §5/§8 S6).
func broadcastInv(ctx *simctx.Context, n *node.Node, block consensus.Block) {
	peers := n.Neighbors.ToSlice()
	sort.Ints(peers)
	for _, peerID := range peers {
		NewInvTask(ctx, n.ID, peerID, block)
	}
}

// ArmMining schedules a node's next MiningTask via the consensus engine's
// sampler. Called both after adopting a new tip and once at startup for each
// node's first attempt atop genesis. A sampler precondition violation
// (spec.md §4.D / §9) is fatal, since it indicates a configuration or
// invariant bug rather than a recoverable runtime condition: with a logger
// set, it is logged at Fatal level, which exits the process; with no
// logger, ArmMining panics with the wrapped error. It is never returned to
// the caller.
func ArmMining(ctx *simctx.Context, n *node.Node) {
	plan, err := ctx.Consensus.Minting(n.Tip, n.MiningPower)
	if err != nil {
		if ctx.Log != nil {
			ctx.Log.WithRun(ctx.RunID, ctx.Config.Seed).WithField("node", n.ID).Fatalf("mining sampler: %v", err)
		}
		panic(fmt.Errorf("task: node %d: %w", n.ID, err))
	}
	n.MiningTask = NewMiningTask(ctx, n.ID, n.Tip, plan.Difficulty, plan.DelayMs)
}
