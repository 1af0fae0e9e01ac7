// Package simctx defines the single struct threaded through every task's
// Execute call: the clock, network model, consensus engine, node registry,
// observer, PRNG, logger, and metrics. spec.md §9 calls this "a principled
// rewrite [that] threads a single SimulationContext through all tasks rather
// than relying on process-wide singletons"; this package is that rewrite.
package simctx

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/Unipisa/SimBlock/internal/chain"
	"github.com/Unipisa/SimBlock/internal/clock"
	"github.com/Unipisa/SimBlock/internal/config"
	"github.com/Unipisa/SimBlock/internal/consensus"
	"github.com/Unipisa/SimBlock/internal/metrics"
	"github.com/Unipisa/SimBlock/internal/netmodel"
	"github.com/Unipisa/SimBlock/internal/node"
	"github.com/Unipisa/SimBlock/internal/observer"
	"github.com/Unipisa/SimBlock/internal/simlog"
)

// Context is the simulation-wide state every task mutates. It is built once
// at startup and is not safe for concurrent use — the whole simulation runs
// on a single logical thread of control (spec.md §5).
type Context struct {
	Clock     *clock.Clock
	Net       *netmodel.Model
	Consensus consensus.Engine
	Nodes     map[int]*node.Node
	Observer  *observer.Observer
	Rand      *rand.Rand
	Log       *simlog.Logger
	Metrics   *metrics.Registry
	Sink      io.Writer
	Config    config.Config
	RunID     string

	// AbortErr is set once the observer sink has failed twice in a row
	// (spec.md §7: "a second consecutive I/O failure aborts the run"). The
	// simulation loop (internal/sim.Run) checks this after every event and
	// stops pumping once it is non-nil.
	AbortErr error

	nextBlockID      int64
	consecutiveIOErr int
}

// New constructs an empty Context; callers populate Nodes via AddNode and
// seed genesis/mining before running the clock.
func New(cfg config.Config, engine consensus.Engine, net *netmodel.Model, rng *rand.Rand, log *simlog.Logger, m *metrics.Registry, sink io.Writer, runID string) *Context {
	return &Context{
		Clock:     clock.New(),
		Net:       net,
		Consensus: engine,
		Nodes:     make(map[int]*node.Node),
		Observer:  observer.New(cfg.ObserverWindow),
		Rand:      rng,
		Log:       log,
		Metrics:   m,
		Sink:      sink,
		Config:    cfg,
		RunID:     runID,
	}
}

// AddNode registers n in the context's node registry.
func (c *Context) AddNode(n *node.Node) {
	c.Nodes[n.ID] = n
}

// NextBlockID returns a fresh, process-wide-unique block id.
func (c *Context) NextBlockID() chain.BlockID {
	c.nextBlockID++
	return chain.BlockID(c.nextBlockID)
}

// RecordIOFailure counts a failed write to the observer sink. A second
// consecutive failure sets AbortErr, the run's abort signal (spec.md §7); a
// single isolated failure is logged and tolerated, matching the node state
// machine's general policy of not treating I/O hiccups as fatal.
func (c *Context) RecordIOFailure(err error) {
	c.consecutiveIOErr++
	if c.consecutiveIOErr >= 2 {
		c.AbortErr = fmt.Errorf("simctx: aborting after %d consecutive observer I/O failures: %w", c.consecutiveIOErr, err)
	}
}

// ClearIOFailure resets the consecutive-I/O-failure counter after a
// successful write to the observer sink.
func (c *Context) ClearIOFailure() {
	c.consecutiveIOErr = 0
}

// Now is a convenience forward to the underlying clock's virtual time.
func (c *Context) Now() int64 {
	return c.Clock.Now()
}

// MaxTipHeight returns the greatest chain height any registered node's tip
// currently has, used by the termination predicate (spec.md §4.H step 4).
func (c *Context) MaxTipHeight() chain.Height {
	var max chain.Height
	first := true
	for _, n := range c.Nodes {
		if n.Tip == nil {
			continue
		}
		h := n.Tip.Base().Height()
		if first || h > max {
			max = h
			first = false
		}
	}
	return max
}
