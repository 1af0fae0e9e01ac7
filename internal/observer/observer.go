// Package observer implements the propagation observer: per-block,
// first-seen arrival bookkeeping over a bounded, strictly FIFO window of
// recently-observed blocks, flushed to a text sink on eviction and on
// shutdown.
package observer

import (
	"container/list"
	"fmt"
	"io"

	"github.com/Unipisa/SimBlock/internal/chain"
)

// DefaultWindow is the observer's default capacity (spec.md §9: "Observer
// capacity of 10 is a magic number; it should be configurable").
const DefaultWindow = 10

// record is one tracked block's insertion-ordered arrival mapping.
type record struct {
	block       chain.BlockID
	mintTimeMs  int64
	minter      int
	propagation map[int]int64 // nodeID -> arrival - mintTime, first-seen only
	order       []int         // insertion order of node ids, for deterministic flush
}

// Observer is the propagation observer of spec.md §4.G. It is not safe for
// concurrent use, matching the rest of the single-threaded simulation.
type Observer struct {
	capacity int
	order    *list.List // of *record, oldest at Front
	byBlock  map[chain.BlockID]*list.Element
}

// New returns an Observer with the given window capacity. capacity <= 0 is
// treated as DefaultWindow.
func New(capacity int) *Observer {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &Observer{
		capacity: capacity,
		order:    list.New(),
		byBlock:  make(map[chain.BlockID]*list.Element),
	}
}

// ArriveBlock records the first-seen arrival of block at node, at virtual
// time now. Sink receives the flushed text for any block evicted to make
// room for a newly-tracked block (nil sink silently drops the flush, used in
// tests that only care about in-memory state).
func (o *Observer) ArriveBlock(sink io.Writer, block chain.BlockID, mintTimeMs int64, minter, nodeID int, now int64) error {
	if elem, ok := o.byBlock[block]; ok {
		r := elem.Value.(*record)
		if _, seen := r.propagation[nodeID]; !seen {
			r.propagation[nodeID] = now - mintTimeMs
			r.order = append(r.order, nodeID)
		}
		return nil
	}

	if o.order.Len() >= o.capacity {
		oldest := o.order.Front()
		r := oldest.Value.(*record)
		if err := writeRecord(sink, r); err != nil {
			return err
		}
		o.order.Remove(oldest)
		delete(o.byBlock, r.block)
	}

	r := &record{
		block:       block,
		mintTimeMs:  mintTimeMs,
		minter:      minter,
		propagation: map[int]int64{nodeID: now - mintTimeMs},
		order:       []int{nodeID},
	}
	o.byBlock[block] = o.order.PushBack(r)
	return nil
}

// FlushAll writes every remaining tracked record to sink, in insertion
// (oldest-first) order, and clears the observer. Called on simulation
// shutdown.
func (o *Observer) FlushAll(sink io.Writer) error {
	for e := o.order.Front(); e != nil; e = e.Next() {
		if err := writeRecord(sink, e.Value.(*record)); err != nil {
			return err
		}
	}
	o.order.Init()
	o.byBlock = make(map[chain.BlockID]*list.Element)
	return nil
}

// Tracked reports how many blocks are currently being tracked.
func (o *Observer) Tracked() int {
	return o.order.Len()
}

// writeRecord writes one line per (block, nodeID) pair with nonzero
// propagation time, suppressing the minter-of-record's own zero-delay line
// (spec.md §4.G/§6).
func writeRecord(sink io.Writer, r *record) error {
	if sink == nil {
		return nil
	}
	for _, nodeID := range r.order {
		delay := r.propagation[nodeID]
		if delay == 0 {
			continue
		}
		if _, err := fmt.Fprintf(sink, "%d\n", delay); err != nil {
			return err
		}
	}
	return nil
}
