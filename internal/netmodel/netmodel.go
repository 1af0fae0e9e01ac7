// Package netmodel simulates region-to-region network latency and
// bandwidth-limited transfer time. It consumes static per-region tables
// (loaded by internal/config) and draws samples from the simulation's shared
// PRNG so the whole run stays reproducible under a fixed seed.
package netmodel

import (
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// ProcessingDelayMs is the fixed per-message processing term added on top of
// the sampled network latency.
const ProcessingDelayMs = 10

// RegionTable holds, for every ordered pair of regions, the mean and
// standard deviation (ms) of the latency distribution between them, plus
// per-region upload/download bandwidth in bits/ms.
type RegionTable struct {
	LatencyMeanMs   [][]float64 `yaml:"LatencyMeanMs"`
	LatencyStdDevMs [][]float64 `yaml:"LatencyStdDevMs"`
	UploadBps       []float64   `yaml:"UploadBps"`   // bits/ms
	DownloadBps     []float64   `yaml:"DownloadBps"` // bits/ms
}

// Model is the network model used by the simulation; it is grounded on the
// downloadTime/messageLatency contract of spec.md §4.B.
type Model struct {
	table *RegionTable
	rng   *rand.Rand
}

// New builds a Model over the given table, drawing samples from rng (the
// simulation's single shared PRNG — see internal/sim.Context).
func New(table *RegionTable, rng *rand.Rand) *Model {
	return &Model{table: table, rng: rng}
}

// MessageLatency returns a sampled one-way latency in ms between regions a
// and b: a Normal(mean, stddev) draw (floored at zero) plus the fixed
// processing term.
func (m *Model) MessageLatency(a, b int) int64 {
	mean := m.table.LatencyMeanMs[a][b]
	stddev := m.table.LatencyStdDevMs[a][b]
	dist := distuv.Normal{Mu: mean, Sigma: stddev, Src: m.rngSource()}
	sample := dist.Rand()
	if sample < 0 {
		sample = 0
	}
	return int64(sample) + ProcessingDelayMs
}

// DownloadTime returns the time in ms to transfer a payload of the given
// size in bytes from sender's region to receiver's region: the bandwidth-
// limited transfer time, bottlenecked by the slower of the sender's upload
// and the receiver's download capacity, plus one MessageLatency term.
func (m *Model) DownloadTime(senderRegion, receiverRegion int, bytes int64) int64 {
	bitsPerMs := m.table.UploadBps[senderRegion]
	if d := m.table.DownloadBps[receiverRegion]; d < bitsPerMs {
		bitsPerMs = d
	}
	bits := float64(bytes) * 8
	transferMs := bits / bitsPerMs
	return int64(transferMs) + m.MessageLatency(senderRegion, receiverRegion)
}

// rngSource adapts *rand.Rand to gonum's distuv.Rander source requirement.
func (m *Model) rngSource() rand.Source {
	return m.rng
}
