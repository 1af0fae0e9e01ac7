// Package topology builds the initial neighbor graph. spec.md treats the
// routing-table strategy as opaque (§1: "out of scope"); this package
// supplies the one concrete strategy ("random", selected by TABLE) the
// driver needs to produce a runnable simulation, behind a Strategy interface
// so alternative policies can be registered without touching internal/sim.
package topology

import (
	"fmt"
	"math/rand"

	"github.com/Unipisa/SimBlock/internal/config"
)

// Strategy assigns outbound neighbors to each of n nodes.
type Strategy interface {
	// Build returns, for each node index in [0, n), the set of outbound
	// peer indices.
	Build(n int, degrees *config.DegreeDistribution, rng *rand.Rand) [][]int
}

// randomStrategy wires each node to a random set of peers whose size is
// drawn from the configured degree distribution. A sampled degree of zero
// or less is raised to one, so every node has at least one outbound
// neighbor when n > 1; degrees are capped at n-1.
type randomStrategy struct{}

func (randomStrategy) Build(n int, degrees *config.DegreeDistribution, rng *rand.Rand) [][]int {
	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		degree := sampleDegree(degrees, rng)
		if degree <= 0 {
			degree = 1
		}
		if degree > n-1 {
			degree = n - 1
		}
		seen := make(map[int]bool, degree)
		peers := make([]int, 0, degree)
		for len(peers) < degree && len(seen) < n-1 {
			candidate := rng.Intn(n)
			if candidate == i || seen[candidate] {
				continue
			}
			seen[candidate] = true
			peers = append(peers, candidate)
		}
		neighbors[i] = peers
	}
	return neighbors
}

// sampleDegree draws a degree from the empirical CDF, falling back to 8 (a
// plausible default out-degree) when no distribution is configured.
func sampleDegree(degrees *config.DegreeDistribution, rng *rand.Rand) int {
	if degrees == nil || len(degrees.Degree) == 0 {
		return 8
	}
	u := rng.Float64()
	for i, cp := range degrees.CumulativeP {
		if u <= cp {
			return degrees.Degree[i]
		}
	}
	return degrees.Degree[len(degrees.Degree)-1]
}

var registry = map[string]Strategy{
	"default": randomStrategy{},
	"random":  randomStrategy{},
}

// Resolve looks up a named topology strategy, returning
// config.ErrUnknownStrategy if name is not registered.
func Resolve(name string) (Strategy, error) {
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: topology %q", config.ErrUnknownStrategy, name)
	}
	return s, nil
}
