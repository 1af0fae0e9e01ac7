package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetBlockWithHeightWalksAncestry(t *testing.T) {
	g := NewGenesis(1000, -1, 0)
	b1 := NewChild(1001, g, 0, 10)
	b2 := NewChild(1002, b1, 1, 20)
	b3 := NewChild(1003, b2, 0, 30)

	require.Same(t, g, b3.GetBlockWithHeight(0))
	require.Same(t, b1, b3.GetBlockWithHeight(1))
	require.Same(t, b2, b3.GetBlockWithHeight(2))
	require.Same(t, b3, b3.GetBlockWithHeight(3))
}

func TestGetBlockWithHeightOutOfRange(t *testing.T) {
	g := NewGenesis(1000, -1, 0)
	b1 := NewChild(1001, g, 0, 10)

	require.Nil(t, b1.GetBlockWithHeight(-1))
	require.Nil(t, b1.GetBlockWithHeight(2))
}

func TestGenesisHasNoParent(t *testing.T) {
	g := NewGenesis(1000, -1, 0)
	require.True(t, g.IsGenesis())
	require.Nil(t, g.Parent())
	require.Equal(t, Height(0), g.Height())
}

func TestChildMintTimeAfterParent(t *testing.T) {
	g := NewGenesis(1000, -1, 0)
	b1 := NewChild(1001, g, 0, 5)
	require.Greater(t, b1.MintTimeMs(), g.MintTimeMs())
}
