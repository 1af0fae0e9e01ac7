package simctx

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Unipisa/SimBlock/internal/config"
)

func TestRecordIOFailureAbortsOnSecondConsecutiveFailure(t *testing.T) {
	ctx := New(config.Default(), nil, nil, rand.New(rand.NewSource(1)), nil, nil, nil, "run")
	require.Nil(t, ctx.AbortErr)

	ctx.RecordIOFailure(errors.New("write failed"))
	require.Nil(t, ctx.AbortErr, "a single I/O failure must not abort the run")

	ctx.RecordIOFailure(errors.New("write failed again"))
	require.Error(t, ctx.AbortErr, "a second consecutive I/O failure must abort the run")
}

func TestClearIOFailureResetsConsecutiveCount(t *testing.T) {
	ctx := New(config.Default(), nil, nil, rand.New(rand.NewSource(1)), nil, nil, nil, "run")

	ctx.RecordIOFailure(errors.New("write failed"))
	ctx.ClearIOFailure()
	ctx.RecordIOFailure(errors.New("write failed"))
	require.Nil(t, ctx.AbortErr, "a failure after a successful write starts a fresh streak")
}
