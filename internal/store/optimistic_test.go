package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatch_SetAndRevert(t *testing.T) {
	m := map[string]int{"a": 1}

	p := speculate(m, "a", 2, false)
	assert.Equal(t, 1, m["a"], "speculate must not write")

	p.apply(m)
	assert.Equal(t, 2, m["a"])
	p.revert(m)
	assert.Equal(t, 1, m["a"])
}

func TestPatch_InsertRevertDeletes(t *testing.T) {
	m := map[string]int{}

	p := speculate(m, "a", 5, false)
	p.apply(m)
	assert.Equal(t, 5, m["a"])
	p.revert(m)
	_, ok := m["a"]
	assert.False(t, ok)
}

func TestPatch_RemoveAndRevert(t *testing.T) {
	m := map[string]int{"a": 1}

	p := speculate(m, "a", 0, true)
	p.apply(m)
	_, ok := m["a"]
	assert.False(t, ok)

	p.revert(m)
	assert.Equal(t, 1, m["a"])
}

func TestRunOptimistic_RevertsOnFailure(t *testing.T) {
	var mu sync.Mutex
	m := map[string]string{"a": "before"}
	var seenDuringCommit string

	applied, err := runOptimistic(context.Background(), &mu, m,
		func(m map[string]string) (patch[string, string], bool) {
			return speculate(m, "a", "after", false), true
		},
		func(ctx context.Context) error {
			mu.Lock()
			seenDuringCommit = m["a"]
			mu.Unlock()
			return errBackend
		},
	)

	require.ErrorIs(t, err, errBackend)
	assert.True(t, applied)
	assert.Equal(t, "after", seenDuringCommit)
	assert.Equal(t, "before", m["a"])
}

func TestRunOptimistic_KeepsOnSuccess(t *testing.T) {
	var mu sync.Mutex
	m := map[string]string{"a": "before"}

	applied, err := runOptimistic(context.Background(), &mu, m,
		func(m map[string]string) (patch[string, string], bool) {
			return speculate(m, "a", "", true), true
		},
		func(ctx context.Context) error { return nil },
	)

	require.NoError(t, err)
	assert.True(t, applied)
	assert.Empty(t, m)
}

func TestRunOptimistic_DeclinedStillCommits(t *testing.T) {
	var mu sync.Mutex
	m := map[string]string{}
	committed := false

	applied, err := runOptimistic(context.Background(), &mu, m,
		func(m map[string]string) (patch[string, string], bool) {
			return patch[string, string]{}, false
		},
		func(ctx context.Context) error {
			committed = true
			return errBackend
		},
	)

	require.Error(t, err)
	assert.False(t, applied)
	assert.True(t, committed)
	assert.Empty(t, m)
}
