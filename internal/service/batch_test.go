package service

import (
	"context"
	"testing"

	"github.com/misaka-danmu/danmu-server/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBatch(t *testing.T) {
	assert.ErrorIs(t, ValidateBatch(nil), apperr.ErrInvalidOperation)
	assert.ErrorIs(t, ValidateBatch([]MergeOperation{{TargetAnimeID: 1}}), apperr.ErrInvalidOperation)

	overlap := []MergeOperation{
		{TargetAnimeID: 1, SourceAnimeIDs: []uint{2}},
		{TargetAnimeID: 3, SourceAnimeIDs: []uint{2}},
	}
	err := ValidateBatch(overlap)
	assert.ErrorIs(t, err, apperr.ErrInvalidOperation)
	assert.Contains(t, err.Error(), "anime 2")

	targetReused := []MergeOperation{
		{TargetAnimeID: 1, SourceAnimeIDs: []uint{2}},
		{TargetAnimeID: 3, SourceAnimeIDs: []uint{1}},
	}
	assert.ErrorIs(t, ValidateBatch(targetReused), apperr.ErrInvalidOperation)

	assert.NoError(t, ValidateBatch([]MergeOperation{
		{TargetAnimeID: 1, SourceAnimeIDs: []uint{2}},
		{TargetAnimeID: 3, SourceAnimeIDs: []uint{4, 5}},
	}))
}

func TestBatchMerge_GroupIsolation(t *testing.T) {
	_, store := newTestLibrary(t)
	ctx := context.Background()
	a := seedAnime(t, store, "A", "1", intPtr(1), 1)
	b := seedAnime(t, store, "B", "1", intPtr(1), 1)
	c := seedAnime(t, store, "C", "2", intPtr(1), 2)

	batch := NewBatchOrchestrator(NewMergeExecutor(store, nil), BatchOptions{Parallelism: 2})
	ops := []MergeOperation{
		{TargetAnimeID: c.ID, SourceAnimeIDs: []uint{404}},
		{TargetAnimeID: a.ID, SourceAnimeIDs: []uint{b.ID}},
	}
	hooks := &recordingHooks{}
	res, err := batch.BatchMerge(ctx, ops, hooks)
	require.NoError(t, err)

	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailCount)
	require.Len(t, res.Results, 2)

	assert.Equal(t, ops[0], res.Results[0].Operation, "results are positional")
	assert.False(t, res.Results[0].Success)
	require.NotNil(t, res.Results[0].Error)
	assert.Equal(t, apperr.CodeEntryNotFound, res.Results[0].Error.Code)

	assert.True(t, res.Results[1].Success)
	assert.Equal(t, 1, res.Results[1].MergedSourceCount)

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SourceCount)
	untouched, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, untouched.SourceCount)

	assert.Equal(t, 2, hooks.current)
	assert.Len(t, hooks.locks, 2)
	assert.False(t, hooks.lockClash)
}

func TestBatchMerge_InvalidInputRunsNothing(t *testing.T) {
	_, store := newTestLibrary(t)
	ctx := context.Background()
	a := seedAnime(t, store, "A", "1", intPtr(1), 1)
	b := seedAnime(t, store, "B", "1", intPtr(1), 1)

	before, err := store.Snapshot(ctx)
	require.NoError(t, err)

	batch := NewBatchOrchestrator(NewMergeExecutor(store, nil), BatchOptions{})
	res, err := batch.BatchMerge(ctx, []MergeOperation{
		{TargetAnimeID: a.ID, SourceAnimeIDs: []uint{b.ID}},
		{TargetAnimeID: b.ID, SourceAnimeIDs: []uint{a.ID}},
	}, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidOperation)
	assert.Nil(t, res)

	after, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBatchMerge_CancelledBetweenGroups(t *testing.T) {
	_, store := newTestLibrary(t)
	ctx := context.Background()
	a := seedAnime(t, store, "A", "1", intPtr(1), 1)
	b := seedAnime(t, store, "B", "1", intPtr(1), 1)
	c := seedAnime(t, store, "C", "2", intPtr(1), 1)
	d := seedAnime(t, store, "D", "2", intPtr(1), 1)

	batch := NewBatchOrchestrator(NewMergeExecutor(store, nil), BatchOptions{Parallelism: 1})
	hooks := &recordingHooks{cancelAt: 2}
	res, err := batch.BatchMerge(ctx, []MergeOperation{
		{TargetAnimeID: a.ID, SourceAnimeIDs: []uint{b.ID}},
		{TargetAnimeID: c.ID, SourceAnimeIDs: []uint{d.ID}},
	}, hooks)
	assert.ErrorIs(t, err, errCancelledForTest)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailCount)
	assert.Equal(t, apperr.CodeCancelled, res.Results[1].Error.Code)

	_, err = store.Get(ctx, d.ID)
	assert.NoError(t, err, "second group never ran")
}
