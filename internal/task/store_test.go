package task

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/misaka-danmu/danmu-server/internal/apperr"
	"github.com/misaka-danmu/danmu-server/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "tasks.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewGormStore(conn)
}

func TestGormStore_UpsertLoadDelete(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()

	created := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	task := &Task{
		ID:        "t-1",
		Title:     "合并 2 个条目",
		Kind:      KindMerge,
		Status:    StatusQueued,
		CreatedAt: created,
		Payload:   json.RawMessage(`{"targetAnimeId":1,"sourceAnimeIds":[2]}`),
	}
	require.NoError(t, s.Upsert(ctx, task))

	now := time.Now()
	task.Status = StatusFailed
	task.Progress = Progress{Current: 1, Total: 1}
	task.StartedAt = &now
	task.FinishedAt = &now
	task.Error = &apperr.Detail{Code: apperr.CodeEntryNotFound, Message: "anime 2"}
	task.ResultSummary = json.RawMessage(`{"success":false}`)
	require.NoError(t, s.Upsert(ctx, task))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	got := loaded[0]
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, KindMerge, got.Kind)
	assert.Equal(t, Progress{Current: 1, Total: 1}, got.Progress)
	assert.JSONEq(t, `{"targetAnimeId":1,"sourceAnimeIds":[2]}`, string(got.Payload))
	assert.JSONEq(t, `{"success":false}`, string(got.ResultSummary))
	require.NotNil(t, got.Error)
	assert.Equal(t, apperr.CodeEntryNotFound, got.Error.Code)
	assert.NotNil(t, got.FinishedAt)
	assert.True(t, got.CreatedAt.Equal(created))

	require.NoError(t, s.Delete(ctx, "t-1"))
	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestGormStore_QueueRestart(t *testing.T) {
	s := newGormStore(t)
	require.NoError(t, s.Upsert(context.Background(), &Task{
		ID: "stale", Title: "批量合并", Kind: KindBatchMerge, Status: StatusPaused, Pausable: true, CreatedAt: time.Now(),
	}))

	q := newTestQueue(t, Options{Store: s})
	got, err := q.Get("stale")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.True(t, got.Pausable)

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, StatusFailed, loaded[0].Status)
}
