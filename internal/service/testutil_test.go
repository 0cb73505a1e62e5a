package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/misaka-danmu/danmu-server/internal/db"
	"github.com/misaka-danmu/danmu-server/internal/library"
	"github.com/misaka-danmu/danmu-server/internal/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestLibrary(t *testing.T) (*gorm.DB, *library.Store) {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "danmu.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn, library.NewStore(conn)
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

// seedAnime 创建条目并挂上 n 个源
func seedAnime(t *testing.T, store *library.Store, title, tmdbID string, season *int, n int) *model.Anime {
	t.Helper()
	ctx := context.Background()
	in := library.AnimeInput{Title: title, Type: model.MediaTypeTVSeries, Season: season}
	if season == nil {
		in.Type = model.MediaTypeMovie
	}
	if tmdbID != "" {
		in.ExternalIDs.TmdbID = strPtr(tmdbID)
	}
	anime, created, err := store.FindOrCreate(ctx, in)
	require.NoError(t, err)
	require.True(t, created, "title %q already seeded", title)
	for i := range n {
		_, _, err := store.AttachSource(ctx, anime.ID, "bilibili", fmt.Sprintf("%s-%d", title, i))
		require.NoError(t, err)
	}
	got, err := store.Get(ctx, anime.ID)
	require.NoError(t, err)
	return got
}

// recordingHooks 在没有任务队列时模拟 Execution
type recordingHooks struct {
	mu        sync.Mutex
	total     int
	current   int
	locks     [][]uint
	cancelAt  int
	checkpts  int
	lockHeld  map[uint]bool
	lockClash bool
}

func (h *recordingHooks) SetTotal(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total = n
}

func (h *recordingHooks) Advance(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current += n
}

// Checkpoint 在第 cancelAt 次调用时开始返回取消（0 表示从不取消）
func (h *recordingHooks) Checkpoint() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkpts++
	if h.cancelAt > 0 && h.checkpts >= h.cancelAt {
		return errCancelledForTest
	}
	return nil
}

func (h *recordingHooks) Lock(ids ...uint) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lockHeld == nil {
		h.lockHeld = make(map[uint]bool)
	}
	for _, id := range ids {
		if h.lockHeld[id] {
			h.lockClash = true
		}
		h.lockHeld[id] = true
	}
	h.locks = append(h.locks, append([]uint(nil), ids...))
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, id := range ids {
			delete(h.lockHeld, id)
		}
	}, nil
}

var errCancelledForTest = fmt.Errorf("cancelled")
