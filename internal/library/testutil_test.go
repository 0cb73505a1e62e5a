package library

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/misaka-danmu/danmu-server/internal/db"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "library.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewStore(conn)
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func mustCreate(t *testing.T, s *Store, in AnimeInput, sources ...string) uint {
	t.Helper()
	ctx := context.Background()
	anime, created, err := s.FindOrCreate(ctx, in)
	require.NoError(t, err)
	require.True(t, created)
	for _, mediaID := range sources {
		_, _, err := s.AttachSource(ctx, anime.ID, "bilibili", mediaID)
		require.NoError(t, err)
	}
	return anime.ID
}
