package library

import (
	"context"
	"testing"

	"github.com/misaka-danmu/danmu-server/internal/apperr"
	"github.com/misaka-danmu/danmu-server/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrCreate_MatchesTitleAndSeason(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.FindOrCreate(ctx, AnimeInput{Title: " Frieren ", Season: intPtr(1)})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Frieren", first.Title)
	assert.Equal(t, model.MediaTypeTVSeries, first.Type)

	again, created, err := s.FindOrCreate(ctx, AnimeInput{Title: "Frieren", Season: intPtr(1)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	other, created, err := s.FindOrCreate(ctx, AnimeInput{Title: "Frieren", Season: intPtr(2)})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)

	// 电影没有季度
	movie, _, err := s.FindOrCreate(ctx, AnimeInput{Title: "Your Name", Type: model.MediaTypeMovie, Season: intPtr(3)})
	require.NoError(t, err)
	assert.Nil(t, movie.Season)
}

func TestFindOrCreate_RejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.FindOrCreate(ctx, AnimeInput{Title: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidOperation)

	_, _, err = s.FindOrCreate(ctx, AnimeInput{Title: "X", Type: "cartoon"})
	assert.ErrorIs(t, err, apperr.ErrInvalidOperation)

	_, _, err = s.FindOrCreate(ctx, AnimeInput{Title: "X", Season: intPtr(-1)})
	assert.ErrorIs(t, err, apperr.ErrInvalidOperation)
}

func TestAttachSource_MaintainsCountAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, AnimeInput{Title: "Bocchi", Season: intPtr(1)}, "ss1", "ss2")

	anime, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, anime.SourceCount)

	// 重复关联是幂等的
	src, created, err := s.AttachSource(ctx, id, "bilibili", "ss1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, src.SourceOrder)

	sources, err := s.ListSources(ctx, id)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, []int{1, 2}, []int{sources[0].SourceOrder, sources[1].SourceOrder})

	// 同一数据源不能挂到两个条目下
	other := mustCreate(t, s, AnimeInput{Title: "Other"})
	_, _, err = s.AttachSource(ctx, other, "bilibili", "ss1")
	assert.ErrorIs(t, err, apperr.ErrInvalidOperation)

	_, _, err = s.AttachSource(ctx, 999, "bilibili", "ss9")
	assert.ErrorIs(t, err, apperr.ErrEntryNotFound)
}

func TestDeleteSource_Recounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, AnimeInput{Title: "Mushishi"}, "a", "b")

	sources, err := s.ListSources(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.UpsertEpisode(ctx, sources[0].ID, EpisodeInput{EpisodeIndex: 1, CommentCount: 10}))
	require.NoError(t, s.DeleteSource(ctx, sources[0].ID))

	anime, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, anime.SourceCount)

	eps, err := s.ListEpisodes(ctx, sources[0].ID)
	require.NoError(t, err)
	assert.Empty(t, eps)

	assert.ErrorIs(t, s.DeleteSource(ctx, sources[0].ID), apperr.ErrEntryNotFound)
}

func TestUpsertEpisode_UpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, AnimeInput{Title: "Aria"}, "x")
	sources, err := s.ListSources(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.UpsertEpisode(ctx, sources[0].ID, EpisodeInput{EpisodeIndex: 1, Title: "ep1", CommentCount: 5}))
	require.NoError(t, s.UpsertEpisode(ctx, sources[0].ID, EpisodeInput{EpisodeIndex: 1, Title: "ep1 v2", CommentCount: 50}))

	eps, err := s.ListEpisodes(ctx, sources[0].ID)
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "ep1 v2", eps[0].Title)
	assert.Equal(t, 50, eps[0].CommentCount)

	assert.ErrorIs(t, s.UpsertEpisode(ctx, sources[0].ID, EpisodeInput{EpisodeIndex: 0}), apperr.ErrInvalidOperation)
}

func TestToggleFavorite_SingleFavoritePerAnime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, AnimeInput{Title: "K-On"}, "a", "b")
	sources, err := s.ListSources(ctx, id)
	require.NoError(t, err)

	fav, err := s.ToggleFavorite(ctx, sources[0].ID)
	require.NoError(t, err)
	assert.True(t, fav)

	fav, err = s.ToggleFavorite(ctx, sources[1].ID)
	require.NoError(t, err)
	assert.True(t, fav)

	sources, err = s.ListSources(ctx, id)
	require.NoError(t, err)
	assert.False(t, sources[0].IsFavorited)
	assert.True(t, sources[1].IsFavorited)

	fav, err = s.ToggleFavorite(ctx, sources[1].ID)
	require.NoError(t, err)
	assert.False(t, fav)
}

func TestDeleteAnime_CascadesChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	keep := mustCreate(t, s, AnimeInput{Title: "Keep"}, "k1")
	gone := mustCreate(t, s, AnimeInput{Title: "Gone"}, "g1", "g2")

	require.NoError(t, s.DeleteAnime(ctx, gone))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Anime, 1)
	assert.Equal(t, keep, snap.Anime[0].ID)
	require.Len(t, snap.Sources, 1)
	assert.Equal(t, keep, snap.Sources[0].AnimeID)

	assert.ErrorIs(t, s.DeleteAnime(ctx, gone), apperr.ErrEntryNotFound)
}

func TestAnimeIDsAreNeverReused(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := mustCreate(t, s, AnimeInput{Title: "First"})
	second := mustCreate(t, s, AnimeInput{Title: "Second"})
	require.NoError(t, s.DeleteAnime(ctx, second))

	third := mustCreate(t, s, AnimeInput{Title: "Third"})
	assert.Greater(t, third, second)
	assert.Greater(t, second, first)
}

func TestUpdateExternalIDsAndTmdbListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, AnimeInput{Title: "A", ExternalIDs: model.ExternalIDs{TmdbID: strPtr("100")}})
	b := mustCreate(t, s, AnimeInput{Title: "B", ExternalIDs: model.ExternalIDs{TmdbID: strPtr("  ")}})

	items, err := s.ListWithTmdbID(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, a, items[0].ID)

	updated, err := s.UpdateExternalIDs(ctx, b, model.ExternalIDs{TmdbID: strPtr("200"), BangumiID: strPtr("42")})
	require.NoError(t, err)
	require.NotNil(t, updated.ExternalIDs.TmdbID)
	assert.Equal(t, "200", *updated.ExternalIDs.TmdbID)

	items, err = s.ListWithTmdbID(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = s.UpdateExternalIDs(ctx, 404, model.ExternalIDs{})
	assert.ErrorIs(t, err, apperr.ErrEntryNotFound)
}

func TestOrphanSourcesCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, AnimeInput{Title: "Ghost"}, "o1")

	// 绕过 DeleteAnime 直接删除条目，制造孤儿源
	require.NoError(t, s.db.Exec("DELETE FROM anime WHERE id = ?", id).Error)

	orphans, err := s.OrphanSourceIDs(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)

	removed, err := s.DeleteSourcesByID(ctx, orphans)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	orphans, err = s.OrphanSourceIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}
