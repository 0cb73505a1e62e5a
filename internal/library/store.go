// Package library is the persisted catalog of anime entries, their sources and comment tracks.
package library

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/misaka-danmu/danmu-server/internal/apperr"
	"github.com/misaka-danmu/danmu-server/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx 返回绑定到事务 tx 的 Store，所有操作都在该事务内执行
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// Transaction runs fn inside a single all-or-nothing transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.WithTx(tx))
	})
}

// AnimeInput 创建或匹配条目时使用的描述
type AnimeInput struct {
	Title          string            `json:"title"`
	Type           model.MediaType   `json:"type"`
	Season         *int              `json:"season"`
	Year           *int              `json:"year"`
	ImageURL       string            `json:"imageUrl"`
	LocalImagePath string            `json:"localImagePath"`
	ExternalIDs    model.ExternalIDs `json:"externalIds"`
}

type EpisodeInput struct {
	EpisodeIndex int    `json:"episodeIndex"`
	Title        string `json:"title"`
	CommentCount int    `json:"commentCount"`
}

func (s *Store) Get(ctx context.Context, id uint) (*model.Anime, error) {
	var anime model.Anime
	if err := s.db.WithContext(ctx).First(&anime, id).Error; err != nil {
		return nil, apperr.Store(err, "anime %d", id)
	}
	return &anime, nil
}

// List 按创建时间倒序列出条目，keyword 为空时返回全部
func (s *Store) List(ctx context.Context, keyword string) ([]model.Anime, error) {
	q := s.db.WithContext(ctx).Model(&model.Anime{})
	if kw := strings.TrimSpace(keyword); kw != "" {
		q = q.Where("title LIKE ?", "%"+kw+"%")
	}
	var items []model.Anime
	if err := q.Order("created_at desc, id desc").Find(&items).Error; err != nil {
		return nil, apperr.Store(err, "list anime")
	}
	return items, nil
}

// ListWithTmdbID 返回所有带 TMDB ID 的条目，按 ID 升序
func (s *Store) ListWithTmdbID(ctx context.Context) ([]model.Anime, error) {
	var items []model.Anime
	err := s.db.WithContext(ctx).
		Where("tmdb_id IS NOT NULL AND tmdb_id != ''").
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, apperr.Store(err, "list anime with tmdb id")
	}
	return items, nil
}

// ExistingIDs 返回 ids 中实际存在的条目 ID
func (s *Store) ExistingIDs(ctx context.Context, ids []uint) (map[uint]bool, error) {
	found := make(map[uint]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var rows []uint
	if err := s.db.WithContext(ctx).Model(&model.Anime{}).Where("id IN ?", ids).Pluck("id", &rows).Error; err != nil {
		return nil, apperr.Store(err, "check anime ids")
	}
	for _, id := range rows {
		found[id] = true
	}
	return found, nil
}

// FindByTitleSeason 精确匹配 (标题, 季度)
func (s *Store) FindByTitleSeason(ctx context.Context, title string, season *int) (*model.Anime, error) {
	q := s.db.WithContext(ctx).Where("title = ?", title)
	if season == nil {
		q = q.Where("season IS NULL")
	} else {
		q = q.Where("season = ?", *season)
	}
	var anime model.Anime
	if err := q.Order("id asc").First(&anime).Error; err != nil {
		return nil, apperr.Store(err, "anime %q", title)
	}
	return &anime, nil
}

// FindOrCreate returns the entry matching (title, season), creating it when absent.
func (s *Store) FindOrCreate(ctx context.Context, in AnimeInput) (*model.Anime, bool, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, false, apperr.Invalid("title is required")
	}
	if in.Type == "" {
		in.Type = model.MediaTypeTVSeries
	}
	if !in.Type.Valid() {
		return nil, false, apperr.Invalid("unknown media type %q", in.Type)
	}
	if in.Type == model.MediaTypeMovie {
		in.Season = nil
	}
	if in.Season != nil && *in.Season < 0 {
		return nil, false, apperr.Invalid("season must be >= 0")
	}

	existing, err := s.FindByTitleSeason(ctx, title, in.Season)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, apperr.ErrEntryNotFound) {
		return nil, false, err
	}

	anime := &model.Anime{
		Title:          title,
		Type:           in.Type,
		Season:         in.Season,
		Year:           in.Year,
		ImageURL:       in.ImageURL,
		LocalImagePath: in.LocalImagePath,
		ExternalIDs:    normalizeIDs(in.ExternalIDs),
	}
	if err := s.db.WithContext(ctx).Omit("source_count").Create(anime).Error; err != nil {
		return nil, false, apperr.Store(err, "create anime %q", title)
	}
	return anime, true, nil
}

// UpdateExternalIDs 覆盖条目的外部 ID
func (s *Store) UpdateExternalIDs(ctx context.Context, id uint, ids model.ExternalIDs) (*model.Anime, error) {
	ids = normalizeIDs(ids)
	res := s.db.WithContext(ctx).Model(&model.Anime{}).Where("id = ?", id).Updates(map[string]any{
		"tmdb_id":    ids.TmdbID,
		"tvdb_id":    ids.TvdbID,
		"imdb_id":    ids.ImdbID,
		"douban_id":  ids.DoubanID,
		"bangumi_id": ids.BangumiID,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return nil, apperr.Store(res.Error, "update external ids of anime %d", id)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("anime %d", id)
	}
	return s.Get(ctx, id)
}

// FillMissingDetails 只补全空缺的年份与海报
func (s *Store) FillMissingDetails(ctx context.Context, id uint, year *int, imageURL string) error {
	updates := map[string]any{}
	anime, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if anime.Year == nil && year != nil {
		updates["year"] = *year
	}
	if anime.ImageURL == "" && imageURL != "" {
		updates["image_url"] = imageURL
	}
	if len(updates) == 0 {
		return nil
	}
	err = s.db.WithContext(ctx).Model(&model.Anime{}).Where("id = ?", id).Updates(updates).Error
	return apperr.Store(err, "fill details of anime %d", id)
}

// AttachSource links a provider feed to an entry. Attaching the same feed twice is a no-op;
// a feed already owned by another entry is rejected.
func (s *Store) AttachSource(ctx context.Context, animeID uint, provider, mediaID string) (*model.Source, bool, error) {
	provider = strings.TrimSpace(provider)
	mediaID = strings.TrimSpace(mediaID)
	if provider == "" || mediaID == "" {
		return nil, false, apperr.Invalid("providerName and mediaId are required")
	}
	if _, err := s.Get(ctx, animeID); err != nil {
		return nil, false, err
	}

	var existing model.Source
	err := s.db.WithContext(ctx).Where("provider_name = ? AND media_id = ?", provider, mediaID).First(&existing).Error
	if err == nil {
		if existing.AnimeID != animeID {
			return nil, false, apperr.Invalid("source %s/%s already belongs to anime %d", provider, mediaID, existing.AnimeID)
		}
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperr.Store(err, "lookup source %s/%s", provider, mediaID)
	}

	var maxOrder int
	if err := s.db.WithContext(ctx).Model(&model.Source{}).Where("anime_id = ?", animeID).
		Select("COALESCE(MAX(source_order), 0)").Row().Scan(&maxOrder); err != nil {
		return nil, false, apperr.Store(err, "max source order of anime %d", animeID)
	}

	src := &model.Source{
		AnimeID:      animeID,
		ProviderName: provider,
		MediaID:      mediaID,
		SourceOrder:  maxOrder + 1,
	}
	if err := s.db.WithContext(ctx).Create(src).Error; err != nil {
		return nil, false, apperr.Store(err, "create source %s/%s", provider, mediaID)
	}
	if err := s.RecountSources(ctx, animeID); err != nil {
		return nil, false, err
	}
	return src, true, nil
}

// UpsertEpisode 以 (sourceId, episodeIndex) 为键写入弹幕轨道
func (s *Store) UpsertEpisode(ctx context.Context, sourceID uint, in EpisodeInput) error {
	if in.EpisodeIndex <= 0 {
		return apperr.Invalid("episodeIndex must be positive")
	}
	now := time.Now()
	ep := model.Episode{
		SourceID:     sourceID,
		EpisodeIndex: in.EpisodeIndex,
		Title:        in.Title,
		CommentCount: in.CommentCount,
		FetchedAt:    &now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}, {Name: "episode_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "comment_count", "fetched_at"}),
	}).Create(&ep).Error
	return apperr.Store(err, "upsert episode %d of source %d", in.EpisodeIndex, sourceID)
}

func (s *Store) GetSource(ctx context.Context, sourceID uint) (*model.Source, error) {
	var src model.Source
	if err := s.db.WithContext(ctx).First(&src, sourceID).Error; err != nil {
		return nil, apperr.Store(err, "source %d", sourceID)
	}
	return &src, nil
}

func (s *Store) ListSources(ctx context.Context, animeID uint) ([]model.Source, error) {
	var sources []model.Source
	err := s.db.WithContext(ctx).Where("anime_id = ?", animeID).Order("source_order asc, id asc").Find(&sources).Error
	if err != nil {
		return nil, apperr.Store(err, "list sources of anime %d", animeID)
	}
	return sources, nil
}

func (s *Store) ListEpisodes(ctx context.Context, sourceID uint) ([]model.Episode, error) {
	var eps []model.Episode
	err := s.db.WithContext(ctx).Where("source_id = ?", sourceID).Order("episode_index asc").Find(&eps).Error
	if err != nil {
		return nil, apperr.Store(err, "list episodes of source %d", sourceID)
	}
	return eps, nil
}

// ToggleFavorite 切换收藏状态；收藏时同一条目下的其它源会被取消收藏
func (s *Store) ToggleFavorite(ctx context.Context, sourceID uint) (bool, error) {
	var favorited bool
	err := s.Transaction(ctx, func(tx *Store) error {
		src, err := tx.GetSource(ctx, sourceID)
		if err != nil {
			return err
		}
		favorited = !src.IsFavorited
		if err := tx.db.Model(&model.Source{}).Where("id = ?", sourceID).Update("is_favorited", favorited).Error; err != nil {
			return apperr.Store(err, "toggle favorite of source %d", sourceID)
		}
		if favorited {
			err := tx.db.Model(&model.Source{}).
				Where("anime_id = ? AND id != ?", src.AnimeID, sourceID).
				Update("is_favorited", false).Error
			if err != nil {
				return apperr.Store(err, "clear favorites of anime %d", src.AnimeID)
			}
		}
		return nil
	})
	return favorited, err
}

// DeleteSource 删除一个源及其弹幕轨道
func (s *Store) DeleteSource(ctx context.Context, sourceID uint) error {
	return s.Transaction(ctx, func(tx *Store) error {
		src, err := tx.GetSource(ctx, sourceID)
		if err != nil {
			return err
		}
		if err := tx.db.Where("source_id = ?", sourceID).Delete(&model.Episode{}).Error; err != nil {
			return apperr.Store(err, "delete episodes of source %d", sourceID)
		}
		if err := tx.db.Delete(&model.Source{}, sourceID).Error; err != nil {
			return apperr.Store(err, "delete source %d", sourceID)
		}
		return tx.RecountSources(ctx, src.AnimeID)
	})
}

// DeleteAnime removes an entry together with its sources and their comment tracks.
func (s *Store) DeleteAnime(ctx context.Context, id uint) error {
	return s.Transaction(ctx, func(tx *Store) error {
		res := tx.db.Where("id = ?", id).Delete(&model.Anime{})
		if res.Error != nil {
			return apperr.Store(res.Error, "delete anime %d", id)
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("anime %d", id)
		}
		sub := tx.db.Model(&model.Source{}).Select("id").Where("anime_id = ?", id)
		if err := tx.db.Where("source_id IN (?)", sub).Delete(&model.Episode{}).Error; err != nil {
			return apperr.Store(err, "delete episodes of anime %d", id)
		}
		if err := tx.db.Where("anime_id = ?", id).Delete(&model.Source{}).Error; err != nil {
			return apperr.Store(err, "delete sources of anime %d", id)
		}
		return nil
	})
}

// RecountSources is the only writer of Anime.SourceCount.
func (s *Store) RecountSources(ctx context.Context, ids ...uint) error {
	for _, id := range ids {
		err := s.db.WithContext(ctx).Exec(
			"UPDATE anime SET source_count = (SELECT COUNT(*) FROM anime_sources WHERE anime_sources.anime_id = anime.id) WHERE id = ?",
			id,
		).Error
		if err != nil {
			return apperr.Store(err, "recount sources of anime %d", id)
		}
	}
	return nil
}

// MoveSources 把 sourceIDs 指向的源整体改挂到 animeID 下，调用方负责重新计数
func (s *Store) MoveSources(ctx context.Context, sourceIDs []uint, animeID uint) (int64, error) {
	if len(sourceIDs) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&model.Source{}).Where("id IN ?", sourceIDs).Update("anime_id", animeID)
	if res.Error != nil {
		return 0, apperr.Store(res.Error, "move sources to anime %d", animeID)
	}
	return res.RowsAffected, nil
}

// ReorderSources renumbers the given sources 1..n in slice order.
func (s *Store) ReorderSources(ctx context.Context, ordered []model.Source) error {
	for i, src := range ordered {
		if src.SourceOrder == i+1 {
			continue
		}
		err := s.db.WithContext(ctx).Model(&model.Source{}).Where("id = ?", src.ID).Update("source_order", i+1).Error
		if err != nil {
			return apperr.Store(err, "reorder source %d", src.ID)
		}
	}
	return nil
}

// KeepFavorite 只保留 keepID 的收藏，keepID 为 0 时清空该条目所有收藏
func (s *Store) KeepFavorite(ctx context.Context, animeID, keepID uint) error {
	err := s.db.WithContext(ctx).Model(&model.Source{}).
		Where("anime_id = ? AND id != ? AND is_favorited = ?", animeID, keepID, true).
		Update("is_favorited", false).Error
	return apperr.Store(err, "normalize favorites of anime %d", animeID)
}

// DeleteAnimeRows deletes bare anime rows. Every id must exist, otherwise nothing
// is reported as deleted and EntryNotFound is returned (callers run it in a transaction).
func (s *Store) DeleteAnimeRows(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.Anime{})
	if res.Error != nil {
		return apperr.Store(res.Error, "delete anime rows")
	}
	if res.RowsAffected != int64(len(ids)) {
		return apperr.NotFound("expected to delete %d anime, deleted %d", len(ids), res.RowsAffected)
	}
	return nil
}

// OrphanSourceIDs 返回所属条目已不存在的源
func (s *Store) OrphanSourceIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.Source{}).
		Where("anime_id NOT IN (SELECT id FROM anime)").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, apperr.Store(err, "find orphan sources")
	}
	return ids, nil
}

// DeleteSourcesByID 删除指定源及其弹幕轨道，不做计数（用于清理孤儿）
func (s *Store) DeleteSourcesByID(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var removed int64
	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.Where("source_id IN ?", ids).Delete(&model.Episode{}).Error; err != nil {
			return apperr.Store(err, "delete orphan episodes")
		}
		res := tx.db.Where("id IN ?", ids).Delete(&model.Source{})
		if res.Error != nil {
			return apperr.Store(res.Error, "delete orphan sources")
		}
		removed = res.RowsAffected
		return nil
	})
	return removed, err
}

func (s *Store) AllAnimeIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&model.Anime{}).Order("id asc").Pluck("id", &ids).Error; err != nil {
		return nil, apperr.Store(err, "list anime ids")
	}
	return ids, nil
}

// Snapshot 完整的条目与源归属快照，按 ID 排序
type Snapshot struct {
	Anime   []model.Anime
	Sources []model.Source
}

func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	if err := s.db.WithContext(ctx).Order("id asc").Find(&snap.Anime).Error; err != nil {
		return nil, apperr.Store(err, "snapshot anime")
	}
	if err := s.db.WithContext(ctx).Order("id asc").Find(&snap.Sources).Error; err != nil {
		return nil, apperr.Store(err, "snapshot sources")
	}
	return snap, nil
}

func normalizeIDs(ids model.ExternalIDs) model.ExternalIDs {
	clean := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := strings.TrimSpace(*p)
		if v == "" {
			return nil
		}
		return &v
	}
	return model.ExternalIDs{
		TmdbID:    clean(ids.TmdbID),
		TvdbID:    clean(ids.TvdbID),
		ImdbID:    clean(ids.ImdbID),
		DoubanID:  clean(ids.DoubanID),
		BangumiID: clean(ids.BangumiID),
	}
}
