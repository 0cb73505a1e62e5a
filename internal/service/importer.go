package service

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/misaka-danmu/danmu-server/internal/apperr"
	"github.com/misaka-danmu/danmu-server/internal/event"
	"github.com/misaka-danmu/danmu-server/internal/library"
	"github.com/misaka-danmu/danmu-server/internal/model"
	"github.com/misaka-danmu/danmu-server/internal/tmdb"
)

// TaskHooks 多步骤任务需要的全部回调
type TaskHooks interface {
	GroupHooks
	SetTotal(total int)
}

// MetadataProvider looks up an entry by its TMDB id. *tmdb.Client satisfies it.
type MetadataProvider interface {
	GetDetails(ctx context.Context, movie bool, tmdbID string) (*tmdb.Details, error)
}

type SourceImport struct {
	ProviderName string                 `json:"providerName"`
	MediaID      string                 `json:"mediaId"`
	Episodes     []library.EpisodeInput `json:"episodes"`
}

type ImportRequest struct {
	Anime   library.AnimeInput `json:"anime"`
	Sources []SourceImport     `json:"sources"`
}

func (r ImportRequest) Validate() error {
	if strings.TrimSpace(r.Anime.Title) == "" {
		return apperr.Invalid("anime.title is required")
	}
	if len(r.Sources) == 0 {
		return apperr.Invalid("at least one source is required")
	}
	for i, s := range r.Sources {
		if strings.TrimSpace(s.ProviderName) == "" || strings.TrimSpace(s.MediaID) == "" {
			return apperr.Invalid("source %d: providerName and mediaId are required", i)
		}
	}
	return nil
}

// UniqueKeys 每个源一个资源键，同一源不能同时被两个导入任务处理
func (r ImportRequest) UniqueKeys() []string {
	keys := make([]string, 0, len(r.Sources))
	for _, s := range r.Sources {
		keys = append(keys, "source:"+strings.TrimSpace(s.ProviderName)+"/"+strings.TrimSpace(s.MediaID))
	}
	return keys
}

type ImportResult struct {
	AnimeID         uint `json:"animeId"`
	Created         bool `json:"created"`
	SourcesAttached int  `json:"sourcesAttached"`
	EpisodesWritten int  `json:"episodesWritten"`
}

type Importer struct {
	store    *library.Store
	metadata MetadataProvider
	bus      event.Bus
}

// NewImporter metadata 可以为 nil，此时不做补全
func NewImporter(store *library.Store, metadata MetadataProvider, bus event.Bus) *Importer {
	if bus == nil {
		bus = event.Nop{}
	}
	return &Importer{store: store, metadata: metadata, bus: bus}
}

// Import creates or matches the entry, then attaches each source with its comment
// tracks under the entry lock. Progress advances once per source.
func (im *Importer) Import(ctx context.Context, req ImportRequest, hooks TaskHooks) (*ImportResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hooks.SetTotal(len(req.Sources))

	in := im.enrich(ctx, withSeason(req.Anime))
	anime, created, release, err := im.lockEntry(ctx, in, hooks)
	if err != nil {
		return nil, err
	}
	defer release()
	if !created {
		// 已有条目只补全空缺字段
		if err := im.store.FillMissingDetails(ctx, anime.ID, in.Year, in.ImageURL); err != nil {
			return nil, err
		}
	}

	res := &ImportResult{AnimeID: anime.ID, Created: created}
	for _, src := range req.Sources {
		if err := hooks.Checkpoint(); err != nil {
			return res, err
		}
		attached, written, err := im.importSource(ctx, anime.ID, src)
		if err != nil {
			return res, err
		}
		if attached {
			res.SourcesAttached++
		}
		res.EpisodesWritten += written
		hooks.Advance(1)
	}

	log.Printf("Importer: '%s' (ID: %d) +%d sources, %d episodes", anime.Title, anime.ID, res.SourcesAttached, res.EpisodesWritten)
	im.bus.Publish(event.EventLibraryChanged, LibraryChange{Action: "import", AnimeIDs: []uint{anime.ID}})
	return res, nil
}

// withSeason 为未给出季度的剧集推断季度，推断不出按第一季；未给出类型按剧集处理
func withSeason(in library.AnimeInput) library.AnimeInput {
	if in.Type == "" {
		in.Type = model.MediaTypeTVSeries
	}
	if in.Type != model.MediaTypeTVSeries || in.Season != nil {
		return in
	}
	season, ok := library.InferSeason(in.Title)
	if !ok {
		season = 1
	}
	in.Season = &season
	return in
}

// lockEntry 找到或创建条目并锁住它；加锁期间条目可能已被合并删除，此时重试一次
func (im *Importer) lockEntry(ctx context.Context, in library.AnimeInput, hooks TaskHooks) (*model.Anime, bool, func(), error) {
	var lastErr error
	for range 2 {
		var anime *model.Anime
		var created bool
		// 单连接下事务串行，避免两个导入同时创建同名条目
		err := im.store.Transaction(ctx, func(tx *library.Store) error {
			var err error
			anime, created, err = tx.FindOrCreate(ctx, in)
			return err
		})
		if err != nil {
			return nil, false, nil, err
		}
		release, err := hooks.Lock(anime.ID)
		if err != nil {
			return nil, false, nil, err
		}
		_, err = im.store.Get(ctx, anime.ID)
		if err == nil {
			return anime, created, release, nil
		}
		release()
		lastErr = err
		if !errors.Is(err, apperr.ErrEntryNotFound) {
			break
		}
	}
	return nil, false, nil, lastErr
}

func (im *Importer) importSource(ctx context.Context, animeID uint, src SourceImport) (bool, int, error) {
	var attached bool
	written := 0
	err := im.store.Transaction(ctx, func(tx *library.Store) error {
		source, created, err := tx.AttachSource(ctx, animeID, src.ProviderName, src.MediaID)
		if err != nil {
			return err
		}
		attached = created
		for _, ep := range src.Episodes {
			if err := tx.UpsertEpisode(ctx, source.ID, ep); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return attached, written, nil
}

func (im *Importer) enrich(ctx context.Context, in library.AnimeInput) library.AnimeInput {
	if im.metadata == nil || in.ExternalIDs.TmdbID == nil || *in.ExternalIDs.TmdbID == "" {
		return in
	}
	if in.Year != nil && in.ImageURL != "" {
		return in
	}
	details, err := im.metadata.GetDetails(ctx, in.Type == model.MediaTypeMovie, *in.ExternalIDs.TmdbID)
	if err != nil {
		log.Printf("Importer: TMDB lookup for %s failed: %v", *in.ExternalIDs.TmdbID, err)
		return in
	}
	if details == nil {
		return in
	}
	if in.Year == nil {
		in.Year = details.Year
	}
	if in.ImageURL == "" {
		in.ImageURL = details.PosterPath
	}
	return in
}
