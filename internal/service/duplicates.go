package service

import (
	"context"
	"fmt"
	"log"

	"github.com/misaka-danmu/danmu-server/internal/library"
	"github.com/misaka-danmu/danmu-server/internal/model"
)

// DuplicateItem 重复组中的一个条目
type DuplicateItem struct {
	AnimeID     uint   `json:"animeId"`
	Title       string `json:"title"`
	Season      *int   `json:"season"`
	SourceCount int    `json:"sourceCount"`
	Year        *int   `json:"year"`
	ImagePath   string `json:"imagePath"`
}

type DuplicateGroup struct {
	TmdbID string `json:"tmdbId"`
	// Season 宽松模式下为组内第一个条目的季度
	Season                 *int            `json:"season"`
	SuggestedTargetAnimeID uint            `json:"suggestedTargetAnimeId"`
	Items                  []DuplicateItem `json:"items"`
}

// DuplicateScanner groups library entries that share an external TMDB identity.
// It is read-only and never waits on entry locks.
type DuplicateScanner struct {
	store *library.Store
}

func NewDuplicateScanner(store *library.Store) *DuplicateScanner {
	return &DuplicateScanner{store: store}
}

// Scan groups by (tmdbId, season) when strict, by tmdbId alone otherwise.
// Groups come out in first-encountered order and always have at least two items.
func (s *DuplicateScanner) Scan(ctx context.Context, strict bool) ([]DuplicateGroup, error) {
	entries, err := s.store.ListWithTmdbID(ctx)
	if err != nil {
		return nil, err
	}

	order := make([]string, 0)
	buckets := make(map[string][]model.Anime)
	for _, a := range entries {
		if a.ExternalIDs.TmdbID == nil || *a.ExternalIDs.TmdbID == "" {
			continue
		}
		key := groupKey(*a.ExternalIDs.TmdbID, a.Season, strict)
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], a)
	}

	groups := make([]DuplicateGroup, 0)
	for _, key := range order {
		members := buckets[key]
		if len(members) < 2 {
			continue
		}
		groups = append(groups, newDuplicateGroup(members))
	}

	log.Printf("DuplicateScanner: scanned %d entries (strict=%v), found %d groups", len(entries), strict, len(groups))
	return groups, nil
}

func groupKey(tmdbID string, season *int, strict bool) string {
	if !strict {
		return tmdbID
	}
	if season == nil {
		// 没有季度的条目（电影）自成一个键
		return tmdbID + "|-"
	}
	return fmt.Sprintf("%s|%d", tmdbID, *season)
}

func newDuplicateGroup(members []model.Anime) DuplicateGroup {
	g := DuplicateGroup{
		TmdbID: *members[0].ExternalIDs.TmdbID,
		Season: members[0].Season,
		Items:  make([]DuplicateItem, 0, len(members)),
	}

	best := members[0]
	for _, a := range members {
		g.Items = append(g.Items, DuplicateItem{
			AnimeID:     a.ID,
			Title:       a.Title,
			Season:      a.Season,
			SourceCount: a.SourceCount,
			Year:        a.Year,
			ImagePath:   a.ImagePath(),
		})
		if a.SourceCount > best.SourceCount || (a.SourceCount == best.SourceCount && a.ID < best.ID) {
			best = a
		}
	}
	g.SuggestedTargetAnimeID = best.ID
	return g
}
