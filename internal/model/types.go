package model

import (
	"time"

	"gorm.io/datatypes"
)

// MediaType 作品类型
type MediaType string

const (
	MediaTypeMovie    MediaType = "movie"
	MediaTypeTVSeries MediaType = "tv_series"
	MediaTypeOVA      MediaType = "ova"
	MediaTypeOther    MediaType = "other"
)

func (t MediaType) Valid() bool {
	switch t {
	case MediaTypeMovie, MediaTypeTVSeries, MediaTypeOVA, MediaTypeOther:
		return true
	}
	return false
}

// ExternalIDs 外部元数据源的 ID，均可为空
type ExternalIDs struct {
	TmdbID    *string `json:"tmdbId" gorm:"index"`
	TvdbID    *string `json:"tvdbId"`
	ImdbID    *string `json:"imdbId"`
	DoubanID  *string `json:"doubanId"`
	BangumiID *string `json:"bangumiId"`
}

// Anime 媒体库中的规范条目 (一季或一部电影)
type Anime struct {
	ID             uint        `json:"animeId" gorm:"primaryKey"`
	Title          string      `json:"title" gorm:"index:idx_anime_title_season"`
	Type           MediaType   `json:"type"`
	Season         *int        `json:"season" gorm:"index:idx_anime_title_season"`
	Year           *int        `json:"year"`
	ImageURL       string      `json:"imageUrl"`
	LocalImagePath string      `json:"localImagePath"`
	ExternalIDs    ExternalIDs `json:"externalIds" gorm:"embedded"`
	// SourceCount 派生字段，只能由 library.RecountSources 写入
	SourceCount int       `json:"sourceCount" gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Anime) TableName() string { return "anime" }

// ImagePath 优先返回本地缓存的海报
func (a Anime) ImagePath() string {
	if a.LocalImagePath != "" {
		return a.LocalImagePath
	}
	return a.ImageURL
}

// Source 挂在某个条目下的一个弹幕提供方数据源
type Source struct {
	ID           uint      `json:"sourceId" gorm:"primaryKey"`
	AnimeID      uint      `json:"animeId" gorm:"not null;index"`
	ProviderName string    `json:"providerName" gorm:"not null;uniqueIndex:idx_source_provider_media"`
	MediaID      string    `json:"mediaId" gorm:"not null;uniqueIndex:idx_source_provider_media"`
	SourceOrder  int       `json:"sourceOrder" gorm:"not null;default:0"`
	IsFavorited  bool      `json:"isFavorited" gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (Source) TableName() string { return "anime_sources" }

// Episode 一条弹幕轨道，随所属 Source 一起迁移
type Episode struct {
	ID           uint       `json:"episodeId" gorm:"primaryKey"`
	SourceID     uint       `json:"sourceId" gorm:"not null;uniqueIndex:idx_episode_source_index"`
	EpisodeIndex int        `json:"episodeIndex" gorm:"not null;uniqueIndex:idx_episode_source_index"`
	Title        string     `json:"title"`
	CommentCount int        `json:"commentCount"`
	FetchedAt    *time.Time `json:"fetchedAt"`
}

func (Episode) TableName() string { return "episodes" }

// TaskRecord 任务的持久化快照，用于重启后的历史展示
type TaskRecord struct {
	ID            string         `gorm:"primaryKey"`
	Title         string         `gorm:"not null"`
	Kind          string         `gorm:"not null;index"`
	Status        string         `gorm:"not null;index"`
	Pausable      bool           `gorm:"not null;default:false"`
	Current       int            `gorm:"not null;default:0"`
	Total         int            `gorm:"not null;default:0"`
	Payload       datatypes.JSON
	ResultSummary datatypes.JSON
	ErrorCode     string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

func (TaskRecord) TableName() string { return "task_history" }
