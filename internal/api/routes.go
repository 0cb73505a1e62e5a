package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/misaka-danmu/danmu-server/internal/event"
	"github.com/misaka-danmu/danmu-server/internal/library"
	"github.com/misaka-danmu/danmu-server/internal/service"
	"github.com/misaka-danmu/danmu-server/internal/task"
)

// Handler 持有接口层需要的全部依赖
type Handler struct {
	Store    *library.Store
	Services *service.Services
	Queue    *task.Queue
	Bus      event.Bus
	// WaitTimeout 同步接口等待任务结束的上限，0 表示只受请求上下文约束
	WaitTimeout time.Duration
}

func InitRoutes(r *gin.Engine, h *Handler) {
	r.Use(RequestLogger())

	ui := r.Group("/api/ui")
	{
		// Library
		ui.GET("/library", h.ListLibraryHandler)
		ui.GET("/library/anime/:animeId", h.GetAnimeHandler)
		ui.GET("/library/anime/:animeId/sources", h.ListSourcesHandler)
		ui.PUT("/library/anime/:animeId/external-ids", h.UpdateExternalIDsHandler)
		ui.DELETE("/library/anime/:animeId", h.DeleteAnimeHandler)
		ui.POST("/library/import", h.ImportHandler)
		ui.POST("/library/sources/:sourceId/favorite", h.ToggleFavoriteHandler)
		ui.GET("/library/sources/:sourceId/episodes", h.ListEpisodesHandler)
		ui.DELETE("/library/sources/:sourceId", h.DeleteSourceHandler)

		// Duplicates & merge
		ui.POST("/library/duplicates/scan", h.ScanDuplicatesHandler)
		ui.POST("/library/duplicates/merge-batch", h.MergeBatchHandler)
		ui.POST("/library/merge", h.MergeHandler)

		// Tasks
		ui.GET("/tasks", h.ListTasksHandler)
		ui.GET("/tasks/events", h.TaskEventsHandler)
		ui.GET("/tasks/:taskId", h.GetTaskHandler)
		ui.POST("/tasks/pause", h.PauseTaskHandler)
		ui.POST("/tasks/resume", h.ResumeTaskHandler)
		ui.POST("/tasks/cancel", h.CancelTaskHandler)
		ui.DELETE("/tasks/:taskId", h.DeleteTaskHandler)
	}
}
