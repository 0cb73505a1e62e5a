package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/misaka-danmu/danmu-server/internal/apperr"
	"github.com/misaka-danmu/danmu-server/internal/event"
	"github.com/misaka-danmu/danmu-server/internal/model"
	"github.com/misaka-danmu/danmu-server/internal/service"
	"github.com/misaka-danmu/danmu-server/internal/task"
)

func (h *Handler) ListLibraryHandler(c *gin.Context) {
	items, err := h.Store.List(c.Request.Context(), c.Query("keyword"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": items, "total": len(items)})
}

func (h *Handler) GetAnimeHandler(c *gin.Context) {
	id, ok := parseIDParam(c, "animeId")
	if !ok {
		return
	}
	anime, err := h.Store.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, anime)
}

func (h *Handler) ListSourcesHandler(c *gin.Context) {
	id, ok := parseIDParam(c, "animeId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Store.Get(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	sources, err := h.Store.ListSources(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sources)
}

func (h *Handler) UpdateExternalIDsHandler(c *gin.Context) {
	id, ok := parseIDParam(c, "animeId")
	if !ok {
		return
	}
	var req model.ExternalIDs
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	// 修改外部 ID 会改变重复分组，需要持有条目锁
	release, err := h.Queue.Locker().Acquire(c.Request.Context(), id)
	if err != nil {
		return
	}
	defer release()

	anime, err := h.Store.UpdateExternalIDs(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.Bus.Publish(event.EventLibraryChanged, service.LibraryChange{Action: "edit", AnimeIDs: []uint{id}})
	c.JSON(http.StatusOK, anime)
}

func (h *Handler) DeleteAnimeHandler(c *gin.Context) {
	id, ok := parseIDParam(c, "animeId")
	if !ok {
		return
	}
	t, err := h.Queue.Submit(task.KindDelete, "删除条目", service.DeleteRequest{AnimeIDs: []uint{id}})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"taskId": t.ID})
}

func (h *Handler) ImportHandler(c *gin.Context) {
	var req service.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}
	t, err := h.Queue.SubmitUnique(task.KindImport, "导入 "+req.Anime.Title, req.UniqueKeys(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"taskId": t.ID})
}

// lockSourceOwner 锁住源所属的条目；拿到锁后重新确认归属，被合并走的源跟随新条目重试
func (h *Handler) lockSourceOwner(ctx context.Context, sourceID uint) (*model.Source, func(), error) {
	for range 3 {
		src, err := h.Store.GetSource(ctx, sourceID)
		if err != nil {
			return nil, nil, err
		}
		release, err := h.Queue.Locker().Acquire(ctx, src.AnimeID)
		if err != nil {
			return nil, nil, err
		}
		cur, err := h.Store.GetSource(ctx, sourceID)
		if err != nil {
			release()
			return nil, nil, err
		}
		if cur.AnimeID == src.AnimeID {
			return cur, release, nil
		}
		release()
	}
	return nil, nil, fmt.Errorf("%w: source %d keeps changing owner", apperr.ErrStoreUnavailable, sourceID)
}

func (h *Handler) ToggleFavoriteHandler(c *gin.Context) {
	id, ok := parseIDParam(c, "sourceId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	src, release, err := h.lockSourceOwner(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			respondError(c, err)
		}
		return
	}
	defer release()

	favorited, err := h.Store.ToggleFavorite(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.Bus.Publish(event.EventLibraryChanged, service.LibraryChange{Action: "favorite", AnimeIDs: []uint{src.AnimeID}})
	c.JSON(http.StatusOK, gin.H{"sourceId": id, "isFavorited": favorited})
}

func (h *Handler) DeleteSourceHandler(c *gin.Context) {
	id, ok := parseIDParam(c, "sourceId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	src, release, err := h.lockSourceOwner(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			respondError(c, err)
		}
		return
	}
	defer release()

	if err := h.Store.DeleteSource(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	h.Bus.Publish(event.EventLibraryChanged, service.LibraryChange{Action: "deleteSource", AnimeIDs: []uint{src.AnimeID}})
	c.JSON(http.StatusOK, gin.H{"sourceId": id, "deleted": true})
}

func (h *Handler) ListEpisodesHandler(c *gin.Context) {
	id, ok := parseIDParam(c, "sourceId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Store.GetSource(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	episodes, err := h.Store.ListEpisodes(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, episodes)
}

type scanRequest struct {
	Strict bool `json:"strict"`
}

// ScanDuplicatesHandler 只读预览，不等待任何条目锁
func (h *Handler) ScanDuplicatesHandler(c *gin.Context) {
	var req scanRequest
	// 空 body 视为宽松模式
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	groups, err := h.Services.Scanner.Scan(c.Request.Context(), req.Strict)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// MergeBatchHandler runs the batch as a batchMerge task. It waits for the result unless
// async=true, in which case it answers 202 with the task id.
func (h *Handler) MergeBatchHandler(c *gin.Context) {
	var req service.BatchMergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := service.ValidateBatch(req.Operations); err != nil {
		respondError(c, err)
		return
	}

	t, err := h.Queue.Submit(task.KindBatchMerge, "批量合并重复条目", req)
	if err != nil {
		respondError(c, err)
		return
	}
	if c.Query("async") == ValueTrue {
		c.JSON(http.StatusAccepted, gin.H{"taskId": t.ID})
		return
	}

	done, err := h.waitTask(c, t.ID)
	if err != nil {
		respondWaitError(c, t.ID, err)
		return
	}
	respondTaskResult(c, done)
}

func (h *Handler) MergeHandler(c *gin.Context) {
	var op service.MergeOperation
	if err := c.ShouldBindJSON(&op); err != nil {
		badRequest(c, err)
		return
	}
	if err := op.Validate(); err != nil {
		respondError(c, err)
		return
	}

	t, err := h.Queue.Submit(task.KindMerge, service.MergeTitle(op), op)
	if err != nil {
		respondError(c, err)
		return
	}
	done, err := h.waitTask(c, t.ID)
	if err != nil {
		respondWaitError(c, t.ID, err)
		return
	}
	respondTaskResult(c, done)
}
