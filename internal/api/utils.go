package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/misaka-danmu/danmu-server/internal/apperr"
	"github.com/misaka-danmu/danmu-server/internal/task"
)

const ValueTrue = "true"

// respondError 统一错误格式 {"error": {"code", "message"}}
func respondError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.NewDetail(err)})
}

func badRequest(c *gin.Context, err error) {
	respondError(c, apperr.Invalid("%v", err))
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondError(c, apperr.Invalid("invalid %s %q", name, c.Param(name)))
		return 0, false
	}
	return uint(id), true
}

// waitTask 等待任务结束；客户端断开时返回 ctx 的错误
func (h *Handler) waitTask(c *gin.Context, id string) (*task.Task, error) {
	ctx := c.Request.Context()
	if h.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.WaitTimeout)
		defer cancel()
	}
	return h.Queue.Wait(ctx, id)
}

// respondTaskResult writes the result summary of a finished task, or its error.
func respondTaskResult(c *gin.Context, t *task.Task) {
	switch t.Status {
	case task.StatusSucceeded:
		if len(t.ResultSummary) == 0 {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", t.ResultSummary)
	case task.StatusCancelled:
		c.JSON(http.StatusConflict, gin.H{"error": apperr.Detail{Code: apperr.CodeCancelled, Message: "task was cancelled"}, "taskId": t.ID})
	default:
		detail := t.Error
		if detail == nil {
			detail = &apperr.Detail{Code: apperr.CodeInternal, Message: "task failed"}
		}
		c.JSON(apperr.HTTPStatus(detail), gin.H{"error": detail, "taskId": t.ID})
	}
}

func respondWaitError(c *gin.Context, taskID string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		// 超时后任务继续在后台执行
		c.JSON(http.StatusAccepted, gin.H{"taskId": taskID})
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	respondError(c, err)
}
