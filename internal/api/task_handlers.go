package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/misaka-danmu/danmu-server/internal/task"
)

type taskActionRequest struct {
	TaskID string `json:"taskId" binding:"required"`
}

func (h *Handler) ListTasksHandler(c *gin.Context) {
	tasks := h.Queue.List(task.Filter{
		Status: task.Status(c.Query("status")),
		Kind:   task.Kind(c.Query("kind")),
	})
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

func (h *Handler) GetTaskHandler(c *gin.Context) {
	t, err := h.Queue.Get(c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) PauseTaskHandler(c *gin.Context)  { h.taskAction(c, h.Queue.Pause) }
func (h *Handler) ResumeTaskHandler(c *gin.Context) { h.taskAction(c, h.Queue.Resume) }
func (h *Handler) CancelTaskHandler(c *gin.Context) { h.taskAction(c, h.Queue.Cancel) }

// taskAction 执行动作后返回任务的最新快照
func (h *Handler) taskAction(c *gin.Context, action func(id string) error) {
	var req taskActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := action(req.TaskID); err != nil {
		respondError(c, err)
		return
	}
	t, err := h.Queue.Get(req.TaskID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTaskHandler(c *gin.Context) {
	id := c.Param("taskId")
	if err := h.Queue.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": id, "deleted": true})
}
