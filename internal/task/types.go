package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/misaka-danmu/danmu-server/internal/apperr"
)

type Kind string

const (
	KindImport       Kind = "import"
	KindMerge        Kind = "merge"
	KindBatchMerge   Kind = "batchMerge"
	KindDelete       Kind = "delete"
	KindScheduledJob Kind = "scheduledJob"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal 终态不可再次进入其它状态
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

var (
	// ErrCancelled is returned from checkpoints once cancellation was requested.
	ErrCancelled = errors.New("task cancelled")

	errQueueStopped = errors.New("task queue stopped")
)

type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Task 对外暴露的任务快照
type Task struct {
	ID            string          `json:"taskId"`
	Title         string          `json:"title"`
	Kind          Kind            `json:"kind"`
	Status        Status          `json:"status"`
	Pausable      bool            `json:"pausable"`
	Progress      Progress        `json:"progress"`
	CreatedAt     time.Time       `json:"createdAt"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
	ResultSummary json.RawMessage `json:"resultSummary,omitempty"`
	Error         *apperr.Detail  `json:"errorDetail,omitempty"`
	Payload       json.RawMessage `json:"-"`
}

func (t *Task) clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.StartedAt = cloneTime(t.StartedAt)
	c.FinishedAt = cloneTime(t.FinishedAt)
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	c.ResultSummary = append(json.RawMessage(nil), t.ResultSummary...)
	c.Payload = append(json.RawMessage(nil), t.Payload...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// HandlerFunc executes one task. ctx is never cancelled by a user cancellation;
// cooperative cancellation is observed through Execution.Checkpoint and Execution.Lock.
type HandlerFunc func(ctx context.Context, exec *Execution) error

// Definition 描述一种任务类型
type Definition struct {
	Kind Kind
	// Pausable 只有在检查点之间可以安全挂起的任务才能暂停
	Pausable bool
	// RetryTransient 遇到 StoreUnavailable 时整体重试 Run
	RetryTransient bool
	Run            HandlerFunc
}

type Filter struct {
	Status Status
	Kind   Kind
}

func (f Filter) match(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	return true
}
