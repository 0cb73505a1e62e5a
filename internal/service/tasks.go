package service

import (
	"context"
	"fmt"
	"log"

	"github.com/misaka-danmu/danmu-server/internal/task"
)

type BatchMergeRequest struct {
	Operations []MergeOperation `json:"operations"`
}

// Services 聚合所有由任务执行的业务组件
type Services struct {
	Scanner     *DuplicateScanner
	Merger      *MergeExecutor
	Batch       *BatchOrchestrator
	Importer    *Importer
	Deleter     *Deleter
	Maintenance *Maintenance
}

// RegisterTasks wires every task kind to its handler. Merge runs as one transaction
// and is therefore the only kind that cannot be paused.
func (s *Services) RegisterTasks(q *task.Queue) {
	q.Register(task.Definition{
		Kind:           task.KindMerge,
		RetryTransient: true,
		Run:            s.runMerge,
	})
	q.Register(task.Definition{Kind: task.KindBatchMerge, Pausable: true, Run: s.runBatchMerge})
	q.Register(task.Definition{Kind: task.KindImport, Pausable: true, Run: s.runImport})
	q.Register(task.Definition{Kind: task.KindDelete, Pausable: true, Run: s.runDelete})
	q.Register(task.Definition{Kind: task.KindScheduledJob, Pausable: true, Run: s.runMaintenance})
}

func (s *Services) runMerge(ctx context.Context, exec *task.Execution) error {
	var op MergeOperation
	if err := exec.Payload(&op); err != nil {
		return err
	}
	if err := op.Validate(); err != nil {
		return err
	}
	exec.SetTotal(1)

	release, err := exec.Lock(op.AnimeIDs()...)
	if err != nil {
		return err
	}
	// 重试会再次进入这里，锁必须在本次尝试内释放
	defer release()

	res, err := s.Merger.Merge(ctx, op)
	if setErr := exec.SetResult(res); setErr != nil && err == nil {
		err = setErr
	}
	if err == nil {
		exec.Advance(1)
	}
	return err
}

func (s *Services) runBatchMerge(ctx context.Context, exec *task.Execution) error {
	var req BatchMergeRequest
	if err := exec.Payload(&req); err != nil {
		return err
	}
	if err := ValidateBatch(req.Operations); err != nil {
		return err
	}
	exec.SetTotal(len(req.Operations))

	res, err := s.Batch.BatchMerge(ctx, req.Operations, exec)
	if res != nil {
		log.Printf("BatchMerge: task %s finished %d groups (%d ok, %d failed)", exec.TaskID(), len(res.Results), res.SuccessCount, res.FailCount)
		if setErr := exec.SetResult(res); setErr != nil && err == nil {
			err = setErr
		}
	}
	return err
}

func (s *Services) runImport(ctx context.Context, exec *task.Execution) error {
	var req ImportRequest
	if err := exec.Payload(&req); err != nil {
		return err
	}
	res, err := s.Importer.Import(ctx, req, exec)
	if res != nil {
		_ = exec.SetResult(res)
	}
	return err
}

func (s *Services) runDelete(ctx context.Context, exec *task.Execution) error {
	var req DeleteRequest
	if err := exec.Payload(&req); err != nil {
		return err
	}
	res, err := s.Deleter.Delete(ctx, req, exec)
	if res != nil {
		_ = exec.SetResult(res)
	}
	return err
}

func (s *Services) runMaintenance(ctx context.Context, exec *task.Execution) error {
	res, err := s.Maintenance.Run(ctx, exec)
	if res != nil {
		_ = exec.SetResult(res)
	}
	return err
}

// MergeTitle 任务列表里展示的标题
func MergeTitle(op MergeOperation) string {
	return fmt.Sprintf("合并 %d 个条目到 #%d", len(op.SourceAnimeIDs), op.TargetAnimeID)
}
