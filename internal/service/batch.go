package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/misaka-danmu/danmu-server/internal/apperr"
	"golang.org/x/sync/errgroup"
)

// GroupHooks is how a batch cooperates with the task runner it executes under.
// *task.Execution satisfies it.
type GroupHooks interface {
	Checkpoint() error
	Lock(ids ...uint) (func(), error)
	Advance(delta int)
}

type OperationResult struct {
	Operation MergeOperation `json:"operation"`
	Success   bool           `json:"success"`
	// MergedSourceCount 仅在成功时有意义
	MergedSourceCount int            `json:"mergedSourceCount"`
	Error             *apperr.Detail `json:"error,omitempty"`
}

type BatchResult struct {
	SuccessCount int               `json:"successCount"`
	FailCount    int               `json:"failCount"`
	Results      []OperationResult `json:"results"`
}

type BatchOptions struct {
	// Parallelism 同时执行的组数
	Parallelism   int
	RetryAttempts uint
	RetryDelay    time.Duration
}

// BatchOrchestrator runs one merge per duplicate group. Groups are isolated from
// each other; results are reported in submission order.
type BatchOrchestrator struct {
	merger *MergeExecutor
	opts   BatchOptions
}

func NewBatchOrchestrator(merger *MergeExecutor, opts BatchOptions) *BatchOrchestrator {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 1
	}
	return &BatchOrchestrator{merger: merger, opts: opts}
}

// ValidateBatch rejects malformed operations and operations whose entry sets overlap.
func ValidateBatch(ops []MergeOperation) error {
	if len(ops) == 0 {
		return apperr.Invalid("operations must not be empty")
	}
	owner := make(map[uint]int)
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		for _, id := range op.AnimeIDs() {
			if j, taken := owner[id]; taken {
				return apperr.Invalid("operations %d and %d both reference anime %d", j, i, id)
			}
			owner[id] = i
		}
	}
	return nil
}

// BatchMerge only fails as a whole for invalid input, or when the surrounding task is
// cancelled between groups. In the latter case the partial result is returned too.
func (b *BatchOrchestrator) BatchMerge(ctx context.Context, ops []MergeOperation, hooks GroupHooks) (*BatchResult, error) {
	if err := ValidateBatch(ops); err != nil {
		return nil, err
	}
	if hooks == nil {
		hooks = noHooks{}
	}

	results := make([]OperationResult, len(ops))
	for i, op := range ops {
		results[i] = OperationResult{
			Operation: op,
			Error:     &apperr.Detail{Code: apperr.CodeCancelled, Message: "group was not executed"},
		}
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(b.opts.Parallelism)
	for i, op := range ops {
		g.Go(func() error {
			if err := hooks.Checkpoint(); err != nil {
				return err
			}
			release, err := hooks.Lock(op.AnimeIDs()...)
			if err != nil {
				return err
			}
			res := b.runGroup(ctx, op)
			release()

			mu.Lock()
			results[i] = res
			mu.Unlock()
			hooks.Advance(1)
			return nil
		})
	}
	runErr := g.Wait()

	summary := &BatchResult{Results: results}
	for _, r := range results {
		if r.Success {
			summary.SuccessCount++
		} else {
			summary.FailCount++
		}
	}
	log.Printf("BatchOrchestrator: %d groups merged, %d failed", summary.SuccessCount, summary.FailCount)
	return summary, runErr
}

func (b *BatchOrchestrator) runGroup(ctx context.Context, op MergeOperation) OperationResult {
	var res MergeResult
	err := retry.Do(
		func() error {
			var err error
			res, err = b.merger.Merge(ctx, op)
			return err
		},
		retry.Attempts(b.opts.RetryAttempts),
		retry.Delay(b.opts.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, apperr.ErrStoreUnavailable) }),
	)
	if err != nil {
		return OperationResult{Operation: op, Error: apperr.NewDetail(err)}
	}
	return OperationResult{Operation: op, Success: true, MergedSourceCount: res.MergedSourceCount}
}

type noHooks struct{}

func (noHooks) Checkpoint() error            { return nil }
func (noHooks) Lock(...uint) (func(), error) { return func() {}, nil }
func (noHooks) Advance(int)                  {}
