package task

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/misaka-danmu/danmu-server/internal/apperr"
)

// Execution is the handle a running handler uses to report progress, honour
// pause/cancel and take entry locks.
type Execution struct {
	q  *Queue
	st *state

	mu       sync.Mutex
	held     map[int]func()
	nextLock int
}

func (e *Execution) TaskID() string { return e.st.task.ID }

// Payload 解析提交时的 payload
func (e *Execution) Payload(v any) error {
	if len(e.st.task.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.st.task.Payload, v); err != nil {
		return apperr.Invalid("decode %s payload: %v", e.st.task.Kind, err)
	}
	return nil
}

func (e *Execution) SetTotal(total int) {
	e.update(func(t *Task) {
		if total < 0 {
			total = 0
		}
		t.Progress.Total = total
		if t.Progress.Current > total {
			t.Progress.Total = t.Progress.Current
		}
	}, true)
}

// Advance 进度只增不减
func (e *Execution) Advance(delta int) {
	if delta <= 0 {
		return
	}
	e.update(func(t *Task) {
		t.Progress.Current += delta
		if t.Progress.Total < t.Progress.Current {
			t.Progress.Total = t.Progress.Current
		}
	}, false)
}

func (e *Execution) SetResult(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	e.update(func(t *Task) { t.ResultSummary = raw }, true)
	return nil
}

// Checkpoint blocks while the task is paused. It returns ErrCancelled once
// cancellation has been requested.
func (e *Execution) Checkpoint() error {
	q, st := e.q, e.st

	q.mu.Lock()
	if st.cancelRequested {
		q.mu.Unlock()
		return ErrCancelled
	}
	if st.task.Status != StatusPaused {
		q.mu.Unlock()
		return nil
	}
	resume := st.resume
	abortCtx := st.abortCtx
	q.mu.Unlock()

	select {
	case <-resume:
		q.mu.Lock()
		cancelled := st.cancelRequested
		q.mu.Unlock()
		if cancelled {
			return ErrCancelled
		}
		return nil
	case <-abortCtx.Done():
		return e.abortErr()
	}
}

// Lock takes the given anime ids until the returned release is called or the task
// finishes. A goroutine must not call Lock while it still holds another set; parallel
// groups of one task may each hold their own disjoint set.
func (e *Execution) Lock(ids ...uint) (func(), error) {
	release, err := e.q.locker.Acquire(e.st.abortCtx, ids...)
	if err != nil {
		return nil, e.abortErr()
	}

	e.mu.Lock()
	if e.held == nil {
		e.held = make(map[int]func())
	}
	key := e.nextLock
	e.nextLock++
	e.held[key] = release
	e.mu.Unlock()

	return func() {
		release()
		e.mu.Lock()
		delete(e.held, key)
		e.mu.Unlock()
	}, nil
}

// releaseLocks 任务结束时释放遗留的锁
func (e *Execution) releaseLocks() {
	e.mu.Lock()
	held := e.held
	e.held = nil
	e.mu.Unlock()
	for _, release := range held {
		release()
	}
}

func (e *Execution) abortErr() error {
	e.q.mu.Lock()
	defer e.q.mu.Unlock()
	if e.st.cancelRequested {
		return ErrCancelled
	}
	return errQueueStopped
}

func (e *Execution) update(fn func(t *Task), force bool) {
	q, st := e.q, e.st

	q.mu.Lock()
	fn(st.task)
	snapshot := st.task.clone()
	persist := force || time.Since(st.lastPersist) >= progressPersistInterval
	if persist {
		st.lastPersist = time.Now()
	}
	q.mu.Unlock()

	if persist {
		q.persist(snapshot)
	}
	q.publish(snapshot)
}
