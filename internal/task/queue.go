package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/misaka-danmu/danmu-server/internal/apperr"
	"github.com/misaka-danmu/danmu-server/internal/event"
)

const progressPersistInterval = 500 * time.Millisecond

type Options struct {
	Workers       int
	MaxHistory    int
	RetryAttempts uint
	RetryDelay    time.Duration
	Store         Store
	Bus           event.Bus
	Locker        *EntryLocker
}

type state struct {
	task *Task
	def  *Definition
	// keys 本任务占用的资源键，只在内存中保存
	keys []string

	cancelRequested bool
	// resume 在暂停时重新创建，恢复时关闭
	resume chan struct{}
	// abortCtx 在用户取消或队列停止时结束，只用于检查点和锁等待
	abortCtx context.Context
	abort    context.CancelFunc
	// done 在进入终态时关闭
	done        chan struct{}
	lastPersist time.Time
}

// Queue is the task queue and job runner. A bounded pool of workers drains it.
type Queue struct {
	opts   Options
	store  Store
	bus    event.Bus
	locker *EntryLocker

	mu      sync.Mutex
	defs    map[Kind]*Definition
	tasks   map[string]*state
	started bool
	pending chan string

	stopCtx  context.Context
	stop     context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewQueue(opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 1
	}
	if opts.Bus == nil {
		opts.Bus = event.Nop{}
	}
	if opts.Locker == nil {
		opts.Locker = NewEntryLocker()
	}
	stopCtx, stop := context.WithCancel(context.Background())
	q := &Queue{
		opts:    opts,
		store:   opts.Store,
		bus:     opts.Bus,
		locker:  opts.Locker,
		defs:    make(map[Kind]*Definition),
		tasks:   make(map[string]*state),
		pending: make(chan string, 1024),
		stopCtx: stopCtx,
		stop:    stop,
	}
	q.hydrateFromStore(context.Background())
	return q
}

func (q *Queue) Locker() *EntryLocker { return q.locker }

// Register 注册一种任务类型，必须在 Start 之前调用
func (q *Queue) Register(def Definition) {
	if def.Run == nil {
		panic(fmt.Sprintf("task: handler for %q is nil", def.Kind))
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	d := def
	q.defs[def.Kind] = &d
}

// Submit enqueues work and returns immediately with the queued task.
func (q *Queue) Submit(kind Kind, title string, payload any) (*Task, error) {
	return q.SubmitUnique(kind, title, nil, payload)
}

// SubmitUnique is Submit with resource keys: it is rejected with ErrDuplicateTask while
// another queued, running or paused task holds any of the keys.
func (q *Queue) SubmitUnique(kind Kind, title string, keys []string, payload any) (*Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Invalid("encode payload: %v", err)
	}

	q.mu.Lock()
	def, ok := q.defs[kind]
	if !ok {
		q.mu.Unlock()
		return nil, apperr.Invalid("unknown task kind %q", kind)
	}
	if holder, key, busy := q.activeKeyHolderLocked(keys); busy {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is already handled by task %s", apperr.ErrDuplicateTask, key, holder)
	}
	if title == "" {
		title = string(kind)
	}
	t := &Task{
		ID:        uuid.New().String(),
		Title:     title,
		Kind:      kind,
		Status:    StatusQueued,
		Pausable:  def.Pausable,
		CreatedAt: time.Now(),
		Payload:   raw,
	}
	q.tasks[t.ID] = &state{task: t, def: def, keys: keys, done: make(chan struct{})}
	started := q.started
	snapshot := t.clone()
	q.mu.Unlock()

	log.Printf("TaskQueue: submitted %s task '%s' (ID: %s)", kind, title, t.ID)
	q.persist(snapshot)
	q.publish(snapshot)
	if started {
		q.enqueuePendingID(t.ID)
	}
	return snapshot, nil
}

func (q *Queue) activeKeyHolderLocked(keys []string) (string, string, bool) {
	if len(keys) == 0 {
		return "", "", false
	}
	for id, st := range q.tasks {
		if st.task.Status.Terminal() {
			continue
		}
		for _, held := range st.keys {
			for _, k := range keys {
				if held == k {
					return id, k, true
				}
			}
		}
	}
	return "", "", false
}

func (q *Queue) Get(id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrTaskNotFound, id)
	}
	return st.task.clone(), nil
}

// List 返回匹配的任务，按创建时间倒序
func (q *Queue) List(f Filter) []*Task {
	q.mu.Lock()
	ret := make([]*Task, 0, len(q.tasks))
	for _, st := range q.tasks {
		if f.match(st.task) {
			ret = append(ret, st.task.clone())
		}
	}
	q.mu.Unlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID > ret[j].ID
		}
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret
}

// Wait blocks until the task reaches a terminal status or ctx is done.
func (q *Queue) Wait(ctx context.Context, id string) (*Task, error) {
	q.mu.Lock()
	st, ok := q.tasks[id]
	q.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrTaskNotFound, id)
	}

	select {
	case <-st.done:
		return q.Get(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pause requests suspension at the next checkpoint. Only running tasks of a
// pausable kind can be paused.
func (q *Queue) Pause(id string) error {
	q.mu.Lock()
	st, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", apperr.ErrTaskNotFound, id)
	}
	if !st.task.Pausable {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s tasks run atomically", apperr.ErrNotPausable, st.task.Kind)
	}
	if st.task.Status != StatusRunning || st.cancelRequested {
		status := st.task.Status
		q.mu.Unlock()
		return fmt.Errorf("%w: cannot pause a %s task", apperr.ErrInvalidState, status)
	}
	st.task.Status = StatusPaused
	st.resume = make(chan struct{})
	snapshot := st.task.clone()
	q.mu.Unlock()

	log.Printf("TaskQueue: paused task '%s' (ID: %s)", snapshot.Title, id)
	q.persist(snapshot)
	q.publish(snapshot)
	return nil
}

func (q *Queue) Resume(id string) error {
	q.mu.Lock()
	st, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", apperr.ErrTaskNotFound, id)
	}
	if st.task.Status != StatusPaused {
		status := st.task.Status
		q.mu.Unlock()
		return fmt.Errorf("%w: cannot resume a %s task", apperr.ErrInvalidState, status)
	}
	st.task.Status = StatusRunning
	close(st.resume)
	st.resume = nil
	snapshot := st.task.clone()
	q.mu.Unlock()

	log.Printf("TaskQueue: resumed task '%s' (ID: %s)", snapshot.Title, id)
	q.persist(snapshot)
	q.publish(snapshot)
	return nil
}

// Cancel cancels a queued task immediately. For running or paused tasks it requests
// cancellation, honoured at the next checkpoint.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	st, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", apperr.ErrTaskNotFound, id)
	}

	switch st.task.Status {
	case StatusQueued:
		snapshot := q.finalizeLocked(st, StatusCancelled, nil)
		q.mu.Unlock()
		log.Printf("TaskQueue: cancelled queued task '%s' (ID: %s)", snapshot.Title, id)
		q.persist(snapshot)
		q.publish(snapshot)
		return nil
	case StatusRunning, StatusPaused:
		if !st.cancelRequested {
			st.cancelRequested = true
			if st.abort != nil {
				st.abort()
			}
		}
		q.mu.Unlock()
		log.Printf("TaskQueue: cancellation requested for task %s", id)
		return nil
	}
	status := st.task.Status
	q.mu.Unlock()
	return fmt.Errorf("%w: cannot cancel a %s task", apperr.ErrInvalidState, status)
}

// Delete removes a terminal task from the tracked list.
func (q *Queue) Delete(id string) error {
	q.mu.Lock()
	st, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", apperr.ErrTaskNotFound, id)
	}
	if !st.task.Status.Terminal() {
		status := st.task.Status
		q.mu.Unlock()
		return fmt.Errorf("%w: cannot delete a %s task", apperr.ErrInvalidState, status)
	}
	delete(q.tasks, id)
	q.mu.Unlock()

	q.deleteFromStore([]string{id})
	return nil
}

func (q *Queue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	queued := make([]*Task, 0)
	for _, st := range q.tasks {
		if st.task.Status == StatusQueued {
			queued = append(queued, st.task)
		}
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].CreatedAt.Before(queued[j].CreatedAt) })
	ids := make([]string, 0, len(queued))
	for _, t := range queued {
		ids = append(ids, t.ID)
	}
	q.mu.Unlock()

	for _, id := range ids {
		q.enqueuePendingID(id)
	}
	for range q.opts.Workers {
		q.wg.Add(1)
		go q.worker()
	}
	log.Printf("TaskQueue: started with %d workers", q.opts.Workers)
}

// Stop 等待正在执行的任务到达检查点或完成后退出
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.stop()
		q.wg.Wait()
		log.Println("TaskQueue: stopped")
	})
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCtx.Done():
			return
		case id := <-q.pending:
			st, ok := q.markRunning(id)
			if !ok {
				continue
			}
			err := q.execute(st)
			q.finish(st, err)
		}
	}
}

func (q *Queue) execute(st *state) (err error) {
	exec := &Execution{q: q, st: st}
	defer exec.releaseLocks()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx := context.Background()
	if !st.def.RetryTransient {
		return st.def.Run(ctx, exec)
	}
	return retry.Do(
		func() error { return st.def.Run(ctx, exec) },
		retry.Attempts(q.opts.RetryAttempts),
		retry.Delay(q.opts.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, apperr.ErrStoreUnavailable)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("TaskQueue: task %s attempt %d failed, retrying: %v", st.task.ID, n+1, err)
		}),
	)
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pending <- id:
	default:
		go func() {
			select {
			case q.pending <- id:
			case <-q.stopCtx.Done():
			}
		}()
	}
}

func (q *Queue) markRunning(id string) (*state, bool) {
	q.mu.Lock()
	st, ok := q.tasks[id]
	if !ok || st.task.Status != StatusQueued {
		q.mu.Unlock()
		return nil, false
	}
	now := time.Now()
	st.task.Status = StatusRunning
	st.task.StartedAt = &now
	st.abortCtx, st.abort = context.WithCancel(q.stopCtx)
	snapshot := st.task.clone()
	q.mu.Unlock()

	log.Printf("TaskQueue: running %s task '%s' (ID: %s)", snapshot.Kind, snapshot.Title, id)
	q.persist(snapshot)
	q.publish(snapshot)
	return st, true
}

func (q *Queue) finish(st *state, err error) {
	status := StatusSucceeded
	switch {
	case err == nil:
	case errors.Is(err, ErrCancelled):
		status = StatusCancelled
		err = nil
	default:
		status = StatusFailed
	}

	q.mu.Lock()
	if st.abort != nil {
		st.abort()
	}
	snapshot := q.finalizeLocked(st, status, err)
	pruned := q.pruneTerminalLocked()
	q.mu.Unlock()

	if err != nil {
		log.Printf("TaskQueue: task '%s' (ID: %s) failed: %v", snapshot.Title, snapshot.ID, err)
	} else {
		log.Printf("TaskQueue: task '%s' (ID: %s) finished: %s", snapshot.Title, snapshot.ID, status)
	}
	q.persist(snapshot)
	q.publish(snapshot)
	q.deleteFromStore(pruned)
}

func (q *Queue) finalizeLocked(st *state, status Status, err error) *Task {
	if st.task.Status.Terminal() {
		return st.task.clone()
	}
	now := time.Now()
	st.task.Status = status
	st.task.FinishedAt = &now
	if err != nil {
		st.task.Error = apperr.NewDetail(err)
	}
	if st.resume != nil {
		close(st.resume)
		st.resume = nil
	}
	close(st.done)
	return st.task.clone()
}

func (q *Queue) pruneTerminalLocked() []string {
	if q.opts.MaxHistory <= 0 || len(q.tasks) <= q.opts.MaxHistory {
		return nil
	}
	terminal := make([]*Task, 0, len(q.tasks))
	for _, st := range q.tasks {
		if st.task.Status.Terminal() {
			terminal = append(terminal, st.task)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return finishedAt(terminal[i]).Before(finishedAt(terminal[j]))
	})

	toRemove := len(q.tasks) - q.opts.MaxHistory
	if toRemove > len(terminal) {
		toRemove = len(terminal)
	}
	pruned := make([]string, 0, toRemove)
	for _, t := range terminal[:toRemove] {
		delete(q.tasks, t.ID)
		pruned = append(pruned, t.ID)
	}
	return pruned
}

func finishedAt(t *Task) time.Time {
	if t.FinishedAt != nil {
		return *t.FinishedAt
	}
	return t.CreatedAt
}

// hydrateFromStore 载入历史任务；上次进程遗留的非终态任务标记为失败
func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.Load(ctx)
	if err != nil {
		log.Printf("TaskQueue: failed to load task history: %v", err)
		return
	}

	interrupted := make([]*Task, 0)
	q.mu.Lock()
	for _, t := range loaded {
		if t == nil || t.ID == "" {
			continue
		}
		st := &state{task: t, def: &Definition{Kind: t.Kind, Pausable: t.Pausable}, done: make(chan struct{})}
		if !t.Status.Terminal() {
			now := time.Now()
			t.Status = StatusFailed
			t.FinishedAt = &now
			t.Error = &apperr.Detail{Code: apperr.CodeInternal, Message: "interrupted by restart"}
			interrupted = append(interrupted, t.clone())
		}
		close(st.done)
		q.tasks[t.ID] = st
	}
	q.mu.Unlock()

	if len(interrupted) > 0 {
		log.Printf("TaskQueue: marked %d interrupted tasks as failed", len(interrupted))
	}
	for _, t := range interrupted {
		q.persist(t)
	}
}

func (q *Queue) persist(t *Task) {
	if q.store == nil || t == nil {
		return
	}
	if err := q.store.Upsert(context.Background(), t); err != nil {
		log.Printf("TaskQueue: failed to persist task %s: %v", t.ID, err)
	}
}

func (q *Queue) deleteFromStore(ids []string) {
	if q.store == nil {
		return
	}
	for _, id := range ids {
		if err := q.store.Delete(context.Background(), id); err != nil {
			log.Printf("TaskQueue: failed to delete task %s from store: %v", id, err)
		}
	}
}

func (q *Queue) publish(t *Task) {
	q.bus.Publish(event.EventTaskUpdated, t)
}
