package scheduler

import (
	"fmt"
	"log"

	"github.com/misaka-danmu/danmu-server/internal/task"
	"github.com/robfig/cron/v3"
)

// Submitter 是调度器对任务队列的全部依赖
type Submitter interface {
	Submit(kind task.Kind, title string, payload any) (*task.Task, error)
	List(f task.Filter) []*task.Task
}

const maintenanceTitle = "库维护"

type Manager struct {
	cron  *cron.Cron
	queue Submitter
	spec  string
}

// NewManager 的 spec 为空时不注册维护任务
func NewManager(queue Submitter, spec string) *Manager {
	return &Manager{
		cron:  cron.New(),
		queue: queue,
		spec:  spec,
	}
}

func (m *Manager) Start() error {
	if m.spec == "" {
		log.Println("Scheduler: maintenance disabled")
		return nil
	}
	if _, err := m.cron.AddFunc(m.spec, func() { m.SubmitMaintenance() }); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", m.spec, err)
	}
	m.cron.Start()
	log.Printf("Scheduler started (maintenance: %s)", m.spec)
	return nil
}

func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
	log.Println("Scheduler stopped.")
}

// SubmitMaintenance 已有未结束的维护任务时跳过本轮
func (m *Manager) SubmitMaintenance() *task.Task {
	for _, t := range m.queue.List(task.Filter{Kind: task.KindScheduledJob}) {
		if !t.Status.Terminal() {
			log.Printf("Scheduler: maintenance task %s still %s, skipping", t.ID, t.Status)
			return nil
		}
	}

	t, err := m.queue.Submit(task.KindScheduledJob, maintenanceTitle, nil)
	if err != nil {
		log.Printf("Scheduler Error: failed to submit maintenance: %v", err)
		return nil
	}
	log.Printf("Scheduler: submitted maintenance task %s", t.ID)
	return t
}
