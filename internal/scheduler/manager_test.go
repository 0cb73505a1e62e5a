package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/misaka-danmu/danmu-server/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SubmitMaintenanceSkipsWhileActive(t *testing.T) {
	release := make(chan struct{})
	q := task.NewQueue(task.Options{Workers: 1})
	q.Register(task.Definition{
		Kind:     task.KindScheduledJob,
		Pausable: true,
		Run: func(context.Context, *task.Execution) error {
			<-release
			return nil
		},
	})
	q.Start()
	defer q.Stop()

	m := NewManager(q, "")
	first := m.SubmitMaintenance()
	require.NotNil(t, first)
	assert.Equal(t, task.KindScheduledJob, first.Kind)
	assert.Nil(t, m.SubmitMaintenance(), "second run is skipped while the first is active")

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := q.Wait(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, done.Status)

	assert.NotNil(t, m.SubmitMaintenance())
}

func TestManager_StartValidatesSchedule(t *testing.T) {
	q := task.NewQueue(task.Options{})
	assert.Error(t, NewManager(q, "not a schedule").Start())

	m := NewManager(q, "@every 1h")
	require.NoError(t, m.Start())
	m.Stop()

	require.NoError(t, NewManager(q, "").Start())
}
