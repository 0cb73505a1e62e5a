package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryLocker_AllOrNothing(t *testing.T) {
	l := NewEntryLocker()

	release, err := l.Acquire(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, l.isHeld(1))
	assert.True(t, l.isHeld(2))

	// 2 被占用时 {2,3} 整体等待，3 不会被单独拿走
	acquired := make(chan func(), 1)
	go func() {
		r, err := l.Acquire(context.Background(), 3, 2)
		if err == nil {
			acquired <- r
		}
	}()

	select {
	case <-acquired:
		t.Fatal("overlapping lock set acquired while held")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, l.isHeld(3))

	release()
	release() // idempotent

	select {
	case r := <-acquired:
		assert.True(t, l.isHeld(3))
		r()
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired after release")
	}
	assert.False(t, l.isHeld(2))
}

func TestEntryLocker_DisjointSetsDoNotWait(t *testing.T) {
	l := NewEntryLocker()
	r1, err := l.Acquire(context.Background(), 1)
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r2, err := l.Acquire(ctx, 2, 2)
	require.NoError(t, err)
	r2()
}

func TestEntryLocker_ContextCancel(t *testing.T) {
	l := NewEntryLocker()
	r, err := l.Acquire(context.Background(), 7)
	require.NoError(t, err)
	defer r()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
