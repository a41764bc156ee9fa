package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsInvalidCronExpression(t *testing.T) {
	s := New()
	err := s.Register(context.Background(), Task{Name: "bad", Cron: "not a cron expression", Run: func(context.Context) error { return nil }})
	require.Error(t, err)
}

func TestRunGuardedExecutesTaskOnce(t *testing.T) {
	s := New()
	var calls int32
	task := Task{Name: "once", Run: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}}

	s.runGuarded(context.Background(), task)
	assert.EqualValues(t, 1, calls)
	assert.False(t, s.IsRunning("once"))
}

func TestRunGuardedSkipsOverlappingFiring(t *testing.T) {
	s := New()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	task := Task{Name: "slow", Run: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return nil
	}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runGuarded(context.Background(), task)
	}()

	<-started
	assert.True(t, s.IsRunning("slow"))

	// A second firing while the first is still in flight must be skipped,
	// not queued.
	s.runGuarded(context.Background(), task)
	assert.EqualValues(t, 1, calls, "overlapping firing must not execute the task")

	close(release)
	wg.Wait()
	assert.False(t, s.IsRunning("slow"))
}

func TestRunGuardedRecoversAfterTaskError(t *testing.T) {
	s := New()
	task := Task{Name: "flaky", Run: func(context.Context) error {
		return assertSchedErr
	}}

	s.runGuarded(context.Background(), task)
	assert.False(t, s.IsRunning("flaky"), "a failed run must still clear the running flag")

	var calls int32
	task2 := Task{Name: "flaky", Run: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}}
	s.runGuarded(context.Background(), task2)
	assert.EqualValues(t, 1, calls, "a later firing of the same task name must not be permanently blocked")
}

func TestStartAndStopDrainsInFlightRun(t *testing.T) {
	s := New()
	var ran int32
	err := s.Register(context.Background(), Task{
		Name: "tick",
		Cron: "@every 50ms",
		Run: func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		},
	})
	require.NoError(t, err)

	s.Start()
	time.Sleep(120 * time.Millisecond)
	s.Stop()

	assert.True(t, atomic.LoadInt32(&ran) >= 1, "expected at least one firing before stop")
}

type schedErr struct{}

func (schedErr) Error() string { return "simulated task failure" }

var assertSchedErr = schedErr{}
