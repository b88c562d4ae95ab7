package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/vetsync/internal/engine"
	"github.com/angelmondragon/vetsync/pkg/logger"
)

type fakeLock struct {
	mu       sync.Mutex
	acquired bool
	deny     bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquired || f.deny {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = false
	return nil
}

type fakeSyncer struct {
	mu      sync.Mutex
	calls   []string
	pending bool
	pushing atomic.Bool
	pushErr string
	pushes  atomic.Int32
}

func (f *fakeSyncer) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeSyncer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSyncer) PushAll(context.Context) engine.PushSummary {
	f.pushes.Add(1)
	f.record("push")
	return engine.PushSummary{Error: f.pushErr}
}

func (f *fakeSyncer) Pull(context.Context) engine.PullSummary {
	f.record("pull")
	return engine.PullSummary{}
}

func (f *fakeSyncer) HasPendingWork(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *fakeSyncer) IsPushing() bool { return f.pushing.Load() }

func newTestScheduler(t *testing.T, syncer *fakeSyncer, lock Lock, debounce time.Duration) *Scheduler {
	t.Helper()
	s, err := New(Params{
		Logger:   logger.Nop(),
		Syncer:   syncer,
		Lock:     lock,
		Interval: time.Hour,
		Debounce: debounce,
	})
	if err != nil {
		t.Fatalf("construct scheduler: %v", err)
	}
	return s
}

func equalCalls(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRunCyclePushesThenPulls(t *testing.T) {
	syncer := &fakeSyncer{pending: true}
	s := newTestScheduler(t, syncer, &fakeLock{}, 0)

	s.RunCycle(context.Background(), TriggerPeriodic)
	if got := syncer.Calls(); !equalCalls(got, []string{"push", "pull"}) {
		t.Fatalf("expected push then pull, got %v", got)
	}
}

func TestRunCyclePullsWithoutPendingWork(t *testing.T) {
	syncer := &fakeSyncer{}
	s := newTestScheduler(t, syncer, &fakeLock{}, 0)

	s.RunCycle(context.Background(), TriggerPeriodic)
	if got := syncer.Calls(); !equalCalls(got, []string{"pull"}) {
		t.Fatalf("expected pull only, got %v", got)
	}
}

func TestRunCyclePullsEvenWhenPushFails(t *testing.T) {
	syncer := &fakeSyncer{pending: true, pushErr: "push failed: 502"}
	s := newTestScheduler(t, syncer, &fakeLock{}, 0)

	s.RunCycle(context.Background(), TriggerOnline)
	if got := syncer.Calls(); !equalCalls(got, []string{"push", "pull"}) {
		t.Fatalf("expected push then pull, got %v", got)
	}
}

func TestRunCycleSkipsWhilePushing(t *testing.T) {
	syncer := &fakeSyncer{pending: true}
	syncer.pushing.Store(true)
	s := newTestScheduler(t, syncer, &fakeLock{}, 0)

	s.RunCycle(context.Background(), TriggerPeriodic)
	if got := syncer.Calls(); len(got) != 0 {
		t.Fatalf("expected no calls, got %v", got)
	}
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	syncer := &fakeSyncer{pending: true}
	s := newTestScheduler(t, syncer, &fakeLock{deny: true}, 0)

	s.RunCycle(context.Background(), TriggerPeriodic)
	if got := syncer.Calls(); len(got) != 0 {
		t.Fatalf("expected no calls, got %v", got)
	}
}

func TestNotifyEnqueuedCoalescesBurst(t *testing.T) {
	syncer := &fakeSyncer{pending: true}
	s := newTestScheduler(t, syncer, &fakeLock{}, 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		s.NotifyEnqueued(ctx)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for syncer.pushes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)

	if got := syncer.pushes.Load(); got != 1 {
		t.Fatalf("expected exactly one debounced push, got %d", got)
	}
	if got := syncer.Calls(); !equalCalls(got, []string{"push"}) {
		t.Fatalf("debounce should only push, got %v", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	syncer := &fakeSyncer{}
	s := newTestScheduler(t, syncer, nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for len(syncer.Calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	s.NotifyEnqueued(context.Background())
	s.mu.Lock()
	armed := s.timer != nil
	s.mu.Unlock()
	if armed {
		t.Fatal("stopped scheduler must not arm the debounce timer")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Params{Syncer: &fakeSyncer{}}); err == nil {
		t.Fatal("expected logger error")
	}
	if _, err := New(Params{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected syncer error")
	}
}
