package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidbot/internal/scheduler"
)

type fakeJobs struct {
	mu   sync.Mutex
	runs int
	err  error
}

func (f *fakeJobs) Run(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.err
}

func (f *fakeJobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func TestRunner_StartRunsImmediately(t *testing.T) {
	jobs := &fakeJobs{}
	r := New(jobs, time.Second, zerolog.Nop())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	if got := jobs.count(); got != 1 {
		t.Errorf("runs = %d, want 1 immediate pass", got)
	}
}

func TestRunner_StopDrains(t *testing.T) {
	jobs := &fakeJobs{}
	r := New(jobs, time.Second, zerolog.Nop())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.Stop()

	before := jobs.count()
	time.Sleep(1500 * time.Millisecond)
	if got := jobs.count(); got != before {
		t.Errorf("runs advanced after Stop: %d -> %d", before, got)
	}
}

func TestRunner_JobFailuresKeepLoopAlive(t *testing.T) {
	jobs := &fakeJobs{err: &scheduler.RunError{Failures: []*scheduler.ActionError{
		{Owner: "VideoBot", Name: "post_new_videos", Err: errors.New("boom")},
	}}}
	r := New(jobs, time.Second, zerolog.Nop())

	r.runOnce(context.Background())
	r.runOnce(context.Background())

	if got := jobs.count(); got != 2 {
		t.Errorf("runs = %d, want 2", got)
	}
}

func TestRunner_SkipsWhenContextCancelled(t *testing.T) {
	jobs := &fakeJobs{}
	r := New(jobs, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.runOnce(ctx)

	if got := jobs.count(); got != 0 {
		t.Errorf("runs = %d, want 0", got)
	}
}
