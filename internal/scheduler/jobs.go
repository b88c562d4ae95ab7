package scheduler

import (
	"context"
	"errors"

	"github.com/angelmondragon/vetsync/internal/engine"
)

// Syncer is the engine surface driven by the scheduler.
type Syncer interface {
	PushAll(ctx context.Context) engine.PushSummary
	Pull(ctx context.Context) engine.PullSummary
	HasPendingWork(ctx context.Context) bool
	IsPushing() bool
}

// pushJob pushes only when something is waiting.
type pushJob struct {
	syncer Syncer
}

func NewPushJob(s Syncer) Job { return &pushJob{syncer: s} }

func (j *pushJob) Name() string { return "push" }

func (j *pushJob) Run(ctx context.Context) error {
	if !j.syncer.HasPendingWork(ctx) {
		return nil
	}
	summary := j.syncer.PushAll(ctx)
	if summary.Error != "" {
		return errors.New(summary.Error)
	}
	return nil
}

type pullJob struct {
	syncer Syncer
}

func NewPullJob(s Syncer) Job { return &pullJob{syncer: s} }

func (j *pullJob) Name() string { return "pull" }

func (j *pullJob) Run(ctx context.Context) error {
	summary := j.syncer.Pull(ctx)
	if summary.Error != "" {
		return errors.New(summary.Error)
	}
	return nil
}
