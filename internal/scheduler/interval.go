// Package scheduler drives the engine's timer-based polling loops.
package scheduler

import (
	"context"
	"time"

	"propeval/internal/logger"
)

// Interval runs a task on a fixed period until its context is cancelled.
// Ticks that fire while a previous run is still executing are absorbed by
// the ticker, so a slow task never stacks up concurrent runs.
type Interval struct {
	Name           string
	Every          time.Duration
	RunImmediately bool

	ctx context.Context
}

func NewInterval(ctx context.Context, name string, every time.Duration) *Interval {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Interval{Name: name, Every: every, ctx: ctx}
}

// Start blocks until the context is done. Callers run it in a goroutine.
func (s *Interval) Start(task func(context.Context)) {
	if s == nil || task == nil {
		return
	}
	if s.Every <= 0 {
		logger.Warnf("scheduler %s: invalid interval %s, loop disabled", s.Name, s.Every)
		return
	}

	logger.Infof("scheduler %s: started every=%s run_immediately=%v", s.Name, s.Every, s.RunImmediately)
	if s.RunImmediately {
		task(s.ctx)
	}

	ticker := time.NewTicker(s.Every)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("scheduler %s: ctx done, exit", s.Name)
			return
		case <-ticker.C:
			task(s.ctx)
		}
	}
}
