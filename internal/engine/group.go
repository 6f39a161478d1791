package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// GroupStats counts what happened to the tasks of a branchGroup.
type GroupStats struct {
	Started   int64 `json:"started"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
}

// PanicError carries a value recovered from a panicking branch.
type PanicError struct {
	Task  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Task, e.Value)
}

// branchGroup runs tasks with at most limit in flight. The first task to
// fail cancels the group's context and its error is the one Wait reports.
type branchGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}
	wg     sync.WaitGroup

	once sync.Once
	err  error

	started, succeeded, failed, panicked atomic.Int64
}

func newBranchGroup(ctx context.Context, limit int) *branchGroup {
	if limit <= 0 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &branchGroup{ctx: ctx, cancel: cancel, slots: make(chan struct{}, limit)}
}

// Go waits for a free slot and starts fn under the given task name. It
// returns false without running fn once the group's context is done.
func (g *branchGroup) Go(task string, fn func(ctx context.Context) error) bool {
	select {
	case g.slots <- struct{}{}:
	case <-g.ctx.Done():
		return false
	}
	if g.ctx.Err() != nil {
		<-g.slots
		return false
	}

	g.wg.Add(1)
	g.started.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() { <-g.slots }()

		err := g.guard(task, fn)
		if err == nil {
			g.succeeded.Add(1)
			return
		}
		g.failed.Add(1)
		g.once.Do(func() {
			g.err = err
			g.cancel()
		})
	}()
	return true
}

func (g *branchGroup) guard(task string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.panicked.Add(1)
			err = &PanicError{Task: task, Value: r}
		}
	}()
	return fn(g.ctx)
}

// Wait blocks until every started task returns and reports the first error.
func (g *branchGroup) Wait() error {
	g.wg.Wait()
	g.cancel()
	return g.err
}

func (g *branchGroup) Stats() GroupStats {
	return GroupStats{
		Started:   g.started.Load(),
		Succeeded: g.succeeded.Load(),
		Failed:    g.failed.Load(),
		Panicked:  g.panicked.Load(),
	}
}
