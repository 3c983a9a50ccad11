// Package stage provides the single-input pipeline stage that hosts a
// processing step on its own worker goroutine, or steps it synchronously
// from the caller when run sequentially.
package stage

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/imusync/internal/monitoring"
)

// Processor turns one input into at most one output. Returning false drops
// the input.
type Processor[I, O any] func(in I) (O, bool)

// Stage pulls inputs from its input queue, runs them through a Processor
// and pushes results to the output queue.
type Stage[I, O any] struct {
	name     string
	parallel bool
	process  Processor[I, O]

	input  *Queue[I]
	output *Queue[O]

	shutdown     atomic.Bool
	shutdownOnce sync.Once
	hooks        []func()
}

// Config configures a Stage.
type Config struct {
	Name string
	// Parallel runs the stage on its own goroutine via Spin. Sequential
	// stages are driven by SpinOnce.
	Parallel bool
	// InputCapacity bounds the input queue; 0 is unbounded.
	InputCapacity int
}

// New creates a Stage feeding output. Hooks run once, in order, when the
// stage shuts down.
func New[I, O any](cfg Config, process func(I) (O, bool), output *Queue[O], hooks ...func()) *Stage[I, O] {
	return &Stage[I, O]{
		name:     cfg.Name,
		parallel: cfg.Parallel,
		process:  process,
		input:    NewQueue[I](cfg.Name+" input", cfg.InputCapacity),
		output:   output,
		hooks:    hooks,
	}
}

// Name returns the stage name.
func (s *Stage[I, O]) Name() string {
	return s.name
}

// Parallel reports whether the stage runs on its own goroutine.
func (s *Stage[I, O]) Parallel() bool {
	return s.parallel
}

// Input returns the stage input queue.
func (s *Stage[I, O]) Input() *Queue[I] {
	return s.input
}

// Output returns the stage output queue.
func (s *Stage[I, O]) Output() *Queue[O] {
	return s.output
}

// IsShutdown reports whether the stage has been asked to stop. It never
// blocks.
func (s *Stage[I, O]) IsShutdown() bool {
	return s.shutdown.Load()
}

// Shutdown stops the stage: it sets the shutdown flag, shuts the input
// queue and runs the shutdown hooks. The output queue is left open for
// downstream consumers to drain. Safe to call repeatedly from any goroutine.
func (s *Stage[I, O]) Shutdown() {
	s.shutdownOnce.Do(func() {
		monitoring.Logf("stage %s: shutting down", s.name)
		s.shutdown.Store(true)
		s.input.Shutdown()
		for _, hook := range s.hooks {
			hook()
		}
	})
}

// Spin processes inputs until the stage shuts down or ctx is cancelled.
// Cancelling ctx shuts the stage down.
func (s *Stage[I, O]) Spin(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	monitoring.Logf("stage %s: spinning", s.name)
	for !s.IsShutdown() {
		in, ok := s.input.PopBlocking()
		if !ok {
			break
		}
		s.handle(in)
	}
	monitoring.Logf("stage %s: stopped", s.name)
	return ctx.Err()
}

// SpinOnce processes at most one queued input without blocking. It returns
// false when there was nothing to do or the stage is shut down.
func (s *Stage[I, O]) SpinOnce() bool {
	if s.IsShutdown() {
		return false
	}
	in, ok := s.input.Pop()
	if !ok {
		return false
	}
	s.handle(in)
	return true
}

func (s *Stage[I, O]) handle(in I) {
	out, ok := s.process(in)
	if !ok {
		return
	}
	if !s.output.Push(out) {
		monitoring.Debugf(1, "stage %s: output queue %s closed, dropping result", s.name, s.output.Name())
	}
}
