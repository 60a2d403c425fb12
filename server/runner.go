package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/vcokltfre/vvm/pkg/bytecode"
)

// ctxCheckInterval is how many instructions run between context checks.
const ctxCheckInterval = 1024

var errRunnerStopped = errors.New("runner stopped")

// job represents a unit of work to be executed on the runner goroutine.
type job struct {
	fn   func() (any, error)
	done chan jobResult
}

// jobResult holds the return value from a job.
type jobResult struct {
	value any
	err   error
}

// Runner serializes all engine work through a single goroutine.
// A bytecode.VM is single-threaded; every RPC handler goes through the
// runner so no engine is touched from two goroutines.
type Runner struct {
	stepLimit uint64
	jobs      chan job
	quit      chan struct{}
	log       commonlog.Logger
}

// NewRunner creates a Runner and starts the processing goroutine.
// stepLimit caps every run; 0 means unlimited.
func NewRunner(stepLimit uint64) *Runner {
	r := &Runner{
		stepLimit: stepLimit,
		jobs:      make(chan job, 64),
		quit:      make(chan struct{}),
		log:       commonlog.GetLogger("vvm.server"),
	}
	go r.loop()
	return r
}

// loop processes jobs sequentially on a dedicated goroutine.
func (r *Runner) loop() {
	for {
		select {
		case j := <-r.jobs:
			j.done <- r.execute(j.fn)
		case <-r.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics raised by native handlers.
func (r *Runner) execute(fn func() (any, error)) (result jobResult) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("recovered panic: %v", p)
			result = jobResult{err: fmt.Errorf("panic: %v", p)}
		}
	}()
	value, err := fn()
	return jobResult{value: value, err: err}
}

// Do submits fn for execution on the runner goroutine and blocks until it
// completes or ctx is done.
func (r *Runner) Do(ctx context.Context, fn func() (any, error)) (any, error) {
	j := job{fn: fn, done: make(chan jobResult, 1)}
	select {
	case r.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.quit:
		return nil, errRunnerStopped
	}

	select {
	case res := <-j.done:
		return res.value, res.err
	case <-r.quit:
		return nil, errRunnerStopped
	}
}

// StepLimit returns the budget applied to runs that ask for none, and the
// ceiling for runs that ask for more.
func (r *Runner) StepLimit() uint64 {
	return r.stepLimit
}

// Budget clamps a requested step limit to the runner's.
func (r *Runner) Budget(requested uint64) uint64 {
	switch {
	case r.stepLimit == 0:
		return requested
	case requested == 0 || requested > r.stepLimit:
		return r.stepLimit
	default:
		return requested
	}
}

// Exec runs vm until it halts. Must be called on the runner goroutine,
// typically from inside Do. The context is checked between instructions;
// cancellation leaves the VM stopped mid-program and returns ctx.Err().
func (r *Runner) Exec(ctx context.Context, vm *bytecode.VM) (bytecode.Status, error) {
	for i := 0; !vm.Halted(); i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return vm.Status(), err
			}
		}
		if err := vm.Step(); err != nil {
			return vm.Status(), err
		}
	}
	return vm.Status(), vm.Err()
}

// Stop shuts down the runner goroutine. Pending and later calls to Do
// fail with an error.
func (r *Runner) Stop() {
	close(r.quit)
}
