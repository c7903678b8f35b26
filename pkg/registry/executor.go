package registry

import (
	"context"
	"fmt"
	"time"

	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/proto"
	"conductor/pkg/tools"
)

// Executor runs submitted requests asynchronously. Each dispatch spawns one
// goroutine bounded by the tool's timeout; completion is recorded back into
// the registry, never returned to the caller.
type Executor struct {
	registry  *Registry
	catalogue *tools.Catalogue
	recorder  *metrics.Recorder
	logger    *logx.Logger
	active    chan struct{}
}

// MaxConcurrentExecutions bounds the number of tool goroutines in flight.
const MaxConcurrentExecutions = 8

// NewExecutor creates an executor over a registry and tool catalogue. The
// recorder may be nil.
func NewExecutor(reg *Registry, catalogue *tools.Catalogue, recorder *metrics.Recorder) *Executor {
	return &Executor{
		registry:  reg,
		catalogue: catalogue,
		recorder:  recorder,
		logger:    logx.NewLogger("executor"),
		active:    make(chan struct{}, MaxConcurrentExecutions),
	}
}

// Dispatch starts asynchronous execution of a submitted request. At most one
// dispatch per request id ever runs; a second call is rejected without side
// effects. The ctx bounds the whole execution in addition to the tool timeout.
func (e *Executor) Dispatch(ctx context.Context, id int64) error {
	entry, err := e.registry.takeForDispatch(id)
	if err != nil {
		return err
	}

	def, ok := e.catalogue.Get(entry.Tool)
	if !ok {
		markErr := e.registry.markTerminal(id, proto.StatusFailed,
			fmt.Sprintf("unknown tool: %s", entry.Tool), false)
		if markErr != nil {
			return markErr
		}
		return nil
	}

	e.active <- struct{}{}
	go e.run(ctx, id, entry, def)
	return nil
}

// run executes the tool body and records the terminal state. Runs in its own
// goroutine.
func (e *Executor) run(ctx context.Context, id int64, entry Entry, def *tools.Definition) {
	defer func() { <-e.active }()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Tool %s panicked on request %d: %v", entry.Tool, id, r)
			if err := e.registry.markTerminal(id, proto.StatusFailed,
				fmt.Sprintf("tool %s panicked: %v", entry.Tool, r), false); err != nil {
				e.logger.Error("Failed to record panic for request %d: %v", id, err)
			}
		}
	}()

	if err := e.registry.markRunning(id); err != nil {
		e.logger.Error("Failed to mark request %d running: %v", id, err)
		return
	}

	timeout := def.EffectiveTimeout()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	output, err := e.runAction(execCtx, def, entry.Task)
	elapsed := time.Since(started)

	status, payload, retryable := e.classify(execCtx, entry.Tool, timeout, output, err)

	if markErr := e.registry.markTerminal(id, status, payload, retryable); markErr != nil {
		e.logger.Error("Failed to record result for request %d: %v", id, markErr)
		return
	}
	e.recorder.ObserveRequest(entry.Tool, string(status), elapsed)
}

// runAction invokes the tool body, returning a timeout-shaped error if the
// action ignores its context and runs past the deadline.
func (e *Executor) runAction(ctx context.Context, def *tools.Definition, task string) (string, error) {
	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: tools.NewTerminalFailure("tool panicked: %v", r)}
			}
		}()
		out, err := def.Action(ctx, task)
		done <- outcome{output: out, err: err}
	}()

	select {
	case result := <-done:
		return result.output, result.err
	case <-ctx.Done():
		// Abandon the stuck goroutine; at-most-once dispatch means it can
		// never be restarted against the same request id.
		return "", ctx.Err()
	}
}

// classify maps an action outcome to a terminal status, payload, and
// retryability.
func (e *Executor) classify(ctx context.Context, tool string, timeout time.Duration, output string, err error) (proto.RequestStatus, string, bool) {
	if err == nil {
		return proto.StatusCompleted, output, false
	}

	if ctx.Err() == context.DeadlineExceeded {
		e.logger.Warn("Tool %s exceeded its %s deadline", tool, timeout)
		return proto.StatusTimedOut, fmt.Sprintf("tool %s did not finish within %s", tool, timeout), true
	}

	if failure, ok := tools.AsFailure(err); ok {
		return proto.StatusFailed, failure.Message, failure.ShouldRetry()
	}

	// Unclassified errors are treated as retryable: the tool may simply have
	// hit a transient condition it did not wrap.
	return proto.StatusFailed, err.Error(), true
}

// Wait blocks until all in-flight executions drain. Used at shutdown.
func (e *Executor) Wait() {
	for i := 0; i < MaxConcurrentExecutions; i++ {
		e.active <- struct{}{}
	}
	for i := 0; i < MaxConcurrentExecutions; i++ {
		<-e.active
	}
}
