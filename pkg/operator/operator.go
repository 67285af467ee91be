// Package operator defines the processing-cycle lifecycle that a streaming
// runtime drives operators through, plus a harness that plays the runtime for
// hosts and tests: setup once, then begin-window / emit / end-window per
// cycle, teardown at the end.
package operator

import "context"

// Operator is the lifecycle contract shared by all operators. The runtime
// calls Setup once, then brackets every processing cycle with BeginWindow and
// EndWindow, and finally calls Teardown exactly once, also after failures.
type Operator interface {
	// Setup prepares the operator. It runs before the first window and is
	// where recovery from a previous incarnation happens.
	Setup(ctx context.Context) error
	// BeginWindow opens the numbered processing cycle. Window ids are
	// positive and strictly increasing.
	BeginWindow(ctx context.Context, windowID int64) error
	// EndWindow closes the current cycle. State that must survive a crash
	// is committed here.
	EndWindow(ctx context.Context) error
	// Teardown releases the operator's resources.
	Teardown(ctx context.Context) error
}

// InputOperator is an Operator that originates tuples. The runtime calls
// EmitTuples one or more times inside each window; implementations decide how
// much work one call performs.
type InputOperator interface {
	Operator

	// EmitTuples produces tuples for the current window. Calls after the
	// window's work is done must be cheap no-ops.
	EmitTuples(ctx context.Context) error
}
