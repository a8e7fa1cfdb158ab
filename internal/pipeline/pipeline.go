// Package pipeline executes the ordered grading steps for one submission
// against a shared context, producing a complete execution trace no matter
// how the run ends.
package pipeline

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/webtech-network/autograder-sub001/internal/criteria"
	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/sandbox"
	"github.com/webtech-network/autograder-sub001/internal/template"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// =============================================================================
// STEP CONTRACT
// =============================================================================

// Context is the shared mutable state steps read and extend. Each field is
// written by exactly one step and read by later ones.
type Context struct {
	Submission *types.Submission

	Config   *types.GradingConfig
	Template *template.Template
	Tree     *criteria.Tree

	Box     *sandbox.Box
	Session *template.Session

	Result *types.ResultTree
	Focus  *types.Focus

	Feedback         string
	DegradedFeedback bool
}

// Outcome classifies a step result.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeSkip
	OutcomeFail
)

// StepResult is what a step execution reports back to the engine.
type StepResult struct {
	Outcome Outcome
	Reason  string
	Err     *types.Error
	Fatal   bool
}

// OK reports success.
func OK() StepResult { return StepResult{Outcome: OutcomeOK} }

// Skip reports that the step had nothing to do.
func Skip(reason string) StepResult { return StepResult{Outcome: OutcomeSkip, Reason: reason} }

// FailFatal halts the pipeline.
func FailFatal(err *types.Error) StepResult {
	return StepResult{Outcome: OutcomeFail, Err: err, Fatal: true}
}

// FailSoft records the failure and continues.
func FailSoft(err *types.Error) StepResult {
	return StepResult{Outcome: OutcomeFail, Err: err}
}

// Step is one named unit of the grading pipeline.
type Step interface {
	Name() string
	Execute(ctx context.Context, pc *Context) StepResult
}

// =============================================================================
// ENGINE
// =============================================================================

// Runner drives an ordered step list. It owns the two pipeline-wide
// guarantees: a complete trace covering every planned step, and sandbox
// release on every exit path.
type Runner struct {
	steps []Step
	pool  sandbox.Runner
}

// NewRunner creates an engine over the steps. pool may be nil when no step
// can acquire a sandbox.
func NewRunner(steps []Step, pool sandbox.Runner) *Runner {
	return &Runner{steps: steps, pool: pool}
}

// Run executes the steps in order and returns the full trace. Cancellation is
// honored at step boundaries: the pending step records cancelled and the rest
// not_run.
func (r *Runner) Run(ctx context.Context, pc *Context) *types.PipelineExecution {
	start := time.Now()
	exec := &types.PipelineExecution{
		TotalSteps: len(r.steps),
		Status:     "success",
		Steps:      make([]types.StepRecord, 0, len(r.steps)),
	}

	defer func() {
		if pc.Box != nil && r.pool != nil {
			r.pool.Release(pc.Box)
			pc.Box = nil
		}
		exec.DurationMs = time.Since(start).Milliseconds()
	}()

	halted := false
	for _, step := range r.steps {
		if halted {
			exec.Steps = append(exec.Steps, types.StepRecord{Name: step.Name(), Status: types.StepNotRun})
			continue
		}

		if err := ctx.Err(); err != nil {
			logging.Pipeline("submission %s cancelled before step %s", pc.Submission.ID, step.Name())
			exec.Steps = append(exec.Steps, types.StepRecord{
				Name:   step.Name(),
				Status: types.StepCancelled,
				Error:  types.E(types.KindCancelled, "submission cancelled"),
			})
			exec.Status = "cancelled"
			exec.FailedAtStep = step.Name()
			halted = true
			continue
		}

		record := r.runStep(ctx, step, pc)
		exec.Steps = append(exec.Steps, record)

		switch record.Status {
		case types.StepSuccess, types.StepSkipped, types.StepSoftFail:
			exec.StepsCompleted++
		case types.StepFailed:
			exec.Status = "failed"
			exec.FailedAtStep = step.Name()
			halted = true
		case types.StepCancelled:
			exec.Status = "cancelled"
			exec.FailedAtStep = step.Name()
			halted = true
		}
	}
	return exec
}

// runStep executes one step with panic containment. A panicking step becomes
// a fatal internal_error; it never takes the service down.
func (r *Runner) runStep(ctx context.Context, step Step, pc *Context) (record types.StepRecord) {
	start := time.Now()
	record = types.StepRecord{Name: step.Name()}

	defer func() {
		record.DurationMs = time.Since(start).Milliseconds()
		if p := recover(); p != nil {
			logging.Error(logging.CategoryPipeline, "step %s panicked: %v\n%s", step.Name(), p, debug.Stack())
			record.Status = types.StepFailed
			record.Error = types.E(types.KindInternal, "step %s panicked: %v", step.Name(), p)
		}
	}()

	result := step.Execute(ctx, pc)
	switch result.Outcome {
	case OutcomeOK:
		record.Status = types.StepSuccess
	case OutcomeSkip:
		record.Status = types.StepSkipped
		record.Message = result.Reason
	case OutcomeFail:
		record.Error = result.Err
		record.Message = result.Err.Message
		if result.Err.Kind == types.KindCancelled {
			record.Status = types.StepCancelled
		} else if result.Fatal {
			record.Status = types.StepFailed
		} else {
			record.Status = types.StepSoftFail
		}
	default:
		record.Status = types.StepFailed
		record.Error = types.E(types.KindInternal, "step %s returned unknown outcome %d", step.Name(), result.Outcome)
	}

	logging.PipelineDebug("step %s: %s (%dms)", step.Name(), record.Status, record.DurationMs)
	return record
}

// step is the function-backed Step used by this package.
type step struct {
	name string
	fn   func(ctx context.Context, pc *Context) StepResult
}

func (s *step) Name() string { return s.name }

func (s *step) Execute(ctx context.Context, pc *Context) StepResult {
	return s.fn(ctx, pc)
}

// NewStep wraps a function as a Step.
func NewStep(name string, fn func(ctx context.Context, pc *Context) StepResult) Step {
	return &step{name: name, fn: fn}
}

// StatusOf maps an execution trace to the submission's terminal status.
func StatusOf(exec *types.PipelineExecution) types.SubmissionStatus {
	switch exec.Status {
	case "failed":
		return types.SubmissionFailed
	case "cancelled":
		return types.SubmissionCancelled
	default:
		return types.SubmissionCompleted
	}
}
