package pipeline

import (
	"context"
	"time"

	"github.com/webtech-network/autograder-sub001/internal/criteria"
	"github.com/webtech-network/autograder-sub001/internal/export"
	"github.com/webtech-network/autograder-sub001/internal/feedback"
	"github.com/webtech-network/autograder-sub001/internal/focus"
	"github.com/webtech-network/autograder-sub001/internal/grader"
	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/sandbox"
	"github.com/webtech-network/autograder-sub001/internal/template"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// ConfigSource resolves the active grading config for an assignment. The
// store satisfies this; the one-shot CLI preloads the context instead.
type ConfigSource interface {
	ActiveConfig(ctx context.Context, assignmentID string) (*types.GradingConfig, error)
}

// Deps wires the grading steps to the process-owned services.
type Deps struct {
	Configs  ConfigSource
	Registry *template.Registry
	Pool     sandbox.Runner
	Feedback feedback.Producer
	Sink     export.Sink

	// FeedbackEnabled gates the FOCUS and FEEDBACK steps.
	FeedbackEnabled bool

	AcquireTimeout time.Duration
	SetupTimeout   time.Duration
	TestTimeout    time.Duration
}

// Step names, in pipeline order.
const (
	StepLoadConfig   = "LOAD_CONFIG"
	StepLoadTemplate = "LOAD_TEMPLATE"
	StepBuildTree    = "BUILD_TREE"
	StepPreFlight    = "PRE_FLIGHT"
	StepGrade        = "GRADE"
	StepFocus        = "FOCUS"
	StepFeedback     = "FEEDBACK"
	StepExport       = "EXPORT"
)

// GradingSteps builds the ordered step list. The EXPORT step is only planned
// when a sink is configured.
func GradingSteps(deps Deps) []Step {
	steps := []Step{
		NewStep(StepLoadConfig, deps.loadConfig),
		NewStep(StepLoadTemplate, deps.loadTemplate),
		NewStep(StepBuildTree, deps.buildTree),
		NewStep(StepPreFlight, deps.preFlight),
		NewStep(StepGrade, deps.grade),
		NewStep(StepFocus, deps.focus),
		NewStep(StepFeedback, deps.feedback),
	}
	if deps.Sink != nil {
		steps = append(steps, NewStep(StepExport, deps.export))
	}
	return steps
}

func (d Deps) loadConfig(ctx context.Context, pc *Context) StepResult {
	if pc.Config != nil {
		return Skip("config preloaded")
	}
	cfg, err := d.Configs.ActiveConfig(ctx, pc.Submission.AssignmentID)
	if err != nil {
		return FailFatal(types.AsError(err))
	}
	if cfg == nil {
		return FailFatal(types.E(types.KindConfigMissing,
			"no active grading config for assignment %q", pc.Submission.AssignmentID))
	}
	if !cfg.SupportsLanguage(pc.Submission.Language) {
		return FailFatal(types.E(types.KindTreeMalformed,
			"assignment %q does not accept language %q", pc.Submission.AssignmentID, pc.Submission.Language))
	}
	pc.Config = cfg
	return OK()
}

func (d Deps) loadTemplate(ctx context.Context, pc *Context) StepResult {
	tpl, err := d.Registry.Lookup(pc.Config.Template)
	if err != nil {
		return FailFatal(types.AsError(err))
	}
	pc.Template = tpl
	pc.Session = template.NewSession()
	return OK()
}

func (d Deps) buildTree(ctx context.Context, pc *Context) StepResult {
	if pc.Tree != nil {
		return Skip("tree prebuilt")
	}
	tree, err := criteria.Build(&pc.Config.Criteria, pc.Template, pc.Submission.Language)
	if err != nil {
		return FailFatal(types.AsError(err))
	}
	pc.Tree = tree
	return OK()
}

// preFlight verifies required files, acquires a sandbox when the template
// needs one, injects the submission, and runs the setup commands.
func (d Deps) preFlight(ctx context.Context, pc *Context) StepResult {
	setup, err := pc.Config.Setup.Effective(pc.Submission.Language)
	if err != nil {
		return FailFatal(types.E(types.KindPreflightSetupFailed, "%v", err))
	}

	for _, required := range setup.RequiredFiles {
		if _, ok := pc.Submission.File(required); !ok {
			return FailFatal(types.E(types.KindPreflightMissingFile,
				"required file %s is missing from the submission (got: %v)",
				required, pc.Submission.FileNames()).WithDetail("file", required))
		}
	}

	if !pc.Template.NeedsSandbox() {
		return OK()
	}

	acquireCtx := ctx
	if d.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, d.AcquireTimeout)
		defer cancel()
	}
	box, err := d.Pool.Acquire(acquireCtx, pc.Submission.Language)
	if err != nil {
		return FailFatal(types.AsError(err))
	}
	pc.Box = box // released by the engine on every exit path

	if err := d.Pool.InjectFiles(ctx, box, pc.Submission.FileMap()); err != nil {
		return FailFatal(types.E(types.KindPreflightSetupFailed,
			"could not place submission files in the sandbox: %v", err))
	}

	for _, cmd := range setup.SetupCommands {
		if err := ctx.Err(); err != nil {
			return FailFatal(types.E(types.KindCancelled, "cancelled during setup"))
		}
		res, err := d.Pool.Run(ctx, box, cmd.Command, sandbox.RunOptions{Timeout: d.SetupTimeout})
		if err != nil {
			return FailFatal(types.E(types.KindPreflightSetupFailed,
				"setup command %q could not run: %v", cmd.Name, err))
		}
		if res.TimedOut {
			return FailFatal(types.E(types.KindPreflightSetupFailed,
				"setup command %q timed out", cmd.Name).
				WithDetail("command", cmd.Command))
		}
		if res.ExitCode != 0 {
			return FailFatal(types.E(types.KindPreflightSetupFailed,
				"setup command %q exited with code %d", cmd.Name, res.ExitCode).
				WithDetail("command", cmd.Command).
				WithDetail("exit_code", res.ExitCode).
				WithDetail("stdout", res.Stdout).
				WithDetail("stderr", res.Stderr))
		}
		logging.PipelineDebug("setup command %q ok (%s)", cmd.Name, res.Duration)
	}
	return OK()
}

func (d Deps) grade(ctx context.Context, pc *Context) StepResult {
	result, err := grader.GradeTree(ctx, pc.Tree, pc.Submission, grader.Options{
		Runner:      d.Pool,
		Box:         pc.Box,
		Session:     pc.Session,
		TestTimeout: d.TestTimeout,
	})
	if err != nil {
		return FailFatal(types.AsError(err))
	}
	pc.Result = result
	return OK()
}

func (d Deps) focus(ctx context.Context, pc *Context) StepResult {
	if !d.FeedbackEnabled {
		return Skip("feedback disabled")
	}
	pc.Focus = focus.Compute(pc.Result)
	return OK()
}

func (d Deps) feedback(ctx context.Context, pc *Context) StepResult {
	if !d.FeedbackEnabled {
		return Skip("feedback disabled")
	}

	producer := d.Feedback
	if producer == nil {
		producer = &feedback.Formatter{}
	}

	in := feedback.Input{Submission: pc.Submission, Tree: pc.Result, Focus: pc.Focus}
	text, err := producer.Produce(ctx, in)
	if err != nil {
		// Degrade to the deterministic formatter rather than lose
		// feedback entirely.
		pc.DegradedFeedback = true
		if fallback, ferr := (&feedback.Formatter{}).Produce(ctx, in); ferr == nil {
			pc.Feedback = fallback
		}
		return FailSoft(types.E(types.KindFeedbackFailed, "feedback producer failed: %v", err))
	}
	pc.Feedback = text
	return OK()
}

func (d Deps) export(ctx context.Context, pc *Context) StepResult {
	result := &types.SubmissionResult{
		SubmissionID: pc.Submission.ID,
		ResultTree:   pc.Result,
		Focus:        pc.Focus,
		Feedback:     pc.Feedback,
		FinalScore:   pc.Result.FinalScore,
	}
	if err := d.Sink.Export(ctx, pc.Submission, result); err != nil {
		return FailSoft(types.AsError(err))
	}
	return OK()
}
