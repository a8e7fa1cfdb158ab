package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/webtech-network/autograder-sub001/internal/sandbox"
	"github.com/webtech-network/autograder-sub001/internal/template"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

type stubConfigs struct {
	configs map[string]*types.GradingConfig
}

func (s *stubConfigs) ActiveConfig(ctx context.Context, assignmentID string) (*types.GradingConfig, error) {
	cfg, ok := s.configs[assignmentID]
	if !ok {
		return nil, types.E(types.KindConfigMissing, "no active grading config for assignment %q", assignmentID)
	}
	return cfg, nil
}

func ioConfig() *types.GradingConfig {
	return &types.GradingConfig{
		AssignmentID: "hw-1",
		Template:     "input_output",
		Criteria: types.CriteriaConfig{
			TestLibrary: "input_output",
			Base: &types.CategoryConfig{
				Weight: 100,
				Tests: []types.TestConfig{{
					Name: "expect_output",
					Parameters: []types.Param{
						{Name: "inputs", Value: []any{"5", "3"}},
						{Name: "expected_output", Value: "8"},
						{Name: "program_command", Value: "python3 calc.py"},
					},
				}},
			},
		},
		Setup: &types.SetupConfig{
			Single: &types.LanguageSetup{RequiredFiles: []string{"calc.py"}},
		},
		Active:  true,
		Version: 1,
	}
}

func pySubmission(files ...string) *types.Submission {
	sub := &types.Submission{
		ID:           "sub-1",
		AssignmentID: "hw-1",
		UserID:       "u-1",
		Username:     "ada",
		Language:     "python",
		Status:       types.SubmissionRunning,
	}
	for _, f := range files {
		sub.Files = append(sub.Files, types.SubmissionFile{Name: f, Content: []byte("print(int(input())+int(input()))")})
	}
	return sub
}

type harness struct {
	engine *sandbox.FakeEngine
	pool   *sandbox.Manager
	deps   Deps
}

func newHarness(t *testing.T, cfg *types.GradingConfig) *harness {
	t.Helper()
	engine := sandbox.NewFakeEngine()
	pool := sandbox.NewManager(engine, sandbox.ManagerConfig{
		Pools: []sandbox.PoolSpec{{Language: "python", Image: "img", PoolSize: 1}},
	})
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { pool.Shutdown(context.Background()) })

	return &harness{
		engine: engine,
		pool:   pool,
		deps: Deps{
			Configs:         &stubConfigs{configs: map[string]*types.GradingConfig{cfg.AssignmentID: cfg}},
			Registry:        template.Builtin(template.Options{}),
			Pool:            pool,
			FeedbackEnabled: true,
			AcquireTimeout:  time.Second,
			SetupTimeout:    time.Second,
			TestTimeout:     time.Second,
		},
	}
}

func (h *harness) run(ctx context.Context, sub *types.Submission) (*Context, *types.PipelineExecution) {
	pc := &Context{Submission: sub}
	exec := NewRunner(GradingSteps(h.deps), h.deps.Pool).Run(ctx, pc)
	return pc, exec
}

func stepStatus(exec *types.PipelineExecution, name string) types.StepStatus {
	for _, s := range exec.Steps {
		if s.Name == name {
			return s.Status
		}
	}
	return ""
}

func TestFullPassingRun(t *testing.T) {
	h := newHarness(t, ioConfig())
	h.engine.Handle("calc.py", sandbox.RunResult{ExitCode: 0, Stdout: "8\n"})

	pc, exec := h.run(context.Background(), pySubmission("calc.py"))

	if exec.Status != "success" {
		t.Fatalf("Expected success, got %s (failed at %s)", exec.Status, exec.FailedAtStep)
	}
	if len(exec.Steps) != 7 {
		t.Errorf("Expected 7 planned steps without a sink, got %d", len(exec.Steps))
	}
	for _, s := range exec.Steps {
		if s.Status != types.StepSuccess {
			t.Errorf("Step %s: expected success, got %s", s.Name, s.Status)
		}
	}
	if pc.Result == nil || pc.Result.FinalScore != 100 {
		t.Errorf("Expected final score 100, got %+v", pc.Result)
	}
	if pc.Feedback == "" {
		t.Error("Expected feedback text")
	}
	if StatusOf(exec) != types.SubmissionCompleted {
		t.Errorf("Expected completed status, got %s", StatusOf(exec))
	}
}

func TestMissingRequiredFile(t *testing.T) {
	h := newHarness(t, ioConfig())

	pc, exec := h.run(context.Background(), pySubmission("main.py"))

	if exec.Status != "failed" || exec.FailedAtStep != StepPreFlight {
		t.Fatalf("Expected failure at PRE_FLIGHT, got %s at %s", exec.Status, exec.FailedAtStep)
	}
	rec := exec.Steps[3]
	if rec.Error == nil || rec.Error.Kind != types.KindPreflightMissingFile {
		t.Errorf("Expected preflight_missing_file, got %+v", rec.Error)
	}
	if stepStatus(exec, StepGrade) != types.StepNotRun {
		t.Errorf("GRADE should be not_run, got %s", stepStatus(exec, StepGrade))
	}
	if pc.Result != nil {
		t.Error("No result tree expected on preflight failure")
	}
	if h.engine.Live() != 1 {
		t.Errorf("Sandbox count changed: %d", h.engine.Live())
	}
}

func TestSetupCommandFailure(t *testing.T) {
	cfg := ioConfig()
	cfg.Setup.Single.SetupCommands = []types.SetupCommand{
		{Name: "compile", Command: "javac Calculator.java"},
	}
	h := newHarness(t, cfg)
	h.engine.Handle("javac", sandbox.RunResult{
		ExitCode: 1,
		Stderr:   "Calculator.java:3: error: ';' expected",
	})

	_, exec := h.run(context.Background(), pySubmission("calc.py"))

	if exec.Status != "failed" || exec.FailedAtStep != StepPreFlight {
		t.Fatalf("Expected failure at PRE_FLIGHT, got %s at %s", exec.Status, exec.FailedAtStep)
	}
	rec := exec.Steps[3]
	if rec.Error.Kind != types.KindPreflightSetupFailed {
		t.Errorf("Expected preflight_setup_failed, got %s", rec.Error.Kind)
	}
	if rec.Error.Details["exit_code"] != 1 {
		t.Errorf("Expected recorded exit code, got %v", rec.Error.Details["exit_code"])
	}
	if rec.Error.Details["stderr"] == "" {
		t.Error("Expected captured stderr")
	}
}

func TestUnknownAssignment(t *testing.T) {
	h := newHarness(t, ioConfig())
	sub := pySubmission("calc.py")
	sub.AssignmentID = "hw-404"

	_, exec := h.run(context.Background(), sub)

	if exec.FailedAtStep != StepLoadConfig {
		t.Fatalf("Expected failure at LOAD_CONFIG, got %s", exec.FailedAtStep)
	}
	if exec.Steps[0].Error.Kind != types.KindConfigMissing {
		t.Errorf("Expected config_missing, got %s", exec.Steps[0].Error.Kind)
	}
	for _, s := range exec.Steps[1:] {
		if s.Status != types.StepNotRun {
			t.Errorf("Step %s should be not_run, got %s", s.Name, s.Status)
		}
	}
}

func TestUnknownTemplate(t *testing.T) {
	cfg := ioConfig()
	cfg.Template = "robotics"
	h := newHarness(t, cfg)

	_, exec := h.run(context.Background(), pySubmission("calc.py"))

	if exec.FailedAtStep != StepLoadTemplate {
		t.Fatalf("Expected failure at LOAD_TEMPLATE, got %s", exec.FailedAtStep)
	}
	if exec.Steps[1].Error.Kind != types.KindTemplateUnknown {
		t.Errorf("Expected template_unknown, got %s", exec.Steps[1].Error.Kind)
	}
}

func TestMalformedRubric(t *testing.T) {
	cfg := ioConfig()
	cfg.Criteria.Base.Tests[0].Name = "no_such_test"
	h := newHarness(t, cfg)

	_, exec := h.run(context.Background(), pySubmission("calc.py"))

	if exec.FailedAtStep != StepBuildTree {
		t.Fatalf("Expected failure at BUILD_TREE, got %s", exec.FailedAtStep)
	}
	if exec.Steps[2].Error.Kind != types.KindTreeMalformed {
		t.Errorf("Expected tree_malformed, got %s", exec.Steps[2].Error.Kind)
	}
}

func TestCancellationBeforeStart(t *testing.T) {
	h := newHarness(t, ioConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, exec := h.run(ctx, pySubmission("calc.py"))

	if exec.Status != "cancelled" {
		t.Fatalf("Expected cancelled, got %s", exec.Status)
	}
	if exec.FailedAtStep != StepLoadConfig {
		t.Errorf("Expected cancellation recorded at first step, got %s", exec.FailedAtStep)
	}
	if h.engine.Live() != 1 {
		t.Errorf("Sandbox leak on cancellation: %d live", h.engine.Live())
	}
}

func TestSandboxReleasedOnGradeFailure(t *testing.T) {
	h := newHarness(t, ioConfig())
	// Sandbox-level error makes the test ERROR (score 0), not a pipeline
	// failure; the run completes and the box goes back to the pool.
	h.engine.Handle("calc.py", sandbox.RunResult{ExitCode: -1, TimedOut: true})

	pc, exec := h.run(context.Background(), pySubmission("calc.py"))

	if exec.Status != "success" {
		t.Fatalf("Timeout in a test should not fail the pipeline, got %s", exec.Status)
	}
	if pc.Result.FinalScore != 0 {
		t.Errorf("Expected score 0, got %v", pc.Result.FinalScore)
	}
	if pc.Box != nil {
		t.Error("Box should have been released")
	}

	// The pool must be reusable afterwards.
	box, err := h.pool.Acquire(context.Background(), "python")
	if err != nil {
		t.Fatalf("Pool unusable after run: %v", err)
	}
	h.pool.Release(box)
}

func TestPanicBecomesInternalError(t *testing.T) {
	h := newHarness(t, ioConfig())
	steps := []Step{
		NewStep("BOOM", func(ctx context.Context, pc *Context) StepResult {
			panic("step exploded")
		}),
		NewStep("AFTER", func(ctx context.Context, pc *Context) StepResult { return OK() }),
	}

	exec := NewRunner(steps, h.pool).Run(context.Background(), &Context{Submission: pySubmission("calc.py")})

	if exec.Status != "failed" || exec.FailedAtStep != "BOOM" {
		t.Fatalf("Expected failure at BOOM, got %s at %s", exec.Status, exec.FailedAtStep)
	}
	if exec.Steps[0].Error.Kind != types.KindInternal {
		t.Errorf("Expected internal_error, got %s", exec.Steps[0].Error.Kind)
	}
	if exec.Steps[1].Status != types.StepNotRun {
		t.Errorf("Expected AFTER not_run, got %s", exec.Steps[1].Status)
	}
}

func TestWebdevRunNeedsNoSandbox(t *testing.T) {
	cfg := &types.GradingConfig{
		AssignmentID: "hw-1",
		Template:     "webdev",
		Criteria: types.CriteriaConfig{
			Base: &types.CategoryConfig{
				Weight: 100,
				Tests: []types.TestConfig{{
					Name: "has_tag",
					Parameters: []types.Param{
						{Name: "tag", Value: "article"},
						{Name: "required_count", Value: float64(4)},
					},
				}},
			},
		},
	}
	h := newHarness(t, cfg)

	sub := &types.Submission{
		ID:           "sub-2",
		AssignmentID: "hw-1",
		Files: []types.SubmissionFile{{
			Name:    "index.html",
			Content: []byte("<html><body><article>1</article><article>2</article></body></html>"),
		}},
	}
	pc, exec := h.run(context.Background(), sub)

	if exec.Status != "success" {
		t.Fatalf("Expected success, got %s at %s", exec.Status, exec.FailedAtStep)
	}
	if pc.Result.FinalScore != 50 {
		t.Errorf("Expected 50 (2 of 4 articles), got %v", pc.Result.FinalScore)
	}
	if len(h.engine.Commands) != 0 {
		t.Errorf("Webdev grading must not touch the sandbox, ran %v", h.engine.Commands)
	}
}

func TestFeedbackDisabledSkipsFocusAndFeedback(t *testing.T) {
	h := newHarness(t, ioConfig())
	h.deps.FeedbackEnabled = false
	h.engine.Handle("calc.py", sandbox.RunResult{ExitCode: 0, Stdout: "8\n"})

	pc, exec := h.run(context.Background(), pySubmission("calc.py"))

	if exec.Status != "success" {
		t.Fatalf("Expected success, got %s", exec.Status)
	}
	if stepStatus(exec, StepFocus) != types.StepSkipped || stepStatus(exec, StepFeedback) != types.StepSkipped {
		t.Error("FOCUS and FEEDBACK should be skipped when feedback is disabled")
	}
	if pc.Focus != nil || pc.Feedback != "" {
		t.Error("No focus or feedback expected")
	}
}

type failingSink struct{}

func (failingSink) Export(ctx context.Context, sub *types.Submission, result *types.SubmissionResult) error {
	return types.E(types.KindExportFailed, "sink is down")
}

func TestExportFailureIsSoft(t *testing.T) {
	h := newHarness(t, ioConfig())
	h.deps.Sink = failingSink{}
	h.engine.Handle("calc.py", sandbox.RunResult{ExitCode: 0, Stdout: "8\n"})

	_, exec := h.run(context.Background(), pySubmission("calc.py"))

	if exec.Status != "success" {
		t.Fatalf("Export failure must not fail the run, got %s", exec.Status)
	}
	if stepStatus(exec, StepExport) != types.StepSoftFail {
		t.Errorf("Expected soft_failed EXPORT, got %s", stepStatus(exec, StepExport))
	}
	if len(exec.Steps) != 8 {
		t.Errorf("Expected 8 planned steps with a sink, got %d", len(exec.Steps))
	}
}
