package template

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/webtech-network/autograder-sub001/internal/sandbox"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

func ioCall(t *testing.T, engine *sandbox.FakeEngine, params []types.Param) types.TestResult {
	t.Helper()
	m := sandbox.NewManager(engine, sandbox.ManagerConfig{
		Pools: []sandbox.PoolSpec{{Language: "python", Image: "img", PoolSize: 1}},
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	box, err := m.Acquire(context.Background(), "python")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	t.Cleanup(func() { m.Release(box) })

	tpl := newInputOutputTemplate()
	fn, ok := tpl.Resolve("expect_output")
	if !ok {
		t.Fatal("expect_output not registered")
	}
	return fn(context.Background(), &Call{
		Test:        "expect_output",
		Parameters:  params,
		Language:    "python",
		Runner:      m,
		Box:         box,
		TestTimeout: time.Second,
	})
}

func TestExpectOutputPass(t *testing.T) {
	engine := sandbox.NewFakeEngine()
	engine.Handle("calc.py", sandbox.RunResult{ExitCode: 0, Stdout: "8\n"})

	res := ioCall(t, engine, []types.Param{
		{Name: "inputs", Value: []any{"5", "3"}},
		{Name: "expected_output", Value: "8"},
		{Name: "program_command", Value: "python3 calc.py"},
	})
	if res.Status != types.TestPass || res.Score != 100 {
		t.Errorf("Expected PASS/100, got %s/%v: %s", res.Status, res.Score, res.Report)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Error("Expected exit code telemetry")
	}
}

func TestExpectOutputTrimsWhitespace(t *testing.T) {
	engine := sandbox.NewFakeEngine()
	engine.Handle("calc.py", sandbox.RunResult{ExitCode: 0, Stdout: "  8  \r\n\n"})

	res := ioCall(t, engine, []types.Param{
		{Name: "expected_output", Value: "8"},
		{Name: "program_command", Value: "python3 calc.py"},
	})
	if res.Status != types.TestPass {
		t.Errorf("Trimmed comparison should pass, got %s: %s", res.Status, res.Report)
	}
}

func TestExpectOutputMismatchFails(t *testing.T) {
	engine := sandbox.NewFakeEngine()
	engine.Handle("calc.py", sandbox.RunResult{ExitCode: 0, Stdout: "9\n"})

	res := ioCall(t, engine, []types.Param{
		{Name: "expected_output", Value: "8"},
		{Name: "program_command", Value: "python3 calc.py"},
	})
	if res.Status != types.TestFail || res.Score != 0 {
		t.Errorf("Expected FAIL/0, got %s/%v", res.Status, res.Score)
	}
	if res.Stdout != "9\n" {
		t.Error("Expected stdout telemetry on mismatch")
	}
}

func TestExpectOutputNonZeroExitFails(t *testing.T) {
	engine := sandbox.NewFakeEngine()
	engine.Handle("calc.py", sandbox.RunResult{ExitCode: 1, Stderr: "Traceback (most recent call last):\n  boom"})

	res := ioCall(t, engine, []types.Param{
		{Name: "expected_output", Value: "8"},
		{Name: "program_command", Value: "python3 calc.py"},
	})
	if res.Status != types.TestFail {
		t.Errorf("Expected FAIL, got %s", res.Status)
	}
}

func TestExpectOutputTimeoutIsError(t *testing.T) {
	engine := sandbox.NewFakeEngine()
	engine.Handle("loop.py", sandbox.RunResult{ExitCode: -1, TimedOut: true})

	res := ioCall(t, engine, []types.Param{
		{Name: "expected_output", Value: "8"},
		{Name: "program_command", Value: "python3 loop.py"},
	})
	if res.Status != types.TestError {
		t.Errorf("Timeout should be ERROR, got %s", res.Status)
	}
}

func TestExpectOutputInfrastructureFailureIsError(t *testing.T) {
	engine := sandbox.NewFakeEngine()
	engine.HandleErr("calc.py", errors.New("daemon unreachable"))

	res := ioCall(t, engine, []types.Param{
		{Name: "expected_output", Value: "8"},
		{Name: "program_command", Value: "python3 calc.py"},
	})
	if res.Status != types.TestError {
		t.Errorf("Substrate failure should be ERROR, got %s", res.Status)
	}
}

func TestExpectOutputLanguageMapCommand(t *testing.T) {
	engine := sandbox.NewFakeEngine()
	engine.Handle("python3 calc.py", sandbox.RunResult{ExitCode: 0, Stdout: "8"})

	res := ioCall(t, engine, []types.Param{
		{Name: "expected_output", Value: "8"},
		{Name: "program_command", Value: map[string]any{"python": "python3 calc.py", "java": "java Calc"}},
	})
	if res.Status != types.TestPass {
		t.Errorf("Language-mapped command should resolve for python, got %s: %s", res.Status, res.Report)
	}
}
