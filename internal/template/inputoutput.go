package template

import (
	"context"
	"strings"

	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/sandbox"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// =============================================================================
// INPUT/OUTPUT TEMPLATE
// =============================================================================
// Runs the student program in the sandbox with scripted stdin and compares
// stdout against the expected output, whitespace-trimmed and line by line.

func newInputOutputTemplate() *Template {
	t := &Template{name: "input_output", needsSandbox: true, entries: make(map[string]entry)}
	t.register("expect_output", ioExpectOutput, requireParams("expected_output", "program_command"))
	return t
}

func ioExpectOutput(ctx context.Context, call *Call) types.TestResult {
	if call.Runner == nil || call.Box == nil {
		return errResult("no sandbox available for this test")
	}

	command, err := resolveCommand(call)
	if err != nil {
		return errResult("%v", err)
	}
	expected, err := stringsParam(call.Parameters, "expected_output")
	if err != nil {
		return errResult("%v", err)
	}

	var stdin string
	if p, ok := call.Param("inputs"); ok {
		inputs, err := p.Strings()
		if err != nil {
			return errResult("%v", err)
		}
		stdin = strings.Join(inputs, "\n") + "\n"
	}

	res, err := call.Runner.Run(ctx, call.Box, command, sandbox.RunOptions{
		Stdin:   stdin,
		Timeout: call.TestTimeout,
	})
	if err != nil {
		logging.Grader("expect_output: sandbox run failed: %v", err)
		return errResult("program could not be executed: %v", err)
	}
	if res.TimedOut {
		return withTelemetry(errResult("program did not finish within the time limit"), res)
	}
	if res.ExitCode != 0 {
		return withTelemetry(fail("program exited with code %d: %s", res.ExitCode, firstLine(res.Stderr)), res)
	}

	got := trimmedLines(res.Stdout)
	want := expectedLines(expected)
	if linesEqual(got, want) {
		return withTelemetry(pass("output matched (%d line(s))", len(want)), res)
	}
	return withTelemetry(fail("output mismatch: expected %q, got %q",
		strings.Join(want, "\\n"), strings.Join(got, "\\n")), res)
}

// resolveCommand reads program_command, which is a plain string or a
// per-language map.
func resolveCommand(call *Call) (string, error) {
	p, ok := call.Param("program_command")
	if !ok {
		return "", types.E(types.KindTreeMalformed, "missing required parameter %q", "program_command")
	}
	command, err := p.CommandForLanguage(call.Language)
	if err != nil {
		return "", types.E(types.KindTreeMalformed, "%v", err)
	}
	return command, nil
}

// expectedLines flattens the expected_output value: each element may itself
// contain embedded newlines.
func expectedLines(expected []string) []string {
	var out []string
	for _, e := range expected {
		out = append(out, trimmedLines(e)...)
	}
	return out
}

// trimmedLines splits on newlines, trims each line, and drops trailing empty
// lines so a final newline never fails a comparison.
func trimmedLines(s string) []string {
	raw := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = strings.TrimSpace(l)
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// withTelemetry attaches the raw execution record to the result.
func withTelemetry(r types.TestResult, res *sandbox.RunResult) types.TestResult {
	r.Stdout = res.Stdout
	r.Stderr = res.Stderr
	code := res.ExitCode
	r.ExitCode = &code
	return r
}
