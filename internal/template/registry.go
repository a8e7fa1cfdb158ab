// Package template holds the built-in test libraries. A template is an
// immutable registry mapping test-function names to implementations with a
// uniform signature; the criteria builder resolves rubric test names against
// it and the grader invokes the resolved functions.
package template

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/webtech-network/autograder-sub001/internal/sandbox"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// =============================================================================
// CALL CONTRACT
// =============================================================================

// Call is everything a test function may consume for one invocation. Files is
// the submission content keyed by filename; Runner and Box are nil unless the
// template declares a sandbox requirement.
type Call struct {
	Test       string
	File       string
	Parameters []types.Param

	Files    map[string][]byte
	Language string

	Runner sandbox.Runner
	Box    *sandbox.Box

	// TestTimeout bounds one sandboxed command; zero means the engine
	// default.
	TestTimeout time.Duration

	// Session carries state shared by every test of one submission, such
	// as a server process already started in the box.
	Session *Session
}

// Param returns the named parameter.
func (c *Call) Param(name string) (types.Param, bool) {
	return types.FindParam(c.Parameters, name)
}

// Session is per-submission shared state. The api template starts the student
// server once and reuses it across probes.
type Session struct {
	mu            sync.Mutex
	serverStarted bool
	serverBaseURL string
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{}
}

// TestFunc executes one rubric test. Implementations return ERROR status for
// infrastructure failures (sandbox trouble, timeouts) and never panic on bad
// parameters.
type TestFunc func(ctx context.Context, call *Call) types.TestResult

// Validator checks parameter shape at tree-build time so malformed rubrics
// fail before any execution.
type Validator func(params []types.Param) error

type entry struct {
	fn       TestFunc
	validate Validator
}

// =============================================================================
// TEMPLATE
// =============================================================================

// Template is a named, read-only registry of test functions.
type Template struct {
	name         string
	needsSandbox bool
	entries      map[string]entry
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// NeedsSandbox reports whether tests of this template execute submission code.
func (t *Template) NeedsSandbox() bool { return t.needsSandbox }

// Resolve returns the implementation of the named test.
func (t *Template) Resolve(testName string) (TestFunc, bool) {
	e, ok := t.entries[testName]
	if !ok {
		return nil, false
	}
	return e.fn, true
}

// ValidateParams applies the test's build-time parameter check, if any.
func (t *Template) ValidateParams(testName string, params []types.Param) error {
	e, ok := t.entries[testName]
	if !ok {
		return types.E(types.KindTreeMalformed, "test %q is not defined by template %q", testName, t.name)
	}
	if e.validate == nil {
		return nil
	}
	return e.validate(params)
}

func (t *Template) register(name string, fn TestFunc, validate Validator) {
	t.entries[name] = entry{fn: fn, validate: validate}
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is the set of available templates. It is populated once at startup
// and read-only thereafter.
type Registry struct {
	templates map[string]*Template
}

// Options configures the built-in template set.
type Options struct {
	// Essay delegates AI-graded tests. When nil the essay template still
	// registers but its tests report ERROR.
	Essay Scorer
}

/// Builtin constructs the four built-in templates: webdev, input_output, api,
// essay.
func Builtin(opts Options) *Registry {
	r := &Registry{templates: make(map[string]*Template)}
	r.add(newWebdevTemplate())
	r.add(newInputOutputTemplate())
	r.add(newAPITemplate())
	r.add(newEssayTemplate(opts.Essay))
	return r
}

func (r *Registry) add(t *Template) {
	r.templates[t.name] = t
}

// Lookup resolves a template by name.
func (r *Registry) Lookup(name string) (*Template, error) {
	t, ok := r.templates[name]
	if !ok {
		return nil, types.E(types.KindTemplateUnknown, "template %q is not registered", name)
	}
	return t, nil
}

// Names lists registered template names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// =============================================================================
// RESULT AND PARAMETER HELPERS
// =============================================================================

func pass(format string, args ...any) types.TestResult {
	return types.TestResult{Status: types.TestPass, Score: 100, Report: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) types.TestResult {
	return types.TestResult{Status: types.TestFail, Score: 0, Report: fmt.Sprintf(format, args...)}
}

func partial(score float64, format string, args ...any) types.TestResult {
	return types.TestResult{Status: types.TestPartial, Score: score, Report: fmt.Sprintf(format, args...)}
}

// errResult reports an infrastructure failure. The test did not evaluate the
// submission; the score is 0 and the report says why.
func errResult(format string, args ...any) types.TestResult {
	return types.TestResult{Status: types.TestError, Score: 0, Report: fmt.Sprintf(format, args...)}
}

// ratio converts a found/required pair into the standard counted-occurrence
// outcome: PASS at or above the requirement, PARTIAL in between, FAIL at zero.
func ratio(found, required int, subject string) types.TestResult {
	if required <= 0 {
		required = 1
	}
	if found >= required {
		return pass("found %d of %d required %s", found, required, subject)
	}
	if found == 0 {
		return fail("found no %s (required %d)", subject, required)
	}
	score := float64(found) / float64(required) * 100
	return partial(score, "found %d of %d required %s", found, required, subject)
}

func stringParam(params []types.Param, name string) (string, error) {
	p, ok := types.FindParam(params, name)
	if !ok {
		return "", types.E(types.KindTreeMalformed, "missing required parameter %q", name)
	}
	s, err := p.String()
	if err != nil {
		return "", types.E(types.KindTreeMalformed, "%v", err)
	}
	return s, nil
}

func intParamOr(params []types.Param, name string, def int) (int, error) {
	p, ok := types.FindParam(params, name)
	if !ok {
		return def, nil
	}
	n, err := p.Int()
	if err != nil {
		return 0, types.E(types.KindTreeMalformed, "%v", err)
	}
	return n, nil
}

func stringsParam(params []types.Param, name string) ([]string, error) {
	p, ok := types.FindParam(params, name)
	if !ok {
		return nil, types.E(types.KindTreeMalformed, "missing required parameter %q", name)
	}
	v, err := p.Strings()
	if err != nil {
		return nil, types.E(types.KindTreeMalformed, "%v", err)
	}
	return v, nil
}

// requireParams builds a Validator asserting presence of the named parameters.
func requireParams(names ...string) Validator {
	return func(params []types.Param) error {
		for _, name := range names {
			if _, ok := types.FindParam(params, name); !ok {
				return types.E(types.KindTreeMalformed, "missing required parameter %q", name)
			}
		}
		return nil
	}
}
