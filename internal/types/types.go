// Package types provides shared domain types used across autograder packages.
// This package exists to break import cycles between the pipeline, grader, and
// store layers. Types in this package are foundational data structures with no
// complex dependencies.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// SUBMISSION
// =============================================================================

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionRunning   SubmissionStatus = "running"
	SubmissionCompleted SubmissionStatus = "completed"
	SubmissionFailed    SubmissionStatus = "failed"
	SubmissionCancelled SubmissionStatus = "cancelled"
)

// SubmissionFile is one named file of a submission. Order matters: the API
// adapter preserves upload order and the preflight report lists files in that
// order.
type SubmissionFile struct {
	Name    string `json:"filename"`
	Content []byte `json:"content"`
}

// Submission is the unit of work. It is created by the API adapter and, once
// the pipeline starts, only its status and result writeback mutate.
type Submission struct {
	ID           string           `json:"id"`
	AssignmentID string           `json:"external_assignment_id"`
	UserID       string           `json:"external_user_id"`
	Username     string           `json:"username"`
	Language     string           `json:"language,omitempty"`
	Files        []SubmissionFile `json:"files"`
	Status       SubmissionStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// File returns the content of the named file.
func (s *Submission) File(name string) ([]byte, bool) {
	for _, f := range s.Files {
		if f.Name == name {
			return f.Content, true
		}
	}
	return nil, false
}

// FileNames returns the submitted filenames in upload order.
func (s *Submission) FileNames() []string {
	names := make([]string, len(s.Files))
	for i, f := range s.Files {
		names[i] = f.Name
	}
	return names
}

// FileMap returns the files as a name -> content map for sandbox injection.
func (s *Submission) FileMap() map[string][]byte {
	m := make(map[string][]byte, len(s.Files))
	for _, f := range s.Files {
		m[f.Name] = f.Content
	}
	return m
}

// =============================================================================
// GRADING CONFIG
// =============================================================================

// GradingConfig is the rubric bound to an assignment.
type GradingConfig struct {
	ID           int64          `json:"id"`
	AssignmentID string         `json:"external_assignment_id"`
	Template     string         `json:"template_name"`
	Languages    []string       `json:"languages,omitempty"`
	Criteria     CriteriaConfig `json:"criteria_config"`
	Setup        *SetupConfig   `json:"setup_config,omitempty"`
	Version      int            `json:"version"`
	Active       bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// SupportsLanguage reports whether the config declares the language. A config
// with no declared languages accepts any (single-language assignment).
func (c *GradingConfig) SupportsLanguage(lang string) bool {
	if len(c.Languages) == 0 {
		return true
	}
	for _, l := range c.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// =============================================================================
// TEST RESULTS
// =============================================================================

// TestStatus is the outcome of a single test execution.
type TestStatus string

const (
	TestPass    TestStatus = "PASS"
	TestPartial TestStatus = "PARTIAL"
	TestFail    TestStatus = "FAIL"
	TestError   TestStatus = "ERROR"
)

// TestResult is the leaf of a result tree: one executed rubric test.
type TestResult struct {
	Name       string     `json:"name"`
	File       string     `json:"file,omitempty"`
	Parameters []Param    `json:"parameters,omitempty"`
	Status     TestStatus `json:"status"`
	Score      float64    `json:"score"`
	Report     string     `json:"report"`

	// Optional per-test telemetry for sandboxed tests.
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// ResultNode is an internal node of the result tree: a category or subject
// annotated with its effective (post-normalization) weight and aggregated
// score in [0, 100]. Exactly one of Children or Tests is populated.
type ResultNode struct {
	Name     string        `json:"name"`
	Weight   float64       `json:"weight"`
	Score    float64       `json:"score"`
	Children []*ResultNode `json:"children,omitempty"`
	Tests    []TestResult  `json:"tests,omitempty"`
}

// ResultTree mirrors the criteria tree with execution outcomes. Missing
// categories are nil.
type ResultTree struct {
	Base       *ResultNode `json:"base,omitempty"`
	Bonus      *ResultNode `json:"bonus,omitempty"`
	Penalty    *ResultNode `json:"penalty,omitempty"`
	FinalScore float64     `json:"final_score"`
}

// =============================================================================
// FOCUS
// =============================================================================

// FocusEntry pairs a test result with the submission-wide point deficit
// attributable to it.
type FocusEntry struct {
	Test      TestResult `json:"test_result"`
	DiffScore float64    `json:"diff_score"`
}

// Focus ranks tests per category by their contribution to the score gap,
// descending. Categories absent from the rubric are nil.
type Focus struct {
	Base    []FocusEntry `json:"base,omitempty"`
	Bonus   []FocusEntry `json:"bonus,omitempty"`
	Penalty []FocusEntry `json:"penalty,omitempty"`
}

// =============================================================================
// PIPELINE EXECUTION TRACE
// =============================================================================

// StepStatus is the recorded outcome of a single pipeline step.
type StepStatus string

const (
	StepSuccess   StepStatus = "success"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepSoftFail  StepStatus = "soft_failed"
	StepNotRun    StepStatus = "not_run"
	StepCancelled StepStatus = "cancelled"
)

// StepRecord captures one step of a pipeline run. Every planned step gets a
// record regardless of whether it ran.
type StepRecord struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	DurationMs int64      `json:"duration_ms"`
	Message    string     `json:"message,omitempty"`
	Error      *Error     `json:"error,omitempty"`
}

// PipelineExecution is the observability record of one pipeline run. It is
// persisted alongside the result so a failed submission can always explain
// itself.
type PipelineExecution struct {
	TotalSteps     int          `json:"total_steps_planned"`
	StepsCompleted int          `json:"steps_completed"`
	Status         string       `json:"status"` // success, failed, cancelled
	FailedAtStep   string       `json:"failed_at_step,omitempty"`
	DurationMs     int64        `json:"duration_ms"`
	Steps          []StepRecord `json:"steps"`
}

// SubmissionResult is the persisted grading outcome of one submission.
type SubmissionResult struct {
	SubmissionID string             `json:"submission_id"`
	ResultTree   *ResultTree        `json:"result_tree,omitempty"`
	Focus        *Focus             `json:"focus,omitempty"`
	Feedback     string             `json:"feedback,omitempty"`
	Execution    *PipelineExecution `json:"pipeline_execution"`
	FinalScore   float64            `json:"final_score"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// =============================================================================
// TEST PARAMETERS
// =============================================================================

// Param is an ordered (name, value) test parameter. Value is any
// JSON-representable scalar, sequence, or mapping.
type Param struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// String coerces the parameter value to a string.
func (p Param) String() (string, error) {
	s, ok := p.Value.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q: expected string, got %T", p.Name, p.Value)
	}
	return s, nil
}

// Int coerces the parameter value to an int. JSON numbers decode as float64.
func (p Param) Int() (int, error) {
	switch v := p.Value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %q: expected number, got %T", p.Name, p.Value)
	}
}

// Float coerces the parameter value to a float64.
func (p Param) Float() (float64, error) {
	switch v := p.Value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("parameter %q: expected number, got %T", p.Name, p.Value)
	}
}

// Strings coerces the parameter value to a string slice. A bare string is
// treated as a one-element slice, matching how rubric authors write single
// inputs.
func (p Param) Strings() ([]string, error) {
	switch v := p.Value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				out[i] = fmt.Sprintf("%v", e)
				continue
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %q: expected string list, got %T", p.Name, p.Value)
	}
}

// CommandForLanguage resolves a program_command value, which is either a plain
// string (single-language assignment) or a language -> command mapping.
func (p Param) CommandForLanguage(lang string) (string, error) {
	switch v := p.Value.(type) {
	case string:
		return v, nil
	case map[string]any:
		raw, ok := v[lang]
		if !ok {
			return "", fmt.Errorf("parameter %q: no command for language %q", p.Name, lang)
		}
		s, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("parameter %q: command for language %q is %T, want string", p.Name, lang, raw)
		}
		return s, nil
	case map[string]string:
		s, ok := v[lang]
		if !ok {
			return "", fmt.Errorf("parameter %q: no command for language %q", p.Name, lang)
		}
		return s, nil
	default:
		return "", fmt.Errorf("parameter %q: expected string or language map, got %T", p.Name, p.Value)
	}
}

// FindParam returns the named parameter from an ordered parameter list.
func FindParam(params []Param, name string) (Param, bool) {
	for _, p := range params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}
