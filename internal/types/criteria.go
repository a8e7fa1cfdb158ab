package types

// CriteriaConfig is the declarative rubric document. It is stored verbatim in
// the grading_configs table and must round-trip through JSON without losing
// sibling order or weights.
type CriteriaConfig struct {
	TestLibrary string          `json:"test_library,omitempty"`
	Base        *CategoryConfig `json:"base,omitempty"`
	Bonus       *CategoryConfig `json:"bonus,omitempty"`
	Penalty     *CategoryConfig `json:"penalty,omitempty"`
}

// CategoryConfig is one of the base/bonus/penalty roots. Weight is the
// absolute point cap for bonus and penalty categories. A category carries
// either subjects or tests, never both.
type CategoryConfig struct {
	Weight   float64         `json:"weight"`
	Subjects []SubjectConfig `json:"subjects,omitempty"`
	Tests    []TestConfig    `json:"tests,omitempty"`
}

// SubjectConfig is a named, weighted rubric node. It carries either nested
// subjects or tests, never both; the builder enforces this.
type SubjectConfig struct {
	Name     string          `json:"subject_name"`
	Weight   float64         `json:"weight"`
	Subjects []SubjectConfig `json:"subjects,omitempty"`
	Tests    []TestConfig    `json:"tests,omitempty"`
}

// TestConfig is one declared test: a function name resolved against the
// template registry, an optional target file, and ordered parameters passed
// verbatim to the test function at grading time.
type TestConfig struct {
	Name       string  `json:"name"`
	File       string  `json:"file,omitempty"`
	Parameters []Param `json:"parameters,omitempty"`
}

// Categories returns the present categories in canonical order with their
// names.
func (c *CriteriaConfig) Categories() []NamedCategory {
	var out []NamedCategory
	if c.Base != nil {
		out = append(out, NamedCategory{Name: "base", Category: c.Base})
	}
	if c.Bonus != nil {
		out = append(out, NamedCategory{Name: "bonus", Category: c.Bonus})
	}
	if c.Penalty != nil {
		out = append(out, NamedCategory{Name: "penalty", Category: c.Penalty})
	}
	return out
}

// NamedCategory pairs a category config with its root name.
type NamedCategory struct {
	Name     string
	Category *CategoryConfig
}
