// Package criteria turns the declarative rubric document into a typed,
// immutable tree with test functions bound. The tree preserves declaration
// order and verbatim weights so it can serialize back to an equivalent config.
package criteria

import (
	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/template"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// Tree is the bound rubric. Immutable after Build; safe to share across
// concurrent gradings of different submissions in the same language.
type Tree struct {
	TestLibrary string
	Language    string
	Template    *template.Template

	Base    *Category
	Bonus   *Category
	Penalty *Category
}

// Category is one of the base/bonus/penalty roots. Weight is the absolute
// point cap for bonus and penalty. Exactly one of Subjects or Tests is
// populated (both may be empty for a declared-but-empty category).
type Category struct {
	Name     string
	Weight   float64
	Subjects []*Subject
	Tests    []*Leaf
}

// Subject is a weighted internal node carrying either nested subjects or
// tests, never both.
type Subject struct {
	Name     string
	Weight   float64
	Subjects []*Subject
	Tests    []*Leaf
}

// Leaf is one bound test. Parameters are kept verbatim from the config; the
// function resolves language-dependent values at invocation time.
type Leaf struct {
	Name       string
	File       string
	Parameters []types.Param
	Fn         template.TestFunc
}

// Categories returns the present categories in canonical order.
func (t *Tree) Categories() []*Category {
	var out []*Category
	for _, c := range []*Category{t.Base, t.Bonus, t.Penalty} {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// BUILDER
// =============================================================================

// Build validates the rubric and binds every test name to its implementation
// in the template. The language tag is needed to prove that every
// language-mapped program_command can resolve; the tree itself stays
// language-specific from that point on.
func Build(cfg *types.CriteriaConfig, tpl *template.Template, language string) (*Tree, error) {
	if cfg == nil {
		return nil, types.E(types.KindTreeMalformed, "criteria config is empty")
	}

	tree := &Tree{TestLibrary: cfg.TestLibrary, Language: language, Template: tpl}
	total := 0
	for _, nc := range cfg.Categories() {
		cat, n, err := buildCategory(nc.Name, nc.Category, tpl, language)
		if err != nil {
			return nil, err
		}
		total += n
		switch nc.Name {
		case "base":
			tree.Base = cat
		case "bonus":
			tree.Bonus = cat
		case "penalty":
			tree.Penalty = cat
		}
	}
	if tree.Base == nil && tree.Bonus == nil && tree.Penalty == nil {
		return nil, types.E(types.KindTreeMalformed, "criteria config declares no categories")
	}

	logging.Template("built criteria tree: template=%s, language=%s, tests=%d", tpl.Name(), language, total)
	return tree, nil
}

func buildCategory(name string, cfg *types.CategoryConfig, tpl *template.Template, language string) (*Category, int, error) {
	if len(cfg.Subjects) > 0 && len(cfg.Tests) > 0 {
		return nil, 0, types.E(types.KindTreeMalformed, "category %q declares both subjects and tests", name)
	}
	if cfg.Weight < 0 {
		return nil, 0, types.E(types.KindTreeMalformed, "category %q has negative weight %v", name, cfg.Weight)
	}

	cat := &Category{Name: name, Weight: cfg.Weight}
	n := 0
	for i := range cfg.Subjects {
		child, cn, err := buildSubject(&cfg.Subjects[i], tpl, language, name)
		if err != nil {
			return nil, 0, err
		}
		cat.Subjects = append(cat.Subjects, child)
		n += cn
	}
	for i := range cfg.Tests {
		leaf, err := buildLeaf(&cfg.Tests[i], tpl, language)
		if err != nil {
			return nil, 0, err
		}
		cat.Tests = append(cat.Tests, leaf)
		n++
	}
	return cat, n, nil
}

func buildSubject(cfg *types.SubjectConfig, tpl *template.Template, language, path string) (*Subject, int, error) {
	path = path + "/" + cfg.Name
	if len(cfg.Subjects) > 0 && len(cfg.Tests) > 0 {
		return nil, 0, types.E(types.KindTreeMalformed, "subject %q declares both subjects and tests", path)
	}
	if cfg.Weight <= 0 {
		return nil, 0, types.E(types.KindTreeMalformed, "subject %q has non-positive weight %v", path, cfg.Weight)
	}

	s := &Subject{Name: cfg.Name, Weight: cfg.Weight}
	n := 0
	for i := range cfg.Subjects {
		child, cn, err := buildSubject(&cfg.Subjects[i], tpl, language, path)
		if err != nil {
			return nil, 0, err
		}
		s.Subjects = append(s.Subjects, child)
		n += cn
	}
	for i := range cfg.Tests {
		leaf, err := buildLeaf(&cfg.Tests[i], tpl, language)
		if err != nil {
			return nil, 0, err
		}
		s.Tests = append(s.Tests, leaf)
		n++
	}
	return s, n, nil
}

func buildLeaf(cfg *types.TestConfig, tpl *template.Template, language string) (*Leaf, error) {
	fn, ok := tpl.Resolve(cfg.Name)
	if !ok {
		return nil, types.E(types.KindTreeMalformed,
			"test %q is not defined by template %q", cfg.Name, tpl.Name())
	}
	if err := tpl.ValidateParams(cfg.Name, cfg.Parameters); err != nil {
		return nil, types.E(types.KindTreeMalformed, "test %q: %v", cfg.Name, err)
	}

	// Language-mapped commands must be resolvable now so a bad rubric or a
	// wrong language tag fails the build, not a test mid-grade.
	if p, ok := types.FindParam(cfg.Parameters, "program_command"); ok {
		if _, isMap := p.Value.(map[string]any); isMap {
			if _, err := p.CommandForLanguage(language); err != nil {
				return nil, types.E(types.KindTreeMalformed,
					"test %q: no program_command for language %q", cfg.Name, language)
			}
		}
	}

	return &Leaf{
		Name:       cfg.Name,
		File:       cfg.File,
		Parameters: cfg.Parameters,
		Fn:         fn,
	}, nil
}

// =============================================================================
// SERIALIZATION BACK TO CONFIG
// =============================================================================

// Config reconstructs the declarative rubric. Sibling order and weights are
// verbatim, so Build followed by Config round-trips.
func (t *Tree) Config() *types.CriteriaConfig {
	cfg := &types.CriteriaConfig{TestLibrary: t.TestLibrary}
	if t.Base != nil {
		cfg.Base = t.Base.config()
	}
	if t.Bonus != nil {
		cfg.Bonus = t.Bonus.config()
	}
	if t.Penalty != nil {
		cfg.Penalty = t.Penalty.config()
	}
	return cfg
}

func (c *Category) config() *types.CategoryConfig {
	out := &types.CategoryConfig{Weight: c.Weight}
	for _, s := range c.Subjects {
		out.Subjects = append(out.Subjects, s.config())
	}
	for _, l := range c.Tests {
		out.Tests = append(out.Tests, l.config())
	}
	return out
}

func (s *Subject) config() types.SubjectConfig {
	out := types.SubjectConfig{Name: s.Name, Weight: s.Weight}
	for _, child := range s.Subjects {
		out.Subjects = append(out.Subjects, child.config())
	}
	for _, l := range s.Tests {
		out.Tests = append(out.Tests, l.config())
	}
	return out
}

func (l *Leaf) config() types.TestConfig {
	return types.TestConfig{Name: l.Name, File: l.File, Parameters: l.Parameters}
}
