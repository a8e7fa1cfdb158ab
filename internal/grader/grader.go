// Package grader traverses a bound criteria tree, executes its tests against
// one submission, and produces the scored result tree.
package grader

import (
	"context"
	"time"

	"github.com/webtech-network/autograder-sub001/internal/criteria"
	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/sandbox"
	"github.com/webtech-network/autograder-sub001/internal/template"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// Options carries the execution context tests may need. Runner and Box stay
// nil for templates that never run submission code.
type Options struct {
	Runner      sandbox.Runner
	Box         *sandbox.Box
	Session     *template.Session
	TestTimeout time.Duration
}

// GradeTree grades a submission against a pre-built tree. The tree is not
// mutated; it can serve concurrent submissions.
func GradeTree(ctx context.Context, tree *criteria.Tree, sub *types.Submission, opts Options) (*types.ResultTree, error) {
	timer := logging.StartTimer(logging.CategoryGrader, "grade "+sub.ID)
	defer timer.Stop()

	g := &run{sub: sub, opts: opts}
	result := &types.ResultTree{}

	var base, bonus, penalty float64
	if tree.Base != nil {
		node, scored, err := g.gradeCategory(ctx, tree.Base)
		if err != nil {
			return nil, err
		}
		if scored {
			result.Base = node
			base = node.Score
		}
	}
	if tree.Bonus != nil {
		node, scored, err := g.gradeCategory(ctx, tree.Bonus)
		if err != nil {
			return nil, err
		}
		if scored {
			result.Bonus = node
			bonus = node.Score
		}
	}
	if tree.Penalty != nil {
		node, scored, err := g.gradeCategory(ctx, tree.Penalty)
		if err != nil {
			return nil, err
		}
		if scored {
			result.Penalty = node
			penalty = node.Score
		}
	}

	result.FinalScore = FinalScore(base, bonus, categoryWeight(result.Bonus), penalty, categoryWeight(result.Penalty))
	logging.Grader("graded %s: base=%.2f bonus=%.2f penalty=%.2f final=%.2f",
		sub.ID, base, bonus, penalty, result.FinalScore)
	return result, nil
}

// GradeConfig grades a single submission straight from the declarative
// rubric. It builds the tree inline and defers to GradeTree, which makes the
// two invocation modes identical by construction.
func GradeConfig(ctx context.Context, cfg *types.CriteriaConfig, tpl *template.Template, sub *types.Submission, opts Options) (*types.ResultTree, error) {
	tree, err := criteria.Build(cfg, tpl, sub.Language)
	if err != nil {
		return nil, err
	}
	return GradeTree(ctx, tree, sub, opts)
}

// FinalScore applies the scoring formula: bonus lifts a sub-100 base up to its
// point cap, the sum is capped at 100, then penalty subtracts its share, and
// the result clamps to [0, 100].
func FinalScore(base, bonusScore, bonusWeight, penaltyScore, penaltyWeight float64) float64 {
	final := base
	if final < 100 {
		final += bonusScore / 100 * bonusWeight
	}
	if final > 100 {
		final = 100
	}
	final -= penaltyScore / 100 * penaltyWeight
	if final < 0 {
		return 0
	}
	if final > 100 {
		return 100
	}
	return final
}

func categoryWeight(node *types.ResultNode) float64 {
	if node == nil {
		return 0
	}
	return node.Weight
}

// run is the per-submission grading state.
type run struct {
	sub  *types.Submission
	opts Options
}

// gradeCategory scores one category root. The second return is false when the
// category holds no runnable tests; such a category is treated as absent.
func (g *run) gradeCategory(ctx context.Context, cat *criteria.Category) (*types.ResultNode, bool, error) {
	node := &types.ResultNode{Name: cat.Name, Weight: cat.Weight}

	if len(cat.Tests) > 0 {
		tests, score, err := g.gradeTests(ctx, cat.Tests)
		if err != nil {
			return nil, false, err
		}
		node.Tests = tests
		node.Score = score
		return node, true, nil
	}

	children, score, scored, err := g.gradeSubjects(ctx, cat.Subjects)
	if err != nil {
		return nil, false, err
	}
	node.Children = children
	node.Score = score
	return node, scored, nil
}

// gradeSubject scores one subject. weight on the returned node is effective
// (post-normalization) and is filled in by the caller, which knows the
// sibling set.
func (g *run) gradeSubject(ctx context.Context, s *criteria.Subject) (*types.ResultNode, bool, error) {
	node := &types.ResultNode{Name: s.Name}

	if len(s.Tests) > 0 {
		tests, score, err := g.gradeTests(ctx, s.Tests)
		if err != nil {
			return nil, false, err
		}
		node.Tests = tests
		node.Score = score
		return node, true, nil
	}
	if len(s.Subjects) == 0 {
		// Empty subject: present in the tree, excluded from the mean.
		return node, false, nil
	}

	children, score, scored, err := g.gradeSubjects(ctx, s.Subjects)
	if err != nil {
		return nil, false, err
	}
	node.Children = children
	node.Score = score
	return node, scored, nil
}

// gradeSubjects scores an ordered sibling set and aggregates the weighted
// mean. Sibling weights are normalized to sum to 100 over the runnable
// subjects only; subjects with no runnable tests keep weight 0 and do not
// count as zero scores.
func (g *run) gradeSubjects(ctx context.Context, subjects []*criteria.Subject) ([]*types.ResultNode, float64, bool, error) {
	nodes := make([]*types.ResultNode, len(subjects))
	runnable := make([]bool, len(subjects))

	weightSum := 0.0
	for i, s := range subjects {
		node, scored, err := g.gradeSubject(ctx, s)
		if err != nil {
			return nil, 0, false, err
		}
		nodes[i] = node
		runnable[i] = scored
		if scored {
			weightSum += s.Weight
		}
	}
	if weightSum == 0 {
		return nodes, 0, false, nil
	}

	score := 0.0
	for i, s := range subjects {
		if !runnable[i] {
			continue
		}
		normalized := s.Weight / weightSum * 100
		nodes[i].Weight = normalized
		score += nodes[i].Score * normalized / 100
	}
	return nodes, score, true, nil
}

// gradeTests executes a leaf set in declaration order and returns the
// arithmetic mean of the scores.
func (g *run) gradeTests(ctx context.Context, leaves []*criteria.Leaf) ([]types.TestResult, float64, error) {
	results := make([]types.TestResult, 0, len(leaves))
	sum := 0.0
	for _, leaf := range leaves {
		if err := ctx.Err(); err != nil {
			return nil, 0, types.E(types.KindCancelled, "grading cancelled before test %q", leaf.Name)
		}

		res := leaf.Fn(ctx, &template.Call{
			Test:        leaf.Name,
			File:        leaf.File,
			Parameters:  leaf.Parameters,
			Files:       g.sub.FileMap(),
			Language:    g.sub.Language,
			Runner:      g.opts.Runner,
			Box:         g.opts.Box,
			Session:     g.opts.Session,
			TestTimeout: g.opts.TestTimeout,
		})
		res.Name = leaf.Name
		res.File = leaf.File
		res.Parameters = leaf.Parameters

		logging.GraderDebug("test %s: status=%s score=%.2f", leaf.Name, res.Status, res.Score)
		results = append(results, res)
		sum += res.Score
	}
	return results, sum / float64(len(leaves)), nil
}
