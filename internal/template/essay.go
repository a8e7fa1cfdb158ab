package template

import (
	"context"
	"fmt"
	"strings"

	"github.com/webtech-network/autograder-sub001/internal/types"
)

// =============================================================================
// ESSAY TEMPLATE
// =============================================================================
// AI-graded tests. Each test is rendered as a grading prompt over the
// submission text and delegated to a Scorer. No sandbox.

// ScoreRequest is one essay grading task.
type ScoreRequest struct {
	Question string
	Rubric   string
	Answer   string
}

// Scorer grades a free-text answer on a 0-100 scale and explains the grade.
// The feedback package provides the production implementation.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (float64, string, error)
}

func newEssayTemplate(scorer Scorer) *Template {
	t := &Template{name: "essay", needsSandbox: false, entries: make(map[string]entry)}
	t.register("grade_answer", essayGradeAnswer(scorer), requireParams("question"))
	return t
}

func essayGradeAnswer(scorer Scorer) TestFunc {
	return func(ctx context.Context, call *Call) types.TestResult {
		if scorer == nil {
			return errResult("essay grading is not configured on this instance")
		}
		question, err := stringParam(call.Parameters, "question")
		if err != nil {
			return errResult("%v", err)
		}
		rubric := ""
		if p, ok := call.Param("criteria"); ok {
			if s, err := p.String(); err == nil {
				rubric = s
			}
		}

		answer := essayAnswer(call)
		if strings.TrimSpace(answer) == "" {
			return fail("the submission contains no answer text")
		}

		score, report, err := scorer.Score(ctx, ScoreRequest{
			Question: question,
			Rubric:   rubric,
			Answer:   answer,
		})
		if err != nil {
			return errResult("essay grading failed: %v", err)
		}

		score = clampScore(score)
		switch {
		case score >= 100:
			return pass("%s", report)
		case score <= 0:
			return fail("%s", report)
		default:
			return partial(score, "%s", report)
		}
	}
}

// essayAnswer extracts the answer text: the declared target file when set,
// otherwise every submitted file concatenated.
func essayAnswer(call *Call) string {
	if call.File != "" {
		if content, ok := call.Files[call.File]; ok {
			return string(content)
		}
		return ""
	}
	var b strings.Builder
	for name, content := range call.Files {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", name, content)
	}
	return b.String()
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
