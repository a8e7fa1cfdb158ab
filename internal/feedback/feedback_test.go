package feedback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtech-network/autograder-sub001/internal/types"
)

func gradedInput() Input {
	return Input{
		Submission: &types.Submission{ID: "sub-1", Username: "ada"},
		Tree: &types.ResultTree{
			FinalScore: 72.5,
			Base: &types.ResultNode{
				Name: "base", Weight: 100, Score: 70,
				Children: []*types.ResultNode{
					{Name: "structure", Weight: 60, Score: 50},
					{Name: "content", Weight: 40, Score: 100},
				},
			},
			Bonus: &types.ResultNode{Name: "bonus", Weight: 40, Score: 25},
		},
		Focus: &types.Focus{
			Base: []types.FocusEntry{
				{Test: types.TestResult{Name: "has_tag", Report: "found 2 of 4 required <article> elements"}, DiffScore: 30},
				{Test: types.TestResult{Name: "has_style", Report: "ok"}, DiffScore: 0},
			},
		},
	}
}

func TestFormatterIncludesScoreAndBreakdown(t *testing.T) {
	out, err := (&Formatter{}).Produce(context.Background(), gradedInput())
	require.NoError(t, err)

	assert.Contains(t, out, "72.5")
	assert.Contains(t, out, "structure")
	assert.Contains(t, out, "Bonus")
	assert.Contains(t, out, "has_tag")
	// Zero-deficit entries are not improvement items.
	assert.NotContains(t, out, "has_style")
}

func TestFormatterCapsFocusItems(t *testing.T) {
	in := gradedInput()
	in.Focus.Base = nil
	for i := 0; i < 10; i++ {
		in.Focus.Base = append(in.Focus.Base, types.FocusEntry{
			Test:      types.TestResult{Name: "t", Report: "r"},
			DiffScore: float64(10 - i),
		})
	}
	out, err := (&Formatter{MaxFocusItems: 3}).Produce(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out, "3. ")
	assert.NotContains(t, out, "4. ")
}

func TestFormatterWithoutTreeFails(t *testing.T) {
	_, err := (&Formatter{}).Produce(context.Background(), Input{Submission: &types.Submission{ID: "s"}})
	assert.Error(t, err)
}

func TestFailureFeedbackNamesTheProblem(t *testing.T) {
	exec := &types.PipelineExecution{
		Status:       "failed",
		FailedAtStep: "PRE_FLIGHT",
		Steps: []types.StepRecord{
			{Name: "LOAD_CONFIG", Status: types.StepSuccess},
			{
				Name:   "PRE_FLIGHT",
				Status: types.StepFailed,
				Error: &types.Error{
					Kind:    types.KindPreflightMissingFile,
					Message: "required file calc.py is missing from the submission",
				},
			},
		},
	}
	out := FailureFeedback(exec)
	assert.Contains(t, out, "calc.py")
	assert.Contains(t, out, "PRE_FLIGHT")
}

func TestFailureFeedbackIncludesStderr(t *testing.T) {
	exec := &types.PipelineExecution{
		FailedAtStep: "PRE_FLIGHT",
		Steps: []types.StepRecord{{
			Name:   "PRE_FLIGHT",
			Status: types.StepFailed,
			Error: (&types.Error{
				Kind:    types.KindPreflightSetupFailed,
				Message: "setup command \"javac Calculator.java\" exited with code 1",
			}).WithDetail("stderr", "Calculator.java:3: error: ';' expected"),
		}},
	}
	out := FailureFeedback(exec)
	assert.Contains(t, out, "javac Calculator.java")
	assert.Contains(t, out, "';' expected")
}

func TestParseEssayVerdict(t *testing.T) {
	score, report, err := parseEssayVerdict(`{"score": 85, "report": "well argued"}`)
	require.NoError(t, err)
	assert.Equal(t, 85.0, score)
	assert.Equal(t, "well argued", report)
}

func TestParseEssayVerdictStripsFences(t *testing.T) {
	score, _, err := parseEssayVerdict("```json\n{\"score\": 40, \"report\": \"thin\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, 40.0, score)
}

func TestParseEssayVerdictClampsAndRejectsGarbage(t *testing.T) {
	score, _, err := parseEssayVerdict(`{"score": 250, "report": "x"}`)
	require.NoError(t, err)
	assert.Equal(t, 100.0, score)

	_, _, err = parseEssayVerdict("I would give this a B+")
	assert.Error(t, err)
}
