package template

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webtech-network/autograder-sub001/internal/types"
)

type stubScorer struct {
	score  float64
	report string
	err    error

	lastReq ScoreRequest
}

func (s *stubScorer) Score(ctx context.Context, req ScoreRequest) (float64, string, error) {
	s.lastReq = req
	return s.score, s.report, s.err
}

func essayCall(scorer Scorer, params []types.Param, file string, files map[string][]byte) types.TestResult {
	tpl := newEssayTemplate(scorer)
	fn, _ := tpl.Resolve("grade_answer")
	return fn(context.Background(), &Call{
		Test:       "grade_answer",
		File:       file,
		Parameters: params,
		Files:      files,
	})
}

func TestGradeAnswerDelegatesToScorer(t *testing.T) {
	scorer := &stubScorer{score: 85, report: "solid reasoning, weak conclusion"}
	res := essayCall(scorer,
		[]types.Param{
			{Name: "question", Value: "Explain TCP slow start."},
			{Name: "criteria", Value: "accuracy, depth"},
		},
		"answer.md",
		map[string][]byte{"answer.md": []byte("Slow start doubles cwnd each RTT...")})

	assert.Equal(t, types.TestPartial, res.Status)
	assert.Equal(t, 85.0, res.Score)
	assert.Equal(t, "Explain TCP slow start.", scorer.lastReq.Question)
	assert.Equal(t, "accuracy, depth", scorer.lastReq.Rubric)
	assert.Contains(t, scorer.lastReq.Answer, "Slow start")
}

func TestGradeAnswerScoreBounds(t *testing.T) {
	files := map[string][]byte{"a.md": []byte("text")}
	q := []types.Param{{Name: "question", Value: "Q"}}

	res := essayCall(&stubScorer{score: 100, report: "perfect"}, q, "a.md", files)
	assert.Equal(t, types.TestPass, res.Status)

	res = essayCall(&stubScorer{score: 0, report: "off topic"}, q, "a.md", files)
	assert.Equal(t, types.TestFail, res.Status)

	res = essayCall(&stubScorer{score: 140, report: "overflow"}, q, "a.md", files)
	assert.Equal(t, 100.0, res.Score)
}

func TestGradeAnswerEmptySubmissionFails(t *testing.T) {
	res := essayCall(&stubScorer{score: 100}, []types.Param{{Name: "question", Value: "Q"}},
		"a.md", map[string][]byte{"a.md": []byte("   ")})
	assert.Equal(t, types.TestFail, res.Status)
}

func TestGradeAnswerScorerFailureIsError(t *testing.T) {
	res := essayCall(&stubScorer{err: errors.New("model unavailable")},
		[]types.Param{{Name: "question", Value: "Q"}},
		"a.md", map[string][]byte{"a.md": []byte("text")})
	assert.Equal(t, types.TestError, res.Status)
}

func TestGradeAnswerWithoutScorerIsError(t *testing.T) {
	res := essayCall(nil, []types.Param{{Name: "question", Value: "Q"}},
		"a.md", map[string][]byte{"a.md": []byte("text")})
	assert.Equal(t, types.TestError, res.Status)
}

func TestRegistryLookup(t *testing.T) {
	r := Builtin(Options{})

	for _, name := range []string{"webdev", "input_output", "api", "essay"} {
		tpl, err := r.Lookup(name)
		assert.NoError(t, err)
		assert.Equal(t, name, tpl.Name())
	}

	_, err := r.Lookup("robotics")
	assert.Equal(t, types.KindTemplateUnknown, types.KindOf(err))

	io, _ := r.Lookup("input_output")
	assert.True(t, io.NeedsSandbox())
	web, _ := r.Lookup("webdev")
	assert.False(t, web.NeedsSandbox())
}
