package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtech-network/autograder-sub001/internal/types"
)

func webdevCall(t *testing.T, test string, params []types.Param, files map[string][]byte) types.TestResult {
	t.Helper()
	tpl := newWebdevTemplate()
	fn, ok := tpl.Resolve(test)
	require.True(t, ok, "test %q not registered", test)
	return fn(context.Background(), &Call{Test: test, Parameters: params, Files: files})
}

const articlePage = `<!DOCTYPE html>
<html><body>
<article><h1>One</h1></article>
<article><h1>Two</h1></article>
<p style="display: flex">hello world</p>
</body></html>`

func TestHasTagPartial(t *testing.T) {
	res := webdevCall(t, "has_tag",
		[]types.Param{{Name: "tag", Value: "article"}, {Name: "required_count", Value: float64(4)}},
		map[string][]byte{"index.html": []byte(articlePage)})

	assert.Equal(t, types.TestPartial, res.Status)
	assert.InDelta(t, 50.0, res.Score, 0.001)
}

func TestHasTagPassAndFail(t *testing.T) {
	files := map[string][]byte{"index.html": []byte(articlePage)}

	res := webdevCall(t, "has_tag",
		[]types.Param{{Name: "tag", Value: "article"}, {Name: "required_count", Value: float64(2)}}, files)
	assert.Equal(t, types.TestPass, res.Status)
	assert.Equal(t, 100.0, res.Score)

	res = webdevCall(t, "has_tag",
		[]types.Param{{Name: "tag", Value: "table"}}, files)
	assert.Equal(t, types.TestFail, res.Status)
	assert.Equal(t, 0.0, res.Score)
}

func TestHasTagNoHTMLFiles(t *testing.T) {
	res := webdevCall(t, "has_tag",
		[]types.Param{{Name: "tag", Value: "article"}},
		map[string][]byte{"main.py": []byte("print(1)")})
	assert.Equal(t, types.TestFail, res.Status)
}

func TestHasAttribute(t *testing.T) {
	page := `<html><body><img src="a.png" alt="a"><img src="b.png"></body></html>`
	res := webdevCall(t, "has_attribute",
		[]types.Param{{Name: "attribute", Value: "alt"}, {Name: "count", Value: float64(2)}},
		map[string][]byte{"index.html": []byte(page)})
	assert.Equal(t, types.TestPartial, res.Status)
	assert.InDelta(t, 50.0, res.Score, 0.001)
}

func TestHasStyleCountsSheetsAndInline(t *testing.T) {
	files := map[string][]byte{
		"index.html": []byte(articlePage),
		"main.css":   []byte("body { display: grid; }\n.x { color: red; display:block }"),
	}
	res := webdevCall(t, "has_style",
		[]types.Param{{Name: "property", Value: "display"}, {Name: "count", Value: float64(3)}}, files)
	assert.Equal(t, types.TestPass, res.Status, res.Report)
}

func TestHasForbiddenTag(t *testing.T) {
	files := map[string][]byte{"index.html": []byte(articlePage)}

	res := webdevCall(t, "has_forbidden_tag", []types.Param{{Name: "tag", Value: "article"}}, files)
	assert.Equal(t, types.TestFail, res.Status)

	res = webdevCall(t, "has_forbidden_tag", []types.Param{{Name: "tag", Value: "marquee"}}, files)
	assert.Equal(t, types.TestPass, res.Status)
}

func TestCheckBootstrapUsage(t *testing.T) {
	linked := `<html><head>
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/bootstrap@5/dist/css/bootstrap.min.css">
</head><body><div class="container"><div class="row"><div class="col-md-6">x</div></div></div></body></html>`
	res := webdevCall(t, "check_bootstrap_usage", nil, map[string][]byte{"index.html": []byte(linked)})
	assert.Equal(t, types.TestPass, res.Status, res.Report)

	res = webdevCall(t, "check_bootstrap_usage", nil, map[string][]byte{"index.html": []byte(articlePage)})
	assert.Equal(t, types.TestFail, res.Status)
}

func TestContainsText(t *testing.T) {
	res := webdevCall(t, "contains_text",
		[]types.Param{{Name: "text", Value: "hello"}},
		map[string][]byte{"index.html": []byte(articlePage)})
	assert.Equal(t, types.TestPass, res.Status)
}

func TestTargetFileRestrictsAnalysis(t *testing.T) {
	tpl := newWebdevTemplate()
	fn, _ := tpl.Resolve("has_tag")
	res := fn(context.Background(), &Call{
		Test:       "has_tag",
		File:       "about.html",
		Parameters: []types.Param{{Name: "tag", Value: "article"}},
		Files: map[string][]byte{
			"index.html": []byte(articlePage),
			"about.html": []byte("<html><body><p>no articles here</p></body></html>"),
		},
	})
	assert.Equal(t, types.TestFail, res.Status)
}

func TestMissingParamIsError(t *testing.T) {
	res := webdevCall(t, "has_tag", nil, map[string][]byte{"index.html": []byte(articlePage)})
	assert.Equal(t, types.TestError, res.Status)
}

func TestValidateParamsCatchesMissingAtBuildTime(t *testing.T) {
	tpl := newWebdevTemplate()
	err := tpl.ValidateParams("has_tag", nil)
	require.Error(t, err)
	assert.Equal(t, types.KindTreeMalformed, types.KindOf(err))

	err = tpl.ValidateParams("has_tag", []types.Param{{Name: "tag", Value: "div"}})
	assert.NoError(t, err)

	err = tpl.ValidateParams("no_such_test", nil)
	assert.Equal(t, types.KindTreeMalformed, types.KindOf(err))
}
