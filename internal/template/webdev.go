package template

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/webtech-network/autograder-sub001/internal/types"
)

// =============================================================================
// WEBDEV TEMPLATE
// =============================================================================
// Static analysis of submitted HTML/CSS files. No sandbox: the submission is
// never executed, only parsed.

func newWebdevTemplate() *Template {
	t := &Template{name: "webdev", needsSandbox: false, entries: make(map[string]entry)}
	t.register("has_tag", webdevHasTag, requireParams("tag"))
	t.register("has_attribute", webdevHasAttribute, requireParams("attribute"))
	t.register("has_style", webdevHasStyle, requireParams("property"))
	t.register("has_forbidden_tag", webdevHasForbiddenTag, requireParams("tag"))
	t.register("check_bootstrap_usage", webdevCheckBootstrap, nil)
	t.register("contains_text", webdevContainsText, requireParams("text"))
	return t
}

// htmlDocs parses every submitted file, preferring the test's target file when
// one is declared. Parse errors are ignored per html.Parse semantics; the
// parser always produces a tree.
func htmlDocs(call *Call) []*html.Node {
	var docs []*html.Node
	for name, content := range call.Files {
		if call.File != "" && name != call.File {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(name), ".html") && !strings.HasSuffix(strings.ToLower(name), ".htm") {
			continue
		}
		doc, err := html.Parse(bytes.NewReader(content))
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

// walk visits every element node in the document.
func walk(doc *html.Node, visit func(n *html.Node)) {
	var rec func(n *html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.ElementNode {
			visit(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(doc)
}

func webdevHasTag(ctx context.Context, call *Call) types.TestResult {
	tag, err := stringParam(call.Parameters, "tag")
	if err != nil {
		return errResult("%v", err)
	}
	required, err := intParamOr(call.Parameters, "required_count", 1)
	if err != nil {
		return errResult("%v", err)
	}

	docs := htmlDocs(call)
	if len(docs) == 0 {
		return fail("no HTML files found in the submission")
	}

	found := 0
	for _, doc := range docs {
		walk(doc, func(n *html.Node) {
			if strings.EqualFold(n.Data, tag) {
				found++
			}
		})
	}
	return ratio(found, required, "<"+tag+"> elements")
}

func webdevHasAttribute(ctx context.Context, call *Call) types.TestResult {
	attribute, err := stringParam(call.Parameters, "attribute")
	if err != nil {
		return errResult("%v", err)
	}
	required, err := intParamOr(call.Parameters, "count", 1)
	if err != nil {
		return errResult("%v", err)
	}

	docs := htmlDocs(call)
	if len(docs) == 0 {
		return fail("no HTML files found in the submission")
	}

	found := 0
	for _, doc := range docs {
		walk(doc, func(n *html.Node) {
			for _, a := range n.Attr {
				if strings.EqualFold(a.Key, attribute) {
					found++
				}
			}
		})
	}
	return ratio(found, required, attribute+" attributes")
}

// cssPropertyPattern matches a declared property followed by a colon, e.g.
// "display :" or "display:".
func cssPropertyPattern(property string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[\s;{])` + regexp.QuoteMeta(property) + `\s*:`)
}

func webdevHasStyle(ctx context.Context, call *Call) types.TestResult {
	property, err := stringParam(call.Parameters, "property")
	if err != nil {
		return errResult("%v", err)
	}
	required, err := intParamOr(call.Parameters, "count", 1)
	if err != nil {
		return errResult("%v", err)
	}

	pattern := cssPropertyPattern(property)
	found := 0

	// Stylesheets.
	for name, content := range call.Files {
		if call.File != "" && name != call.File {
			continue
		}
		if strings.HasSuffix(strings.ToLower(name), ".css") {
			found += len(pattern.FindAll(content, -1))
		}
	}

	// Inline style attributes and <style> blocks.
	for _, doc := range htmlDocs(call) {
		walk(doc, func(n *html.Node) {
			if n.Data == "style" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				found += len(pattern.FindAllString(n.FirstChild.Data, -1))
			}
			for _, a := range n.Attr {
				if strings.EqualFold(a.Key, "style") {
					found += len(pattern.FindAllString(a.Val, -1))
				}
			}
		})
	}

	return ratio(found, required, "declarations of CSS property "+property)
}

func webdevHasForbiddenTag(ctx context.Context, call *Call) types.TestResult {
	tag, err := stringParam(call.Parameters, "tag")
	if err != nil {
		return errResult("%v", err)
	}

	found := 0
	for _, doc := range htmlDocs(call) {
		walk(doc, func(n *html.Node) {
			if strings.EqualFold(n.Data, tag) {
				found++
			}
		})
	}
	if found > 0 {
		return fail("forbidden tag <%s> appears %d time(s)", tag, found)
	}
	return pass("forbidden tag <%s> is absent", tag)
}

// webdevCheckBootstrap passes when the submission links a Bootstrap stylesheet
// or script, or uses its grid classes.
func webdevCheckBootstrap(ctx context.Context, call *Call) types.TestResult {
	gridClass := regexp.MustCompile(`(?i)(^|\s)(container|row|col(-[a-z0-9]+)*)($|\s)`)
	for _, doc := range htmlDocs(call) {
		linked := false
		classes := 0
		walk(doc, func(n *html.Node) {
			for _, a := range n.Attr {
				switch {
				case (a.Key == "href" || a.Key == "src") && strings.Contains(strings.ToLower(a.Val), "bootstrap"):
					linked = true
				case a.Key == "class" && gridClass.MatchString(a.Val):
					classes++
				}
			}
		})
		if linked && classes > 0 {
			return pass("bootstrap is linked and %d grid class usages found", classes)
		}
		if linked {
			return partial(50, "bootstrap is linked but no grid classes are used")
		}
	}
	return fail("no bootstrap stylesheet or script reference found")
}

func webdevContainsText(ctx context.Context, call *Call) types.TestResult {
	text, err := stringParam(call.Parameters, "text")
	if err != nil {
		return errResult("%v", err)
	}
	required, err := intParamOr(call.Parameters, "required_count", 1)
	if err != nil {
		return errResult("%v", err)
	}

	docs := htmlDocs(call)
	if len(docs) == 0 {
		return fail("no HTML files found in the submission")
	}

	found := 0
	needle := strings.ToLower(text)
	for _, doc := range docs {
		var rec func(n *html.Node)
		rec = func(n *html.Node) {
			if n.Type == html.TextNode {
				found += strings.Count(strings.ToLower(n.Data), needle)
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				rec(c)
			}
		}
		rec(doc)
	}
	return ratio(found, required, fmt.Sprintf("occurrences of %q", text))
}
