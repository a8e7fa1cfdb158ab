// Package feedback turns grading artifacts into the prose a student reads.
// The default producer is a deterministic formatter; an AI producer can be
// configured to rewrite the same material conversationally.
package feedback

import (
	"context"
	"fmt"
	"strings"

	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// Input is everything a producer may draw on.
type Input struct {
	Submission *types.Submission
	Tree       *types.ResultTree
	Focus      *types.Focus
}

// Producer renders feedback for a graded submission.
type Producer interface {
	Produce(ctx context.Context, in Input) (string, error)
}

// =============================================================================
// DEFAULT FORMATTER
// =============================================================================

// Formatter is the deterministic feedback producer. It never fails.
type Formatter struct {
	// MaxFocusItems caps how many improvement items are listed per
	// category. Zero means the default of 5.
	MaxFocusItems int
}

func (f *Formatter) Produce(ctx context.Context, in Input) (string, error) {
	if in.Tree == nil {
		return "", fmt.Errorf("no result tree to format")
	}
	limit := f.MaxFocusItems
	if limit <= 0 {
		limit = 5
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Grade: %.1f / 100\n\n", in.Tree.FinalScore)

	if in.Tree.Base != nil {
		writeCategory(&b, "Core requirements", in.Tree.Base)
	}
	if in.Tree.Bonus != nil {
		fmt.Fprintf(&b, "**Bonus** (up to %.0f extra points): %.1f%%\n\n", in.Tree.Bonus.Weight, in.Tree.Bonus.Score)
	}
	if in.Tree.Penalty != nil && in.Tree.Penalty.Score > 0 {
		fmt.Fprintf(&b, "**Penalties** (up to %.0f points deducted): %.1f%%\n\n", in.Tree.Penalty.Weight, in.Tree.Penalty.Score)
	}

	if in.Focus != nil && len(in.Focus.Base) > 0 {
		b.WriteString("### Where to focus next\n\n")
		n := 0
		for _, entry := range in.Focus.Base {
			if entry.DiffScore <= 0 || n >= limit {
				break
			}
			fmt.Fprintf(&b, "%d. **%s** (worth %.1f more points): %s\n",
				n+1, entry.Test.Name, entry.DiffScore, entry.Test.Report)
			n++
		}
		b.WriteString("\n")
	}

	logging.Feedback("formatted feedback for %s (%d bytes)", in.Submission.ID, b.Len())
	return b.String(), nil
}

func writeCategory(b *strings.Builder, title string, node *types.ResultNode) {
	fmt.Fprintf(b, "### %s: %.1f%%\n\n", title, node.Score)
	for _, child := range node.Children {
		fmt.Fprintf(b, "- %s: %.1f%%\n", child.Name, child.Score)
	}
	for _, test := range node.Tests {
		fmt.Fprintf(b, "- %s [%s]: %s\n", test.Name, test.Status, test.Report)
	}
	b.WriteString("\n")
}

// FailureFeedback renders the prose for a submission whose pipeline failed
// before producing a result. The error message is included verbatim so the
// student sees what was wrong (missing files, compile errors).
func FailureFeedback(exec *types.PipelineExecution) string {
	var b strings.Builder
	b.WriteString("Your submission could not be graded.\n\n")
	if exec != nil && exec.FailedAtStep != "" {
		for _, step := range exec.Steps {
			if step.Name != exec.FailedAtStep || step.Error == nil {
				continue
			}
			fmt.Fprintf(&b, "Failed during %s: %s\n", step.Name, step.Error.Message)
			if out, ok := step.Error.Details["stderr"].(string); ok && out != "" {
				fmt.Fprintf(&b, "\n```\n%s\n```\n", strings.TrimSpace(out))
			}
		}
	}
	b.WriteString("\nFix the issue above and submit again.")
	return b.String()
}
