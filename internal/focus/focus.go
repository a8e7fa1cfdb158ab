// Package focus ranks tests by how much of the score gap each one explains,
// so feedback can lead with the fixes worth the most points.
package focus

import (
	"sort"

	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// Compute derives the per-category ranking from a completed result tree. For
// each test, diff_score is the submission-wide point deficit attributable to
// it: the lost fraction times the test's share of its subject times the
// product of every ancestor's normalized weight.
func Compute(tree *types.ResultTree) *types.Focus {
	if tree == nil {
		return nil
	}
	f := &types.Focus{
		Base:    rankCategory(tree.Base),
		Bonus:   rankCategory(tree.Bonus),
		Penalty: rankCategory(tree.Penalty),
	}
	logging.Focus("focus computed: base=%d bonus=%d penalty=%d entries",
		len(f.Base), len(f.Bonus), len(f.Penalty))
	return f
}

func rankCategory(root *types.ResultNode) []types.FocusEntry {
	if root == nil {
		return nil
	}
	var entries []types.FocusEntry
	collect(root, 1.0, &entries)

	// Stable keeps declaration order for ties.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].DiffScore > entries[j].DiffScore
	})
	return entries
}

// collect walks the tree accumulating the ancestor multiplier. The category
// root contributes nothing; its children contribute normalized_weight / 100
// each.
func collect(node *types.ResultNode, multiplier float64, out *[]types.FocusEntry) {
	if len(node.Tests) > 0 {
		testWeight := 100.0 / float64(len(node.Tests))
		for _, test := range node.Tests {
			*out = append(*out, types.FocusEntry{
				Test:      test,
				DiffScore: (100 - test.Score) * (testWeight / 100) * multiplier,
			})
		}
		return
	}
	for _, child := range node.Children {
		collect(child, multiplier*child.Weight/100, out)
	}
}
