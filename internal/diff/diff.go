// Package diff computes line-level change counts for tool receipts and
// session change summaries.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Stats reports how many lines after adds and removes relative to before.
// A rewritten line counts once on each side.
func Stats(before, after string) (added, removed int) {
	if before == after {
		return 0, 0
	}
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += countLines(d.Text)
		}
	}
	return added, removed
}

// countLines counts newline-terminated segments; a final segment without a
// newline still counts.
func countLines(chunk string) int {
	if chunk == "" {
		return 0
	}
	n := strings.Count(chunk, "\n")
	if !strings.HasSuffix(chunk, "\n") {
		n++
	}
	return n
}
