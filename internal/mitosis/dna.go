package mitosis

import (
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
)

const recentUpdatesHeader = "## Recent Updates"

// safeSub implements the safe_sub contract (spec §4.6): invalid ranges
// yield an empty string rather than panicking.
func safeSub(s string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(s) {
		end = len(s)
	}
	if start >= end {
		return ""
	}
	return s[start:end]
}

// extractDNA takes the leading-slice snapshot used by both
// Prepare (a fraction of the context) and the emergency/no-prepare path
// (the full context).
func extractDNA(content string, length int) string {
	return safeSub(content, 0, length)
}

// minIndexableLineLen is the per-line length floor below which a line is
// never added to the dedup set, so short, high-frequency noise (blank
// lines, braces) doesn't collapse meaningful content (spec §4.6).
const minIndexableLineLen = 10

// dedupLines builds a bloom filter over prepared's lines longer than
// minIndexableLineLen, then returns delta with any line the filter
// reports present in prepared removed — a hashed membership test that
// keeps expected total work at O(n+m) rather than the naive O(nm)
// (spec §4.6 Safety note). The bloom filter is only a pre-check: a line
// is dropped only when the exact set of indexed lines also holds it, so a
// false-positive match from the filter never drops a line that was not
// actually duplicate.
func dedupLines(prepared, delta string) string {
	preparedLines := strings.Split(prepared, "\n")
	indexed := make(map[string]struct{})
	filter := bloom.NewWithEstimates(uint(max(len(preparedLines), 1)), 0.01)
	for _, line := range preparedLines {
		if len(line) > minIndexableLineLen {
			filter.AddString(line)
			indexed[line] = struct{}{}
		}
	}

	deltaLines := strings.Split(delta, "\n")
	out := make([]string, 0, len(deltaLines))
	for _, line := range deltaLines {
		if len(line) > minIndexableLineLen && filter.TestString(line) {
			if _, exact := indexed[line]; exact {
				continue // confirmed duplicate, drop it
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
