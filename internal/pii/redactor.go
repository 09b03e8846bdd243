package pii

import (
	"sort"
	"strings"
)

// Redact rewrites text by replacing detections with type-tagged
// placeholders. Detections are sorted by Start asc, then length
// desc, and a greedy sweep picks the longest non-overlapping interval at
// each position — overlapping lower-priority detections are dropped.
// Byte offsets of non-redacted spans are preserved relative to the
// surviving intervals. Redact is idempotent: the placeholder text
// "[<TYPE>_REDACTED]" does not match any detector pattern, so redacting
// an already-redacted string is a no-op beyond the first pass.
func Redact(text string, detections []Detection) (redacted string, typesRedacted map[Type]bool) {
	chosen := chooseNonOverlapping(detections)
	typesRedacted = make(map[Type]bool, len(chosen))

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, d := range chosen {
		if d.Start < cursor {
			continue // safety: overlap with a previously chosen interval
		}
		b.WriteString(text[cursor:d.Start])
		b.WriteString(placeholder(d.Type))
		typesRedacted[d.Type] = true
		cursor = d.End
	}
	b.WriteString(text[cursor:])
	return b.String(), typesRedacted
}

// chooseNonOverlapping sorts by Start asc / length desc (higher confidence
// breaks any remaining tie) and greedily keeps the first (longest,
// earliest) interval at each position, skipping intervals that overlap one
// already kept. An earlier start therefore wins over a longer or
// higher-confidence interval that starts later.
func chooseNonOverlapping(detections []Detection) []Detection {
	sorted := make([]Detection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		li, lj := sorted[i].End-sorted[i].Start, sorted[j].End-sorted[j].Start
		if li != lj {
			return li > lj
		}
		return sorted[i].Confidence > sorted[j].Confidence
	})

	var chosen []Detection
	lastEnd := -1
	for _, d := range sorted {
		if d.Start < lastEnd {
			continue
		}
		chosen = append(chosen, d)
		lastEnd = d.End
	}
	return chosen
}

// placeholder returns "[<TYPE>_REDACTED]" for the given PII type.
func placeholder(t Type) string {
	return "[" + strings.ToUpper(string(t)) + "_REDACTED]"
}
