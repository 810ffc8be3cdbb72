// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package citation checks numbered citation markers in generated text
// against the size of the literature pool.
//
// A marker is an opening bracket, one or more decimal digits and a closing
// bracket. Markers whose number falls outside [1, totalRefs] are not
// errors: they are left out of every count. All functions here are pure.
package citation

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pdiddy/review-engine/pkg/types"
)

// markerRe matches numeric citation markers like [1], [12].
var markerRe = regexp.MustCompile(`\[(\d+)\]`)

// marker is the byte span and parsed value of one [N] occurrence. n is -1
// when the digits overflow an int.
type marker struct {
	start, end int
	n          int
}

// scan returns every marker in text in order of appearance.
func scan(text string) []marker {
	var out []marker
	for _, m := range markerRe.FindAllStringSubmatchIndex(text, -1) {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			n = -1
		}
		out = append(out, marker{start: m[0], end: m[1], n: n})
	}
	return out
}

func inRange(n, totalRefs int) bool {
	return n >= 1 && n <= totalRefs
}

// ComputeStats returns the distinct in-range indices cited in text and the
// number of in-range occurrences. Empty text or a non-positive totalRefs
// yields zero stats without scanning.
func ComputeStats(text string, totalRefs int) types.CitationStats {
	if text == "" || totalRefs <= 0 {
		return types.CitationStats{CitedIndices: []int{}}
	}

	seen := make(map[int]bool)
	stats := types.CitationStats{TotalRefs: totalRefs, CitedIndices: []int{}}
	for _, m := range scan(text) {
		if !inRange(m.n, totalRefs) {
			continue
		}
		stats.CitationCount++
		if !seen[m.n] {
			seen[m.n] = true
			stats.CitedIndices = append(stats.CitedIndices, m.n)
		}
	}
	slices.Sort(stats.CitedIndices)
	return stats
}

// Usage is the per-index count of in-range occurrences.
type Usage struct {
	Index   int    `json:"index" yaml:"index"`
	Count   int    `json:"count" yaml:"count"`
	Context string `json:"context" yaml:"context"`
}

// Report is a diagnostic breakdown of the markers in a text. OutOfRange
// and Uncited are informational; they never change ComputeStats.
type Report struct {
	Stats      types.CitationStats `json:"stats" yaml:"stats"`
	Usage      []Usage             `json:"usage" yaml:"usage"`
	OutOfRange []string            `json:"out_of_range,omitempty" yaml:"out_of_range,omitempty"`
	Uncited    []int               `json:"uncited,omitempty" yaml:"uncited,omitempty"`
}

// Audit reports usage per cited index, the raw out-of-range markers, and
// which of the given pool indices were never cited. poolIndices may be nil.
func Audit(text string, totalRefs int, poolIndices []int) Report {
	r := Report{Stats: ComputeStats(text, totalRefs)}

	counts := make(map[int]*Usage)
	for _, m := range scan(text) {
		if totalRefs <= 0 || !inRange(m.n, totalRefs) {
			r.OutOfRange = append(r.OutOfRange, text[m.start:m.end])
			continue
		}
		u, ok := counts[m.n]
		if !ok {
			u = &Usage{Index: m.n, Context: snippet(text, m.start, m.end)}
			counts[m.n] = u
		}
		u.Count++
	}
	for _, idx := range r.Stats.CitedIndices {
		r.Usage = append(r.Usage, *counts[idx])
	}

	for _, idx := range poolIndices {
		if _, ok := counts[idx]; !ok {
			r.Uncited = append(r.Uncited, idx)
		}
	}
	return r
}

// snippet returns up to 40 bytes of text either side of a match, trimmed to
// rune boundaries and collapsed to one line.
func snippet(text string, start, end int) string {
	const window = 40
	from := max(start-window, 0)
	to := min(end+window, len(text))
	for from > 0 && !runeStart(text[from]) {
		from--
	}
	for to < len(text) && !runeStart(text[to]) {
		to++
	}
	return strings.Join(strings.Fields(text[from:to]), " ")
}

func runeStart(b byte) bool {
	return b&0xC0 != 0x80
}
