// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package citation

import (
	"slices"
	"strconv"
	"strings"
)

// DenseMapping maps sorted pool indices to 1..N. Duplicate indices share
// one slot.
func DenseMapping(poolIndices []int) map[int]int {
	sorted := slices.Clone(poolIndices)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	m := make(map[int]int, len(sorted))
	for i, idx := range sorted {
		m[idx] = i + 1
	}
	return m
}

// Unresolved replaces markers that have no slot in a renumbering. It holds
// no digits, so it can never be read as a citation of a surviving item.
const Unresolved = "[?]"

// Renumber rewrites every marker into the numbering given by mapping.
// Markers whose number is not in mapping, such as citations of removed
// items or out-of-range numbers, become Unresolved; keeping their old
// number could alias a surviving item's new slot.
func Renumber(text string, mapping map[int]int) string {
	markers := scan(text)
	if len(markers) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range markers {
		b.WriteString(text[last:m.start])
		if to, ok := mapping[m.n]; ok {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(to))
			b.WriteByte(']')
		} else {
			b.WriteString(Unresolved)
		}
		last = m.end
	}
	b.WriteString(text[last:])
	return b.String()
}
