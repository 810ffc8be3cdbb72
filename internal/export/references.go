// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package export

import (
	"fmt"
	"strings"

	"github.com/pdiddy/review-engine/pkg/types"
)

// ReferenceList renders one line per entry in the style of refs.Format.
// Every line starts with the [N] marker used in the text so readers can
// match citations whatever the style.
func ReferenceList(refs types.ReferencesFile) string {
	var b strings.Builder
	for _, e := range refs.Papers {
		b.WriteString(FormatReference(refs.Format, e))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatReference renders a single entry. Journal, volume and page fields
// are not extracted, so the styles carry author, year and title only.
func FormatReference(f types.CitationFormat, e types.ReferenceEntry) string {
	year := "n.d."
	if e.Year > 0 {
		year = fmt.Sprint(e.Year)
	}
	title := strings.TrimSuffix(strings.TrimSpace(e.Title), ".")

	var body string
	switch f {
	case types.FormatAPA:
		body = fmt.Sprintf("%s (%s). %s.", authorsAPA(e.Authors), year, title)
	case types.FormatMLA:
		body = fmt.Sprintf("%s. \"%s.\" %s.", authorsMLA(e.Authors), title, year)
	case types.FormatHarvard:
		body = fmt.Sprintf("%s (%s) '%s'.", authorsHarvard(e.Authors), year, title)
	default:
		body = fmt.Sprintf("%s. %s[J]. %s.", authorsGB(e.Authors), title, year)
	}
	return fmt.Sprintf("[%d] %s", e.Index, body)
}

func authorsAPA(a []string) string {
	switch len(a) {
	case 0:
		return "Anonymous"
	case 1:
		return a[0]
	case 2:
		return a[0] + ", & " + a[1]
	}
	return strings.Join(a[:len(a)-1], ", ") + ", & " + a[len(a)-1]
}

// authorsGB lists up to three authors, then et al.
func authorsGB(a []string) string {
	switch {
	case len(a) == 0:
		return "Anonymous"
	case len(a) > 3:
		return strings.Join(a[:3], ", ") + ", et al"
	}
	return strings.Join(a, ", ")
}

func authorsMLA(a []string) string {
	switch len(a) {
	case 0:
		return "Anonymous"
	case 1:
		return a[0]
	case 2:
		return a[0] + ", and " + a[1]
	}
	return a[0] + ", et al"
}

func authorsHarvard(a []string) string {
	switch len(a) {
	case 0:
		return "Anonymous"
	case 1:
		return a[0]
	}
	return strings.Join(a[:len(a)-1], ", ") + " and " + a[len(a)-1]
}
