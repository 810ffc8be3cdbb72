// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package export

import (
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/review-engine/pkg/types"
)

// CSLItem is a bibliographic entry in CSL-YAML form, readable by Pandoc and
// reference managers.
type CSLItem struct {
	ID     string    `yaml:"id"`
	Type   string    `yaml:"type"`
	Title  string    `yaml:"title"`
	Author []CSLName `yaml:"author,omitempty"`
	Issued *CSLDate  `yaml:"issued,omitempty"`
	Note   string    `yaml:"note,omitempty"`
}

// CSLName is a person's name in CSL form.
type CSLName struct {
	Family  string `yaml:"family,omitempty"`
	Given   string `yaml:"given,omitempty"`
	Literal string `yaml:"literal,omitempty"`
}

// CSLDate is a CSL date as date-parts.
type CSLDate struct {
	DateParts [][]int `yaml:"date-parts"`
}

type cslFile struct {
	References []CSLItem `yaml:"references"`
}

// GenerateCSL renders refs as a CSL-YAML document keyed by citation key.
func GenerateCSL(refs types.ReferencesFile) ([]byte, error) {
	f := cslFile{References: make([]CSLItem, 0, len(refs.Papers))}
	for _, r := range refs.Papers {
		item := CSLItem{
			ID:    r.CitationKey,
			Type:  "article-journal",
			Title: r.Title,
			Note:  r.Filename,
		}
		for _, a := range r.Authors {
			if n := parseAuthorName(a); n != (CSLName{}) {
				item.Author = append(item.Author, n)
			}
		}
		if r.Year > 0 {
			item.Issued = &CSLDate{DateParts: [][]int{{r.Year}}}
		}
		f.References = append(f.References, item)
	}
	return yaml.Marshal(f)
}

// parseAuthorName splits "Given Family" or "Family, Given" into CSL parts.
// Single-token names use the literal field.
func parseAuthorName(name string) CSLName {
	name = strings.TrimSpace(name)
	if name == "" {
		return CSLName{}
	}
	if family, given, ok := strings.Cut(name, ","); ok {
		return CSLName{Family: strings.TrimSpace(family), Given: strings.TrimSpace(given)}
	}
	idx := strings.LastIndex(name, " ")
	if idx < 0 {
		return CSLName{Literal: name}
	}
	return CSLName{
		Given:  strings.TrimSpace(name[:idx]),
		Family: name[idx+1:],
	}
}
