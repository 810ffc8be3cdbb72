// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pdiddy/review-engine/pkg/types"
)

// HeuristicBackend reads metadata from the layout of a paper's first page:
// the first plausible line is the title, a name-list line gives authors, the
// most frequent year near the top is the publication year, and the block
// under an abstract heading is the abstract.
type HeuristicBackend struct{}

var (
	// yearRe matches a 4-digit year.
	yearRe = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)

	// nameListRe matches "Zhang Wei, Li Ming" style author lines.
	nameListRe = regexp.MustCompile(`^[A-Z][a-z]+\s+[A-Z][a-z]+(?:\s*,\s*[A-Z][a-z]+\s+[A-Z][a-z]+)*$`)

	abstractHeadRe = regexp.MustCompile(`(?i)^(?:abstract|summary|摘\s*要)(?:\s*[:：.]\s*(.*)|\s*)$`)
	abstractEndRe  = regexp.MustCompile(`(?i)^(introduction|引言|1\.|keywords|key words|关键词)`)
	keywordsRe     = regexp.MustCompile(`(?i)^(keywords|key words|index terms|关键词)\s*[:：—-]?\s*(.+)$`)
)

// Header window sizes.
const (
	titleLines    = 15
	authorLines   = 20
	yearWindow    = 5000
	abstractLimit = 1000
)

var nonTitleWords = []string{"abstract", "introduction", "keywords", "摘要", "引言", "关键词"}

// ExtractMetadata implements Backend. It never fails; missing fields stay
// empty.
func (HeuristicBackend) ExtractMetadata(ctx context.Context, doc Document) (types.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return types.Metadata{}, err
	}
	lines := strings.Split(doc.Text, "\n")
	return types.Metadata{
		Title:    findTitle(lines),
		Authors:  findAuthors(lines),
		Year:     findYear(doc.Text),
		Abstract: findAbstract(lines),
		Keywords: findKeywords(lines),
	}, nil
}

func findTitle(lines []string) string {
	for _, line := range head(lines, titleLines) {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		n := utf8.RuneCountInString(line)
		if n <= 10 || n >= 200 {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(line); unicode.IsDigit(r) {
			continue
		}
		lower := strings.ToLower(line)
		if containsAny(lower, nonTitleWords) {
			continue
		}
		return line
	}
	return ""
}

func findAuthors(lines []string) []string {
	for _, line := range head(lines, authorLines) {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "author") || strings.HasPrefix(line, "作者") || strings.HasPrefix(lower, "by ") {
			if i := strings.IndexAny(line, ":："); i >= 0 {
				line = line[i+1:]
			} else if strings.HasPrefix(lower, "by ") {
				line = line[3:]
			}
			if names := splitNames(line); len(names) > 0 {
				return names
			}
			continue
		}
		if nameListRe.MatchString(line) {
			return splitNames(line)
		}
	}
	return nil
}

func splitNames(s string) []string {
	var names []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '，' || r == '、' }) {
		for _, name := range strings.Split(part, " and ") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// findYear returns the most frequent year in the header window; ties go to
// the year seen first.
func findYear(text string) int {
	if len(text) > yearWindow {
		text = text[:yearWindow]
	}
	counts := make(map[string]int)
	var order []string
	for _, m := range yearRe.FindAllStringSubmatch(text, -1) {
		if counts[m[1]] == 0 {
			order = append(order, m[1])
		}
		counts[m[1]]++
	}
	best := ""
	for _, y := range order {
		if counts[y] > counts[best] {
			best = y
		}
	}
	year, _ := strconv.Atoi(best)
	return year
}

func findAbstract(lines []string) string {
	var parts []string
	collecting := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(strings.TrimLeft(line, "# "))
		if !collecting {
			if m := abstractHeadRe.FindStringSubmatch(trimmed); m != nil {
				collecting = true
				if m[1] != "" {
					parts = append(parts, m[1])
				}
			}
			continue
		}
		if abstractEndRe.MatchString(trimmed) {
			break
		}
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	abstract := strings.Join(parts, " ")
	if utf8.RuneCountInString(abstract) > abstractLimit {
		abstract = string([]rune(abstract)[:abstractLimit])
	}
	return abstract
}

func findKeywords(lines []string) []string {
	for _, line := range lines {
		m := keywordsRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		var kws []string
		for _, k := range strings.FieldsFunc(m[2], func(r rune) bool { return r == ',' || r == ';' || r == '，' || r == '；' || r == '、' }) {
			if k = strings.TrimSpace(strings.TrimRight(k, ".")); k != "" {
				kws = append(kws, k)
			}
		}
		return kws
	}
	return nil
}

func head(lines []string, n int) []string {
	if len(lines) > n {
		return lines[:n]
	}
	return lines
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
