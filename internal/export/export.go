// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package export turns a finished review and a pool snapshot into the files
// a user takes away: Markdown with a reference list, BibTeX,
// references.yaml and a CSL-YAML bibliography.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/review-engine/internal/citation"
	"github.com/pdiddy/review-engine/pkg/types"
)

// Options controls one export.
type Options struct {
	Title  string
	Format types.CitationFormat

	// Dense renumbers the exported copy so surviving pool indices become
	// 1..N in index order. The pool itself keeps its indices.
	Dense bool

	// CitedOnly drops uncited items from the reference list.
	CitedOnly bool

	// Now stamps the front matter and file names; zero means time.Now.
	Now time.Time
}

// Document is a rendered export.
type Document struct {
	Title      string
	Markdown   string
	BibTeX     string
	References types.ReferencesFile
	Stats      types.CitationStats
	CreatedAt  time.Time
}

type frontMatter struct {
	Title          string `yaml:"title"`
	Date           string `yaml:"date"`
	Generator      string `yaml:"generator"`
	CitationFormat string `yaml:"citation_format"`
	References     int    `yaml:"references"`
}

// Build renders text against the items of a pool snapshot. totalRefs is the
// pool's highest valid index at snapshot time; with Dense it is replaced by
// the number of items.
func Build(text string, items []types.LiteratureItem, totalRefs int, opts Options) (Document, error) {
	if opts.Format == "" {
		opts.Format = types.FormatGB
	}
	if !opts.Format.Valid() {
		return Document{}, fmt.Errorf("unsupported citation format %q", opts.Format)
	}
	if strings.TrimSpace(opts.Title) == "" {
		opts.Title = "Literature Review"
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	items = slices.Clone(items)
	sort.Slice(items, func(i, j int) bool { return items[i].CitationIndex < items[j].CitationIndex })

	// Dense stats are taken on the renumbered copy against its own 1..N so
	// they describe the exported text.
	var mapping map[int]int
	if opts.Dense {
		indices := make([]int, 0, len(items))
		for _, it := range items {
			indices = append(indices, it.CitationIndex)
		}
		mapping = citation.DenseMapping(indices)
		text = citation.Renumber(text, mapping)
		totalRefs = len(mapping)
	}

	stats := citation.ComputeStats(text, totalRefs)
	cited := make(map[int]bool, len(stats.CitedIndices))
	for _, idx := range stats.CitedIndices {
		cited[idx] = true
	}

	refs := types.ReferencesFile{Format: opts.Format, Papers: []types.ReferenceEntry{}}
	keys := map[string]int{}
	for _, it := range items {
		idx := it.CitationIndex
		if n, ok := mapping[idx]; ok {
			idx = n
		}
		if opts.CitedOnly && !cited[idx] {
			continue
		}
		entry := entryFor(it, idx)
		entry.CitationKey = uniqueKey(keys, citationKey(entry))
		refs.Papers = append(refs.Papers, entry)
	}

	fm, err := yaml.Marshal(frontMatter{
		Title:          opts.Title,
		Date:           now.Format("2006-01-02 15:04:05"),
		Generator:      "review-engine",
		CitationFormat: opts.Format.Name(),
		References:     len(refs.Papers),
	})
	if err != nil {
		return Document{}, fmt.Errorf("encoding front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n")
	if len(refs.Papers) > 0 {
		b.WriteString("\n## References\n\n")
		b.WriteString(ReferenceList(refs))
	}

	return Document{
		Title:      opts.Title,
		Markdown:   b.String(),
		BibTeX:     GenerateBibTeX(refs),
		References: refs,
		Stats:      stats,
		CreatedAt:  now,
	}, nil
}

func entryFor(it types.LiteratureItem, idx int) types.ReferenceEntry {
	e := types.ReferenceEntry{
		Index:     idx,
		PoolIndex: it.CitationIndex,
		Filename:  it.Filename,
	}
	if it.Metadata != nil {
		e.Title = it.Metadata.Title
		e.Authors = it.Metadata.Authors
		e.Year = it.Metadata.Year
	}
	if e.Title == "" {
		e.Title = strings.TrimSuffix(it.Filename, filepath.Ext(it.Filename))
	}
	return e
}

// citationKey builds an AuthorYear key from the first author's surname,
// falling back to refN.
func citationKey(e types.ReferenceEntry) string {
	var name string
	if len(e.Authors) > 0 {
		fields := strings.Fields(e.Authors[0])
		if len(fields) > 0 {
			name = fields[len(fields)-1]
			if strings.HasSuffix(fields[0], ",") {
				name = fields[0]
			}
		}
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, name)
	if name == "" {
		return fmt.Sprintf("ref%d", e.PoolIndex)
	}
	if e.Year > 0 {
		return fmt.Sprintf("%s%d", name, e.Year)
	}
	return name
}

func uniqueKey(seen map[string]int, key string) string {
	n := seen[key]
	seen[key] = n + 1
	if n == 0 {
		return key
	}
	return fmt.Sprintf("%s%c", key, 'a'+rune(n-1))
}

// GenerateBibTeX produces BibTeX entries for refs.
func GenerateBibTeX(refs types.ReferencesFile) string {
	var b strings.Builder
	for _, r := range refs.Papers {
		fmt.Fprintf(&b, "@article{%s,\n", r.CitationKey)
		fmt.Fprintf(&b, "  title = {%s},\n", r.Title)
		if len(r.Authors) > 0 {
			fmt.Fprintf(&b, "  author = {%s},\n", strings.Join(r.Authors, " and "))
		}
		if r.Year > 0 {
			fmt.Fprintf(&b, "  year = {%d},\n", r.Year)
		}
		fmt.Fprintf(&b, "  note = {[%d] %s},\n", r.Index, r.Filename)
		fmt.Fprintf(&b, "}\n\n")
	}
	return b.String()
}

// Files names the paths written by Write.
type Files struct {
	Markdown   string `json:"markdown" yaml:"markdown"`
	BibTeX     string `json:"bibtex" yaml:"bibtex"`
	References string `json:"references" yaml:"references"`
	CSL        string `json:"csl" yaml:"csl"`
}

// Write stores doc under dir as <slug>_<timestamp>.md, .bib,
// -references.yaml and -references.csl.yaml.
func Write(dir string, doc Document) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("creating export directory: %w", err)
	}
	base := filepath.Join(dir, fmt.Sprintf("%s_%s", Slug(doc.Title), doc.CreatedAt.Format("20060102_150405")))
	files := Files{
		Markdown:   base + ".md",
		BibTeX:     base + ".bib",
		References: base + "-references.yaml",
		CSL:        base + "-references.csl.yaml",
	}

	refs, err := yaml.Marshal(doc.References)
	if err != nil {
		return Files{}, fmt.Errorf("encoding references: %w", err)
	}
	csl, err := GenerateCSL(doc.References)
	if err != nil {
		return Files{}, fmt.Errorf("encoding CSL references: %w", err)
	}
	for path, data := range map[string][]byte{
		files.Markdown:   []byte(doc.Markdown),
		files.BibTeX:     []byte(doc.BibTeX),
		files.References: refs,
		files.CSL:        csl,
	} {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return Files{}, fmt.Errorf("writing %s: %w", filepath.Base(path), err)
		}
	}
	return files, nil
}

// Slug makes title safe for a file name. Letters and digits of any script
// are kept; runs of anything else become one hyphen.
func Slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.TrimSpace(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "review"
	}
	return s
}

// Entry describes one file in the export directory.
type Entry struct {
	Name    string    `json:"filename" yaml:"filename"`
	Size    int64     `json:"size" yaml:"size"`
	Format  string    `json:"format" yaml:"format"`
	ModTime time.Time `json:"created" yaml:"created"`
}

// List returns the files in dir, newest first. A missing directory is an
// empty list.
func List(dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading export directory: %w", err)
	}
	out := []Entry{}
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:    de.Name(),
			Size:    info.Size(),
			Format:  strings.ToUpper(strings.TrimPrefix(filepath.Ext(de.Name()), ".")),
			ModTime: info.ModTime(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}
