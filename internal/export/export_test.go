// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/review-engine/pkg/types"
)

var exportTime = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

// snapshot has a gap at index 2, left by a removed item.
func snapshot() []types.LiteratureItem {
	return []types.LiteratureItem{
		{
			CitationIndex: 3, Filename: "attention.pdf", Status: types.ItemReady,
			Metadata: &types.Metadata{Title: "Attention Is All You Need", Authors: []string{"Ashish Vaswani", "Noam Shazeer"}, Year: 2017},
		},
		{
			CitationIndex: 1, Filename: "resnet.pdf", Status: types.ItemReady,
			Metadata: &types.Metadata{Title: "Deep Residual Learning", Authors: []string{"Kaiming He"}, Year: 2016},
		},
		{CitationIndex: 4, Filename: "notes-on-graphs.txt", Status: types.ItemFailed},
	}
}

func TestBuild_ReferenceListAndStats(t *testing.T) {
	text := "Residual nets [1] and attention [3]. See also [9]."
	doc, err := Build(text, snapshot(), 4, Options{Title: "Deep Models", Format: types.FormatAPA, Now: exportTime})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, doc.Stats.CitedIndices)
	assert.Equal(t, 2, doc.Stats.CitationCount)

	require.Len(t, doc.References.Papers, 3)
	assert.Equal(t, 1, doc.References.Papers[0].Index)
	assert.Equal(t, "He2016", doc.References.Papers[0].CitationKey)
	assert.Equal(t, "Vaswani2017", doc.References.Papers[1].CitationKey)
	assert.Equal(t, "notes-on-graphs", doc.References.Papers[2].Title)
	assert.Equal(t, "ref4", doc.References.Papers[2].CitationKey)

	assert.True(t, strings.HasPrefix(doc.Markdown, "---\ntitle: Deep Models\n"))
	assert.Contains(t, doc.Markdown, "2026-04-02 09:30:00")
	assert.Contains(t, doc.Markdown, "See also [9].")
	assert.Contains(t, doc.Markdown, "## References\n\n[1] Kaiming He (2016). Deep Residual Learning.\n")
	assert.Contains(t, doc.Markdown, "[3] Ashish Vaswani, & Noam Shazeer (2017). Attention Is All You Need.")
}

func TestBuild_CitedOnly(t *testing.T) {
	doc, err := Build("Only [3].", snapshot(), 4, Options{CitedOnly: true, Now: exportTime})
	require.NoError(t, err)
	require.Len(t, doc.References.Papers, 1)
	assert.Equal(t, 3, doc.References.Papers[0].Index)
	assert.Equal(t, types.FormatGB, doc.References.Format)
}

func TestBuild_DenseRenumbersCopyOnly(t *testing.T) {
	items := snapshot()
	doc, err := Build("A [1], B [3], C [4], missing [2].", items, 4, Options{Dense: true, Now: exportTime})
	require.NoError(t, err)

	assert.Contains(t, doc.Markdown, "A [1], B [2], C [3], missing [?].")
	require.Len(t, doc.References.Papers, 3)
	assert.Equal(t, 2, doc.References.Papers[1].Index)
	assert.Equal(t, 3, doc.References.Papers[1].PoolIndex)
	assert.Equal(t, types.CitationStats{TotalRefs: 3, CitedIndices: []int{1, 2, 3}, CitationCount: 3}, doc.Stats)

	// The snapshot passed in is not reordered or renumbered.
	assert.Equal(t, 3, items[0].CitationIndex)
}

func TestBuild_DenseRemovedItemDoesNotAlias(t *testing.T) {
	items := []types.LiteratureItem{
		{CitationIndex: 1, Filename: "alpha.txt", Status: types.ItemReady, Metadata: &types.Metadata{Title: "Alpha", Authors: []string{"A. Alpha"}}},
		{CitationIndex: 3, Filename: "gamma.txt", Status: types.ItemReady, Metadata: &types.Metadata{Title: "Gamma", Authors: []string{"C. Gamma"}}},
	}
	doc, err := Build("Deleted work [2]; gamma [3].", items, 2, Options{Dense: true, Now: exportTime})
	require.NoError(t, err)

	assert.Contains(t, doc.Markdown, "Deleted work [?]; gamma [2].")
	assert.Equal(t, []int{2}, doc.Stats.CitedIndices)
	assert.Equal(t, 1, doc.Stats.CitationCount)
	assert.Equal(t, 2, doc.Stats.TotalRefs)

	cited, err := Build("Deleted work [2]; gamma [3].", items, 2, Options{Dense: true, CitedOnly: true, Now: exportTime})
	require.NoError(t, err)
	require.Len(t, cited.References.Papers, 1)
	assert.Equal(t, "Gamma", cited.References.Papers[0].Title)
	assert.Equal(t, 2, cited.References.Papers[0].Index)
}

func TestBuild_RejectsUnknownFormat(t *testing.T) {
	_, err := Build("x", nil, 0, Options{Format: "chicago"})
	assert.Error(t, err)
}

func TestBuild_NoReferences(t *testing.T) {
	doc, err := Build("General text.", nil, 0, Options{Now: exportTime})
	require.NoError(t, err)
	assert.NotContains(t, doc.Markdown, "## References")
	assert.Empty(t, doc.BibTeX)
	assert.Equal(t, "Literature Review", doc.Title)
}

func TestFormatReference(t *testing.T) {
	e := types.ReferenceEntry{Index: 2, Title: "Graph Attention Networks.", Authors: []string{"Petar Velickovic", "Guillem Cucurull", "Arantxa Casanova"}, Year: 2018}
	tests := []struct {
		format types.CitationFormat
		want   string
	}{
		{types.FormatAPA, "[2] Petar Velickovic, Guillem Cucurull, & Arantxa Casanova (2018). Graph Attention Networks."},
		{types.FormatGB, "[2] Petar Velickovic, Guillem Cucurull, Arantxa Casanova. Graph Attention Networks[J]. 2018."},
		{types.FormatMLA, `[2] Petar Velickovic, et al. "Graph Attention Networks." 2018.`},
		{types.FormatHarvard, "[2] Petar Velickovic, Guillem Cucurull and Arantxa Casanova (2018) 'Graph Attention Networks'."},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			assert.Equal(t, tt.want, FormatReference(tt.format, e))
		})
	}
}

func TestFormatReference_MissingFields(t *testing.T) {
	got := FormatReference(types.FormatAPA, types.ReferenceEntry{Index: 5, Title: "Untitled"})
	assert.Equal(t, "[5] Anonymous (n.d.). Untitled.", got)

	many := types.ReferenceEntry{Index: 1, Title: "T", Authors: []string{"A", "B", "C", "D"}, Year: 2020}
	assert.Equal(t, "[1] A, B, C, et al. T[J]. 2020.", FormatReference(types.FormatGB, many))
}

func TestCitationKeys(t *testing.T) {
	seen := map[string]int{}
	tests := []struct {
		entry types.ReferenceEntry
		want  string
	}{
		{types.ReferenceEntry{Authors: []string{"Kaiming He"}, Year: 2016}, "He2016"},
		{types.ReferenceEntry{Authors: []string{"He, Kaiming"}, Year: 2016}, "He2016a"},
		{types.ReferenceEntry{Authors: []string{"Yann LeCun"}}, "LeCun"},
		{types.ReferenceEntry{Authors: []string{"王小明"}, Year: 2021}, "王小明2021"},
		{types.ReferenceEntry{PoolIndex: 7}, "ref7"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, uniqueKey(seen, citationKey(tt.entry)))
	}
}

func TestGenerateBibTeX(t *testing.T) {
	refs := types.ReferencesFile{Papers: []types.ReferenceEntry{
		{Index: 1, CitationKey: "He2016", Title: "Deep Residual Learning", Authors: []string{"Kaiming He", "Xiangyu Zhang"}, Year: 2016, Filename: "resnet.pdf"},
		{Index: 2, CitationKey: "ref2", Title: "Notes", Filename: "notes.txt"},
	}}
	got := GenerateBibTeX(refs)
	assert.Contains(t, got, "@article{He2016,\n  title = {Deep Residual Learning},\n  author = {Kaiming He and Xiangyu Zhang},\n  year = {2016},\n")
	assert.Contains(t, got, "@article{ref2,\n  title = {Notes},\n  note = {[2] notes.txt},\n}")
	assert.Equal(t, 2, strings.Count(got, "@article{"))
}

func TestWriteAndList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outputs")
	doc, err := Build("Text [1].", snapshot(), 4, Options{Title: "图神经网络 综述", Now: exportTime})
	require.NoError(t, err)

	files, err := Write(dir, doc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "图神经网络-综述_20260402_093000.md"), files.Markdown)

	md, err := os.ReadFile(files.Markdown)
	require.NoError(t, err)
	assert.Equal(t, doc.Markdown, string(md))

	data, err := os.ReadFile(files.References)
	require.NoError(t, err)
	var refs types.ReferencesFile
	require.NoError(t, yaml.Unmarshal(data, &refs))
	assert.Len(t, refs.Papers, 3)

	data, err = os.ReadFile(files.CSL)
	require.NoError(t, err)
	assert.Contains(t, string(data), "date-parts")

	entries, err := List(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	formats := map[string]bool{}
	for _, e := range entries {
		formats[e.Format] = true
	}
	assert.Equal(t, map[string]bool{"MD": true, "BIB": true, "YAML": true}, formats)
}

func TestGenerateCSL(t *testing.T) {
	refs := types.ReferencesFile{Papers: []types.ReferenceEntry{
		{Index: 1, CitationKey: "He2016", Title: "Deep Residual Learning", Authors: []string{"Kaiming He", "Zhang, Xiangyu", "Plato"}, Year: 2016},
		{Index: 2, CitationKey: "ref2", Title: "Notes", Filename: "notes.txt"},
	}}
	data, err := GenerateCSL(refs)
	require.NoError(t, err)

	var got cslFile
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Len(t, got.References, 2)
	he := got.References[0]
	assert.Equal(t, "He2016", he.ID)
	assert.Equal(t, []CSLName{
		{Given: "Kaiming", Family: "He"},
		{Family: "Zhang", Given: "Xiangyu"},
		{Literal: "Plato"},
	}, he.Author)
	require.NotNil(t, he.Issued)
	assert.Equal(t, [][]int{{2016}}, he.Issued.DateParts)
	assert.Nil(t, got.References[1].Issued)
	assert.Equal(t, "notes.txt", got.References[1].Note)
}

func TestList_MissingDir(t *testing.T) {
	entries, err := List(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Deep Models: A Survey", "deep-models-a-survey"},
		{"  ", "review"},
		{"GNN -- 2026!", "gnn-2026"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), tt.in)
	}
}
