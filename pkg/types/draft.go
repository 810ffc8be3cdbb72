// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ReferenceEntry records one cited pool item in references.yaml.
type ReferenceEntry struct {
	// Index is the citation number as it appears in the exported text.
	Index int `json:"index" yaml:"index"`

	// PoolIndex is the item's citation index in the pool. It differs from
	// Index only when the export was densely renumbered.
	PoolIndex int `json:"pool_index" yaml:"pool_index"`

	// CitationKey is the BibTeX key (e.g. "Vaswani2017").
	CitationKey string `json:"citation_key" yaml:"citation_key"`

	Title    string   `json:"title" yaml:"title"`
	Authors  []string `json:"authors" yaml:"authors"`
	Year     int      `json:"year,omitempty" yaml:"year,omitempty"`
	Filename string   `json:"filename" yaml:"filename"`
}

// ReferencesFile holds the reference list written next to an export.
type ReferencesFile struct {
	Format CitationFormat   `json:"format" yaml:"format"`
	Papers []ReferenceEntry `json:"papers" yaml:"papers"`
}

// Message is one turn of the refinement conversation.
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// SavedPrompt is a user-authored paradigm or instruction kept for reuse.
type SavedPrompt struct {
	Name      string `json:"name" yaml:"name"`
	Content   string `json:"content" yaml:"content"`
	UpdatedAt string `json:"updated_at" yaml:"updated_at"`
}
