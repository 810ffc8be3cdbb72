// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Format identifies the file type of an uploaded reference document.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatTXT Format = "txt"
)

// ItemStatus tracks a literature item through metadata extraction.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemExtracting ItemStatus = "extracting"
	ItemReady      ItemStatus = "ready"
	ItemFailed     ItemStatus = "failed"
)

// InFlight reports whether the status counts as processing.
func (s ItemStatus) InFlight() bool {
	return s == ItemPending || s == ItemExtracting
}

// Metadata is the structured record produced by extraction.
type Metadata struct {
	Title    string   `json:"title" yaml:"title"`
	Authors  []string `json:"authors" yaml:"authors"`
	Year     int      `json:"year,omitempty" yaml:"year,omitempty"`
	Abstract string   `json:"abstract,omitempty" yaml:"abstract,omitempty"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// LiteratureItem is one uploaded reference document.
type LiteratureItem struct {
	// ID is assigned at ingestion and stable for the item's lifetime.
	ID string `json:"id" yaml:"id"`

	// ContentHash is the hex SHA-256 of the raw bytes.
	ContentHash string `json:"content_hash" yaml:"content_hash"`

	// CitationIndex is the [N] marker generated text uses for this item.
	// It is set on acceptance and never changes or gets reused.
	CitationIndex int `json:"citation_index" yaml:"citation_index"`

	Filename   string     `json:"filename" yaml:"filename"`
	Format     Format     `json:"format" yaml:"format"`
	SizeBytes  int64      `json:"size_bytes" yaml:"size_bytes"`
	Status     ItemStatus `json:"status" yaml:"status"`
	UploadedAt time.Time  `json:"uploaded_at" yaml:"uploaded_at"`

	// Metadata is populated only when Status is ready.
	Metadata *Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// ErrorReason is populated only when Status is failed.
	ErrorReason string `json:"error_reason,omitempty" yaml:"error_reason,omitempty"`
}

// PoolState is the aggregate state derived from the item set.
type PoolState string

const (
	PoolEmpty      PoolState = "empty"
	PoolProcessing PoolState = "processing"
	PoolReady      PoolState = "ready"
	PoolError      PoolState = "error"
)

// PoolStatus is a consistent snapshot of the pool's aggregate state and counts.
type PoolStatus struct {
	State          PoolState `json:"state" yaml:"state"`
	FileCount      int       `json:"file_count" yaml:"file_count"`
	ProcessedCount int       `json:"processed_count" yaml:"processed_count"`
	ReadyCount     int       `json:"ready_count" yaml:"ready_count"`
	FailedCount    int       `json:"failed_count" yaml:"failed_count"`
}

// Exemplar is a published review uploaded as a style reference for the
// paradigm stage. Exemplars never enter the literature pool.
type Exemplar struct {
	ID          string    `json:"id" yaml:"id"`
	ContentHash string    `json:"content_hash" yaml:"content_hash"`
	Filename    string    `json:"filename" yaml:"filename"`
	Format      Format    `json:"format" yaml:"format"`
	SizeBytes   int64     `json:"size_bytes" yaml:"size_bytes"`
	Data        []byte    `json:"-" yaml:"-"`
	UploadedAt  time.Time `json:"uploaded_at" yaml:"uploaded_at"`
}
