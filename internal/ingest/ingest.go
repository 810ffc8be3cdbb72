// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ingest decides whether an uploaded document may enter the
// literature pool. It fingerprints the raw bytes and applies the size,
// format and duplicate rules; registration is left to the caller.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pdiddy/review-engine/pkg/types"
)

// Reason is the stable code for a rejected upload.
type Reason string

const (
	ReasonDuplicate         Reason = "duplicate"
	ReasonUnsupportedFormat Reason = "unsupported_format"
	ReasonTooLarge          Reason = "too_large"
	ReasonEmpty             Reason = "empty"
	ReasonPoolFull          Reason = "pool_full"
)

// Rejection is returned for uploads that never enter the pool.
type Rejection struct {
	Reason   Reason
	Filename string
	Detail   string
}

func (r *Rejection) Error() string {
	if r.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", r.Filename, r.Reason, r.Detail)
	}
	return fmt.Sprintf("%s: %s", r.Filename, r.Reason)
}

// Limits configures the pre-hash checks.
type Limits struct {
	MaxBytes int64
	Formats  []types.Format
}

// LimitsFrom builds Limits from pool configuration.
func LimitsFrom(cfg types.PoolConfig) Limits {
	return Limits{MaxBytes: cfg.MaxFileBytes, Formats: cfg.AllowedFormats}
}

// Index answers whether a fingerprint is already registered.
type Index interface {
	HasHash(hash string) bool
}

// Decision is the outcome of Check. Hash and Format are set whenever the
// upload got far enough to compute them.
type Decision struct {
	Accepted bool
	Hash     string
	Format   types.Format
	Reject   *Rejection
}

// Fingerprint returns the hex SHA-256 of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FormatOf maps a filename to its format by extension. The second return
// is false for extensions that are not pdf or txt.
func FormatOf(filename string) (types.Format, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch types.Format(ext) {
	case types.FormatPDF:
		return types.FormatPDF, true
	case types.FormatTXT:
		return types.FormatTXT, true
	}
	return "", false
}

// Check applies the acceptance rules in order: format, size, emptiness,
// then duplicate. Format and size are checked before hashing. A nil index
// skips the duplicate check.
func Check(data []byte, filename string, limits Limits, idx Index) Decision {
	format, ok := FormatOf(filename)
	if !ok || !allowed(format, limits.Formats) {
		return reject(ReasonUnsupportedFormat, filename, fmt.Sprintf("extension %q", filepath.Ext(filename)))
	}

	if limits.MaxBytes > 0 && int64(len(data)) > limits.MaxBytes {
		d := reject(ReasonTooLarge, filename, fmt.Sprintf("%d bytes exceeds %d", len(data), limits.MaxBytes))
		d.Format = format
		return d
	}

	if len(data) == 0 {
		d := reject(ReasonEmpty, filename, "")
		d.Format = format
		return d
	}

	hash := Fingerprint(data)
	if idx != nil && idx.HasHash(hash) {
		d := reject(ReasonDuplicate, filename, "")
		d.Hash = hash
		d.Format = format
		return d
	}

	return Decision{Accepted: true, Hash: hash, Format: format}
}

func reject(reason Reason, filename, detail string) Decision {
	return Decision{Reject: &Rejection{Reason: reason, Filename: filename, Detail: detail}}
}

// allowed treats an empty list as pdf and txt.
func allowed(f types.Format, formats []types.Format) bool {
	if len(formats) == 0 {
		return f == types.FormatPDF || f == types.FormatTXT
	}
	for _, a := range formats {
		if strings.EqualFold(string(a), string(f)) {
			return true
		}
	}
	return false
}
