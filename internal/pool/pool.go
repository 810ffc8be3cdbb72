// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pool is the authoritative registry of uploaded literature. It
// assigns citation indices, tracks per-item extraction status, and derives
// the aggregate pool state. Every mutation and every status read happens
// under one mutex, and each mutation publishes the resulting status before
// the lock is released so subscribers observe states in mutation order.
package pool

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pdiddy/review-engine/internal/events"
	"github.com/pdiddy/review-engine/internal/ingest"
	"github.com/pdiddy/review-engine/pkg/types"
)

var (
	// ErrNotFound is returned for ids that are not in the pool.
	ErrNotFound = errors.New("literature item not found")

	// ErrNotPending is returned when a transition is attempted from a
	// status that does not allow it.
	ErrNotPending = errors.New("literature item is not awaiting extraction")
)

type entry struct {
	item types.LiteratureItem
	data []byte
}

// Pool holds literature items keyed by id. The zero value is not usable;
// call New.
type Pool struct {
	mu     sync.Mutex
	items  map[string]*entry
	order  []string          // ids in citation index order
	hashes map[string]string // content hash -> id
	next   int               // last assigned citation index

	limits   ingest.Limits
	maxFiles int
	pub      events.Publisher
	logger   zerolog.Logger

	newID func() string
	now   func() time.Time
}

// New returns an empty pool. A nil publisher discards status events.
func New(cfg types.PoolConfig, pub events.Publisher, logger zerolog.Logger) *Pool {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Pool{
		items:    make(map[string]*entry),
		hashes:   make(map[string]string),
		limits:   ingest.LimitsFrom(cfg),
		maxFiles: cfg.MaxFiles,
		pub:      pub,
		logger:   logger.With().Str("component", "pool").Logger(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// lockedIndex lets ingest.Check consult the hash index while p.mu is held.
type lockedIndex struct{ p *Pool }

func (l lockedIndex) HasHash(hash string) bool {
	_, ok := l.p.hashes[hash]
	return ok
}

// HasHash reports whether content with the given fingerprint is pooled.
func (p *Pool) HasHash(hash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lockedIndex{p}.HasHash(hash)
}

// Submit checks an upload and registers it as pending in one critical
// section, so two identical concurrent uploads yield one item. Rejections
// are returned as *ingest.Rejection.
func (p *Pool) Submit(data []byte, filename string) (types.LiteratureItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d := ingest.Check(data, filename, p.limits, lockedIndex{p})
	if !d.Accepted {
		p.logger.Debug().Str("filename", filename).Str("reason", string(d.Reject.Reason)).Msg("upload rejected")
		return types.LiteratureItem{}, d.Reject
	}
	if p.maxFiles > 0 && len(p.items) >= p.maxFiles {
		return types.LiteratureItem{}, &ingest.Rejection{
			Reason:   ingest.ReasonPoolFull,
			Filename: filename,
			Detail:   fmt.Sprintf("pool holds %d items", len(p.items)),
		}
	}

	it := p.addLocked(types.LiteratureItem{
		ContentHash: d.Hash,
		Filename:    filename,
		Format:      d.Format,
		SizeBytes:   int64(len(data)),
	}, data)
	return it, nil
}

// Add registers an item that was accepted elsewhere. It assigns the next
// citation index and sets the status to pending. An item whose content
// hash is already pooled is rejected as a duplicate.
func (p *Pool) Add(item types.LiteratureItem, data []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if item.ContentHash == "" {
		item.ContentHash = ingest.Fingerprint(data)
	}
	if _, dup := p.hashes[item.ContentHash]; dup {
		return "", &ingest.Rejection{Reason: ingest.ReasonDuplicate, Filename: item.Filename}
	}
	return p.addLocked(item, data).ID, nil
}

func (p *Pool) addLocked(item types.LiteratureItem, data []byte) types.LiteratureItem {
	p.next++
	if item.ID == "" {
		item.ID = p.newID()
	}
	item.CitationIndex = p.next
	item.Status = types.ItemPending
	item.Metadata = nil
	item.ErrorReason = ""
	if item.SizeBytes == 0 {
		item.SizeBytes = int64(len(data))
	}
	if item.UploadedAt.IsZero() {
		item.UploadedAt = p.now()
	}

	p.items[item.ID] = &entry{item: item, data: data}
	p.order = append(p.order, item.ID)
	p.hashes[item.ContentHash] = item.ID

	p.logger.Info().
		Str("id", item.ID).
		Int("index", item.CitationIndex).
		Str("filename", item.Filename).
		Msg("literature added")
	p.publishLocked()
	return item
}

// Remove deletes an item. Surviving items keep their citation indices.
func (p *Pool) Remove(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.items[id]
	if !ok {
		return fmt.Errorf("removing %s: %w", id, ErrNotFound)
	}
	delete(p.items, id)
	delete(p.hashes, e.item.ContentHash)
	p.order = slices.DeleteFunc(p.order, func(s string) bool { return s == id })

	p.logger.Info().Str("id", id).Int("index", e.item.CitationIndex).Msg("literature removed")
	p.publishLocked()
	return nil
}

// Clear removes every item and resets the citation index counter.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.items = make(map[string]*entry)
	p.hashes = make(map[string]string)
	p.order = nil
	p.next = 0

	p.logger.Info().Msg("pool cleared")
	p.publishLocked()
}

// Status returns the derived aggregate state and counts.
func (p *Pool) Status() types.PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Pool) statusLocked() types.PoolStatus {
	statuses := make([]types.ItemStatus, 0, len(p.items))
	for _, e := range p.items {
		statuses = append(statuses, e.item.Status)
	}
	return DeriveStatus(statuses)
}

func (p *Pool) publishLocked() {
	st := p.statusLocked()
	p.pub.Publish(events.Event{Type: events.PoolStatusChanged, Pool: &st})
}

// TotalRefs is the number of items in the pool regardless of status.
func (p *Pool) TotalRefs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Snapshot returns a copy of every item in citation index order together
// with the aggregate status observed at the same instant.
func (p *Pool) Snapshot() ([]types.LiteratureItem, types.PoolStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	items := make([]types.LiteratureItem, 0, len(p.order))
	for _, id := range p.order {
		items = append(items, cloneItem(p.items[id].item))
	}
	return items, p.statusLocked()
}

// Get returns a copy of one item.
func (p *Pool) Get(id string) (types.LiteratureItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.items[id]
	if !ok {
		return types.LiteratureItem{}, false
	}
	return cloneItem(e.item), true
}

// Content returns the raw upload bytes for an item. The slice must not be
// modified.
func (p *Pool) Content(id string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.items[id]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Pending returns the ids of items awaiting extraction, in index order.
func (p *Pool) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ids []string
	for _, id := range p.order {
		if p.items[id].item.Status == types.ItemPending {
			ids = append(ids, id)
		}
	}
	return ids
}

// MarkExtracting moves a pending item to extracting.
func (p *Pool) MarkExtracting(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.items[id]
	if !ok {
		return fmt.Errorf("marking %s extracting: %w", id, ErrNotFound)
	}
	if e.item.Status != types.ItemPending {
		return fmt.Errorf("marking %s extracting from %s: %w", id, e.item.Status, ErrNotPending)
	}
	e.item.Status = types.ItemExtracting
	p.publishLocked()
	return nil
}

// MarkExtracted records metadata and moves the item to ready.
func (p *Pool) MarkExtracted(id string, md types.Metadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.inFlightLocked(id)
	if err != nil {
		return err
	}
	md.Authors = slices.Clone(md.Authors)
	md.Keywords = slices.Clone(md.Keywords)
	e.item.Status = types.ItemReady
	e.item.Metadata = &md
	e.item.ErrorReason = ""
	p.publishLocked()
	return nil
}

// MarkFailed records a failure reason and moves the item to failed.
func (p *Pool) MarkFailed(id, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.inFlightLocked(id)
	if err != nil {
		return err
	}
	e.item.Status = types.ItemFailed
	e.item.Metadata = nil
	e.item.ErrorReason = reason
	p.logger.Warn().Str("id", id).Str("reason", reason).Msg("extraction failed")
	p.publishLocked()
	return nil
}

func (p *Pool) inFlightLocked(id string) (*entry, error) {
	e, ok := p.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if !e.item.Status.InFlight() {
		return nil, fmt.Errorf("item %s is %s: %w", id, e.item.Status, ErrNotPending)
	}
	return e, nil
}

func cloneItem(it types.LiteratureItem) types.LiteratureItem {
	if it.Metadata != nil {
		md := *it.Metadata
		md.Authors = slices.Clone(md.Authors)
		md.Keywords = slices.Clone(md.Keywords)
		it.Metadata = &md
	}
	return it
}

// DeriveStatus computes the aggregate state and counts from item statuses.
// Exactly one state holds for any input.
func DeriveStatus(statuses []types.ItemStatus) types.PoolStatus {
	var st types.PoolStatus
	var inFlight int
	for _, s := range statuses {
		st.FileCount++
		switch s {
		case types.ItemReady:
			st.ReadyCount++
			st.ProcessedCount++
		case types.ItemFailed:
			st.FailedCount++
			st.ProcessedCount++
		default:
			inFlight++
		}
	}

	switch {
	case st.FileCount == 0:
		st.State = types.PoolEmpty
	case inFlight > 0:
		st.State = types.PoolProcessing
	case st.FailedCount > 0:
		st.State = types.PoolError
	default:
		st.State = types.PoolReady
	}
	return st
}
