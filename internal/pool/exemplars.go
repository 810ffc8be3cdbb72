// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pool

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/review-engine/internal/ingest"
	"github.com/pdiddy/review-engine/pkg/types"
)

// Exemplars is the deduplicated set of published reviews used as style
// references by the paradigm stage. It has no citation indices and no
// extraction lifecycle.
type Exemplars struct {
	mu     sync.Mutex
	items  []types.Exemplar
	limits ingest.Limits
	now    func() time.Time
}

// NewExemplars returns an empty exemplar set with the pool's upload limits.
func NewExemplars(cfg types.PoolConfig) *Exemplars {
	return &Exemplars{limits: ingest.LimitsFrom(cfg), now: time.Now}
}

type exemplarIndex struct{ items []types.Exemplar }

func (x exemplarIndex) HasHash(hash string) bool {
	return slices.ContainsFunc(x.items, func(e types.Exemplar) bool { return e.ContentHash == hash })
}

// Submit checks and stores an exemplar upload.
func (x *Exemplars) Submit(data []byte, filename string) (types.Exemplar, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	d := ingest.Check(data, filename, x.limits, exemplarIndex{x.items})
	if !d.Accepted {
		return types.Exemplar{}, d.Reject
	}
	ex := types.Exemplar{
		ID:          uuid.NewString(),
		ContentHash: d.Hash,
		Filename:    filename,
		Format:      d.Format,
		SizeBytes:   int64(len(data)),
		Data:        data,
		UploadedAt:  x.now(),
	}
	x.items = append(x.items, ex)
	return ex, nil
}

// Remove deletes one exemplar.
func (x *Exemplars) Remove(id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	n := len(x.items)
	x.items = slices.DeleteFunc(x.items, func(e types.Exemplar) bool { return e.ID == id })
	if len(x.items) == n {
		return fmt.Errorf("removing exemplar %s: %w", id, ErrNotFound)
	}
	return nil
}

// Clear removes every exemplar.
func (x *Exemplars) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.items = nil
}

// List returns the exemplars in upload order.
func (x *Exemplars) List() []types.Exemplar {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Clone(x.items)
}

// Len returns the number of exemplars.
func (x *Exemplars) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.items)
}
