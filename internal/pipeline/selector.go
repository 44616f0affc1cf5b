package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

// Selector turns catalog candidates into the ordered work list for one invocation.
type Selector struct {
	catalog csr.Catalog
	seed    uint64
	limit   int
}

// NewSelector builds a Selector. A zero seed picks a time-based seed; a zero limit
// selects everything.
func NewSelector(catalog csr.Catalog, seed uint64, limit int) *Selector {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Selector{catalog: catalog, seed: seed, limit: limit}
}

// Seed reports the seed in use so a run can be reproduced.
func (s *Selector) Seed() uint64 {
	return s.seed
}

// Select reads candidates for every predicate before any work starts, keeps the first
// occurrence of each key, shuffles, and applies the limit. Selecting up front keeps an
// item that fails in one phase from being picked up again by a later phase of the
// same invocation.
func (s *Selector) Select(ctx context.Context, predicates ...csr.Predicate) ([]csr.WorkItem, error) {
	seen := make(map[csr.Key]struct{})
	var items []csr.WorkItem
	for _, predicate := range predicates {
		candidates, err := s.catalog.SelectMissing(ctx, predicate)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", predicate, err)
		}
		for _, item := range candidates {
			if _, dup := seen[item.Key()]; dup {
				continue
			}
			seen[item.Key()] = struct{}{}
			items = append(items, item)
		}
	}

	rng := rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15)) //nolint:gosec // ordering only
	rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})

	if s.limit > 0 && len(items) > s.limit {
		items = items[:s.limit]
	}
	return items, nil
}
