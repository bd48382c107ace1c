// Package audit tracks which applications are already indexed,
// enforcing at-most-once indexing per application and collection.
package audit

import (
	"context"
	"fmt"
	"sync"
)

// Ledger is the durable backing store of processed-application marks.
// The vector store itself implements it, so crash recovery only needs
// a refresh from authoritative store state at startup.
type Ledger interface {
	ListProcessed(ctx context.Context) ([]string, error)
	MarkProcessed(ctx context.Context, appID string, stages, records int) error
	ClearProcessed(ctx context.Context, appID string) error
}

// Set is the in-memory view of the processed set plus in-flight
// claims. Check-then-claim is atomic per application, so two workers
// can never double-index the same application, including under forced
// reprocess.
type Set struct {
	ledger Ledger

	mu      sync.Mutex
	done    map[string]struct{}
	claimed map[string]struct{}
}

// NewSet creates an empty set over the given ledger.
func NewSet(ledger Ledger) *Set {
	return &Set{
		ledger:  ledger,
		done:    make(map[string]struct{}),
		claimed: make(map[string]struct{}),
	}
}

// Refresh rebuilds membership from the ledger. Local state from a
// previous run is never trusted: a crash between a batch write and its
// processed mark is healed here.
func (s *Set) Refresh(ctx context.Context) error {
	ids, err := s.ledger.ListProcessed(ctx)
	if err != nil {
		return fmt.Errorf("refresh processed set: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.done[id] = struct{}{}
	}
	return nil
}

// Contains reports whether the application is already indexed.
func (s *Set) Contains(appID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.done[appID]
	return ok
}

// Len returns the number of indexed applications.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.done)
}

// Claim atomically reserves an application for processing. Returns
// false when the application is already indexed (and force is unset)
// or another worker holds the claim. With force set, an existing
// processed mark does not block the claim.
func (s *Set) Claim(appID string, force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.claimed[appID]; busy {
		return false
	}
	if _, ok := s.done[appID]; ok && !force {
		return false
	}
	s.claimed[appID] = struct{}{}
	return true
}

// Release drops a claim without marking processed, after a failed
// application.
func (s *Set) Release(appID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, appID)
}

// Complete durably marks an application processed and releases the
// claim. The ledger write happens before local state changes, so a
// failure leaves the application claimable on the next run.
func (s *Set) Complete(ctx context.Context, appID string, stages, records int) error {
	if err := s.ledger.MarkProcessed(ctx, appID, stages, records); err != nil {
		s.Release(appID)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[appID] = struct{}{}
	delete(s.claimed, appID)
	return nil
}

// Forget clears an application's durable processed mark ahead of
// forced reprocessing.
func (s *Set) Forget(ctx context.Context, appID string) error {
	if err := s.ledger.ClearProcessed(ctx, appID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.done, appID)
	return nil
}
