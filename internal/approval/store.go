// Package approval holds the human-in-the-loop boundary: pending
// recommendations, the approve/reject state machine, and the supervised
// executions that approval launches.
package approval

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/firstcontact-eis/coordinator/internal/model"
)

var (
	// ErrNotFound means the recommendation id is unknown.
	ErrNotFound = errors.New("approval: recommendation not found")
	// ErrInvalidTransition means the requested status change is not a legal
	// step in the recommendation state machine.
	ErrInvalidTransition = errors.New("approval: invalid status transition")
)

// Store is the in-memory recommendation registry. It is the authoritative
// in-process state; the storage archive, when configured, only mirrors it
// for audit. Pending entries live until acted on: there is no TTL, a
// caseworker decision days later is still valid.
type Store struct {
	mu   sync.Mutex
	recs map[uuid.UUID]model.Recommendation
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{recs: make(map[uuid.UUID]model.Recommendation)}
}

// Put inserts or replaces a recommendation snapshot.
func (s *Store) Put(rec model.Recommendation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
}

// Get returns one recommendation.
func (s *Store) Get(id uuid.UUID) (model.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return model.Recommendation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// ListPending returns recommendations awaiting approval, newest first.
func (s *Store) ListPending() []model.Recommendation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Recommendation
	for _, rec := range s.recs {
		if rec.Status == model.StatusPendingApproval {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Approve moves a pending recommendation to executing and records who
// approved it. The returned snapshot is what the caller should execute.
func (s *Store) Approve(id uuid.UUID, approvedBy string) (model.Recommendation, error) {
	return s.transition(id, model.StatusExecuting, approvedBy)
}

// Reject marks a pending recommendation rejected.
func (s *Store) Reject(id uuid.UUID) (model.Recommendation, error) {
	return s.transition(id, model.StatusRejected, "")
}

// SetOutcome records the terminal status of an executed recommendation.
func (s *Store) SetOutcome(id uuid.UUID, status model.RecommendationStatus) (model.Recommendation, error) {
	return s.transition(id, status, "")
}

func (s *Store) transition(id uuid.UUID, next model.RecommendationStatus, approvedBy string) (model.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return model.Recommendation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !rec.Status.CanTransition(next) {
		return model.Recommendation{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, next)
	}
	rec.Status = next
	rec.UpdatedAt = time.Now().UTC()
	if approvedBy != "" {
		rec.ApprovedBy = approvedBy
	}
	s.recs[id] = rec
	return rec, nil
}
