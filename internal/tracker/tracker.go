// Package tracker persists per-work-item phase progress across runs.
package tracker

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/stancelab/hansard-cli/internal/model"
)

// Ledger is the persistence backend for the work-item state map. The store
// writes through it synchronously on every transition.
type Ledger interface {
	Load() (map[string]model.ItemState, error)
	Save(items map[string]model.ItemState) error
}

// Store tracks the phase state of every (member, topic) work item. All
// transitions are persisted before they are reported as applied; a write
// failure surfaces to the caller and the in-memory state is not advanced.
type Store struct {
	mu     sync.Mutex
	ledger Ledger
	items  map[string]model.ItemState
}

// NewStore loads existing item state through the ledger.
func NewStore(ledger Ledger) (*Store, error) {
	items, err := ledger.Load()
	if err != nil {
		return nil, eris.Wrap(err, "tracker: load state")
	}
	if items == nil {
		items = map[string]model.ItemState{}
	}
	return &Store{ledger: ledger, items: items}, nil
}

// Pending returns the subset of candidates still awaiting the given phase.
// Items with no stored entry are implicitly pending. For the score phase
// only items that have completed filtering qualify.
func (s *Store) Pending(phase model.Phase, candidates []model.WorkItem) []model.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []model.WorkItem
	for _, item := range candidates {
		state, ok := s.items[item.Key()]
		switch phase {
		case model.PhaseScore:
			if ok && state.Status == model.StatusFilterComplete {
				pending = append(pending, item)
			}
		default:
			if !ok || state.Status == model.StatusPending {
				pending = append(pending, item)
			}
		}
	}
	return pending
}

// MarkComplete records phase completion for the item with the batch jobs
// that produced it, persisting before returning. Completing the filter
// phase again preserves any score batch ids already recorded.
func (s *Store) MarkComplete(item model.WorkItem, phase model.Phase, batchJobIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	state := s.items[item.Key()]

	switch phase {
	case model.PhaseFilter:
		state.Status = model.StatusFilterComplete
		state.FilterBatchJobIDs = batchJobIDs
		state.FilterCompletedAt = &now
	case model.PhaseScore:
		state.Status = model.StatusScoreComplete
		state.ScoreBatchJobIDs = batchJobIDs
		state.ScoreCompletedAt = &now
	default:
		return eris.Errorf("tracker: unknown phase %q", phase)
	}

	return s.persist(item.Key(), state)
}

// Reset forces items backward for reprocessing. For the filter phase (or
// an empty phase) items return to pending. For the score phase only items
// currently score-complete step back to filter-complete; others are left
// untouched.
func (s *Store) Reset(items []model.WorkItem, phase model.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	next := make(map[string]model.ItemState, len(s.items))
	for k, v := range s.items {
		next[k] = v
	}

	for _, item := range items {
		state, ok := next[item.Key()]
		if !ok {
			continue
		}
		switch phase {
		case model.PhaseScore:
			if state.Status == model.StatusScoreComplete {
				state.Status = model.StatusFilterComplete
				next[item.Key()] = state
				changed = true
			}
		default:
			state.Status = model.StatusPending
			next[item.Key()] = state
			changed = true
		}
	}

	if !changed {
		return nil
	}
	if err := s.ledger.Save(next); err != nil {
		return eris.Wrap(err, "tracker: persist state")
	}
	s.items = next
	return nil
}

// Statistics counts tracked items per state.
func (s *Store) Statistics() model.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := model.Statistics{Total: len(s.items)}
	for _, state := range s.items {
		switch state.Status {
		case model.StatusFilterComplete:
			stats.FilterComplete++
		case model.StatusScoreComplete:
			stats.ScoreComplete++
		default:
			stats.Pending++
		}
	}
	return stats
}

// State returns the stored state for an item, if any.
func (s *Store) State(item model.WorkItem) (model.ItemState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.items[item.Key()]
	return state, ok
}

// persist writes the state map with the pending mutation applied, keeping
// in-memory state unchanged on failure. Callers hold the lock.
func (s *Store) persist(key string, state model.ItemState) error {
	next := make(map[string]model.ItemState, len(s.items)+1)
	for k, v := range s.items {
		next[k] = v
	}
	next[key] = state

	if err := s.ledger.Save(next); err != nil {
		return eris.Wrap(err, "tracker: persist state")
	}
	s.items = next
	return nil
}
