package service

import (
	"sync"

	"github.com/user/llm-gateway-go/internal/models"
)

// SelectionStrategy picks one candidate from a matched list.
type SelectionStrategy interface {
	// Select picks the candidate for a new request.
	Select(candidates []*models.CandidateProvider, requestedModel string) *models.CandidateProvider
	// GetNext returns the candidate after current in ring order, or nil
	// when there is no other candidate to fail over to.
	GetNext(candidates []*models.CandidateProvider, current *models.CandidateProvider) *models.CandidateProvider
}

// RoundRobinStrategy rotates through candidates per requested model. One
// instance serves the whole process; counters survive across requests and
// reset only on restart or an explicit Reset.
type RoundRobinStrategy struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewRoundRobinStrategy creates an empty strategy.
func NewRoundRobinStrategy() *RoundRobinStrategy {
	return &RoundRobinStrategy{counters: make(map[string]uint64)}
}

// Select picks candidates[counter % len] and advances the counter
// atomically: two concurrent calls on the same model advance it by
// exactly two.
func (s *RoundRobinStrategy) Select(candidates []*models.CandidateProvider, requestedModel string) *models.CandidateProvider {
	if len(candidates) == 0 {
		return nil
	}
	s.mu.Lock()
	i := s.counters[requestedModel] % uint64(len(candidates))
	s.counters[requestedModel]++
	s.mu.Unlock()
	return candidates[i]
}

// GetNext returns the candidate following current in the list, wrapping
// around; nil if the list has one entry or fewer, or current is not in it.
func (s *RoundRobinStrategy) GetNext(candidates []*models.CandidateProvider, current *models.CandidateProvider) *models.CandidateProvider {
	if len(candidates) <= 1 || current == nil {
		return nil
	}
	for i, c := range candidates {
		if c == current {
			return candidates[(i+1)%len(candidates)]
		}
	}
	return nil
}

// Reset clears all counters. Intended for tests.
func (s *RoundRobinStrategy) Reset() {
	s.mu.Lock()
	s.counters = make(map[string]uint64)
	s.mu.Unlock()
}
