//go:build !integration && !e2e
// +build !integration,!e2e

package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/llm-gateway-go/internal/models"
)

func makeCandidates(n int) []*models.CandidateProvider {
	out := make([]*models.CandidateProvider, n)
	for i := range out {
		out[i] = &models.CandidateProvider{ProviderID: int64(i + 1)}
	}
	return out
}

func TestRoundRobin_Rotation(t *testing.T) {
	s := NewRoundRobinStrategy()
	candidates := makeCandidates(3)

	var picked []int64
	for i := 0; i < 7; i++ {
		picked = append(picked, s.Select(candidates, "gpt-4").ProviderID)
	}
	assert.Equal(t, []int64{1, 2, 3, 1, 2, 3, 1}, picked)
}

func TestRoundRobin_PerModelCounters(t *testing.T) {
	s := NewRoundRobinStrategy()
	candidates := makeCandidates(2)

	assert.Equal(t, int64(1), s.Select(candidates, "gpt-4").ProviderID)
	// A different model starts from its own counter.
	assert.Equal(t, int64(1), s.Select(candidates, "claude-3").ProviderID)
	assert.Equal(t, int64(2), s.Select(candidates, "gpt-4").ProviderID)
	assert.Equal(t, int64(2), s.Select(candidates, "claude-3").ProviderID)
}

func TestRoundRobin_EmptyCandidates(t *testing.T) {
	s := NewRoundRobinStrategy()
	assert.Nil(t, s.Select(nil, "gpt-4"))
	assert.Nil(t, s.Select([]*models.CandidateProvider{}, "gpt-4"))
}

// Concurrent selections must advance the counter exactly once each: with
// N*len(candidates) selections every candidate is picked exactly N times.
func TestRoundRobin_ConcurrentSelectionsBalanced(t *testing.T) {
	s := NewRoundRobinStrategy()
	candidates := makeCandidates(4)
	const perCandidate = 25
	total := perCandidate * len(candidates)

	picks := make([]*models.CandidateProvider, total)
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			picks[i] = s.Select(candidates, "gpt-4")
		}(i)
	}
	wg.Wait()

	counts := make(map[int64]int)
	for _, p := range picks {
		require.NotNil(t, p)
		counts[p.ProviderID]++
	}
	for _, c := range candidates {
		assert.Equal(t, perCandidate, counts[c.ProviderID])
	}
}

func TestRoundRobin_GetNextWrapsAround(t *testing.T) {
	s := NewRoundRobinStrategy()
	candidates := makeCandidates(3)

	assert.Same(t, candidates[1], s.GetNext(candidates, candidates[0]))
	assert.Same(t, candidates[2], s.GetNext(candidates, candidates[1]))
	assert.Same(t, candidates[0], s.GetNext(candidates, candidates[2]))
}

func TestRoundRobin_GetNextNilCases(t *testing.T) {
	s := NewRoundRobinStrategy()
	candidates := makeCandidates(3)

	assert.Nil(t, s.GetNext(makeCandidates(1), makeCandidates(1)[0]))
	assert.Nil(t, s.GetNext(nil, candidates[0]))
	assert.Nil(t, s.GetNext(candidates, nil))
	// current not in the list: identity comparison, not value comparison.
	assert.Nil(t, s.GetNext(candidates, &models.CandidateProvider{ProviderID: 1}))
}

func TestRoundRobin_Reset(t *testing.T) {
	s := NewRoundRobinStrategy()
	candidates := makeCandidates(3)

	s.Select(candidates, "gpt-4")
	s.Select(candidates, "gpt-4")
	s.Reset()
	assert.Equal(t, int64(1), s.Select(candidates, "gpt-4").ProviderID)
}
