//go:build !integration && !e2e
// +build !integration,!e2e

package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/user/llm-gateway-go/internal/models"
	"go.uber.org/zap"
)

func namedCandidates(names ...string) []*models.CandidateProvider {
	out := make([]*models.CandidateProvider, len(names))
	for i, name := range names {
		out[i] = &models.CandidateProvider{ProviderID: int64(i + 1), Name: name}
	}
	return out
}

// scriptedForward returns one canned response per call, recording which
// candidate each attempt hit. Extra calls repeat the last response.
func scriptedForward(calls *[]string, responses ...*ProviderResponse) ForwardFunc {
	i := 0
	return func(_ context.Context, cand *models.CandidateProvider) *ForwardResult {
		*calls = append(*calls, cand.Name)
		resp := responses[len(responses)-1]
		if i < len(responses) {
			resp = responses[i]
		}
		i++
		return &ForwardResult{Response: resp}
	}
}

func status(code int) *ProviderResponse {
	return &ProviderResponse{StatusCode: code, Body: []byte(`{}`)}
}

func newTestRetryHandler(maxRetries int) *RetryHandler {
	return NewRetryHandler(NewRoundRobinStrategy(), maxRetries, time.Millisecond, zap.NewNop())
}

func TestRetry_SuccessFirstAttempt(t *testing.T) {
	h := newTestRetryHandler(3)
	var calls []string

	outcome := h.Execute(context.Background(), namedCandidates("alpha"), "gpt-4",
		scriptedForward(&calls, status(200)))

	assert.Equal(t, []string{"alpha"}, calls)
	assert.Equal(t, 200, outcome.Result.Response.StatusCode)
	assert.Equal(t, 0, outcome.RetryCount)
	assert.Equal(t, "alpha", outcome.Candidate.Name)
}

func TestRetry_ServerErrorRetriedOnSameCandidate(t *testing.T) {
	h := newTestRetryHandler(3)
	var calls []string

	outcome := h.Execute(context.Background(), namedCandidates("alpha"), "gpt-4",
		scriptedForward(&calls, status(500), status(500), status(200)))

	assert.Equal(t, []string{"alpha", "alpha", "alpha"}, calls)
	assert.Equal(t, 200, outcome.Result.Response.StatusCode)
	assert.Equal(t, 2, outcome.RetryCount)
}

func TestRetry_ClientErrorFailsOverImmediately(t *testing.T) {
	h := newTestRetryHandler(3)
	var calls []string

	outcome := h.Execute(context.Background(), namedCandidates("alpha", "beta"), "gpt-4",
		scriptedForward(&calls, status(401), status(200)))

	// No retry on the 4xx: one attempt on alpha, then beta.
	assert.Equal(t, []string{"alpha", "beta"}, calls)
	assert.Equal(t, 200, outcome.Result.Response.StatusCode)
	assert.Equal(t, 1, outcome.RetryCount)
	assert.Equal(t, "beta", outcome.Candidate.Name)
}

func TestRetry_TransportFailureRetried(t *testing.T) {
	h := newTestRetryHandler(1)
	var calls []string
	failure := &ProviderResponse{StatusCode: http.StatusBadGateway, Err: "connection refused"}

	outcome := h.Execute(context.Background(), namedCandidates("alpha"), "gpt-4",
		scriptedForward(&calls, failure, status(200)))

	assert.Equal(t, []string{"alpha", "alpha"}, calls)
	assert.Equal(t, 200, outcome.Result.Response.StatusCode)
	assert.Equal(t, 1, outcome.RetryCount)
}

// With N candidates and R retries each, exhaustion takes exactly N*(R+1)
// attempts and yields a synthesized 503 naming every provider tried.
func TestRetry_AllCandidatesExhausted(t *testing.T) {
	const maxRetries = 3
	h := newTestRetryHandler(maxRetries)
	var calls []string

	outcome := h.Execute(context.Background(), namedCandidates("alpha", "beta"), "gpt-4",
		scriptedForward(&calls, status(500)))

	assert.Len(t, calls, 2*(maxRetries+1))
	assert.Equal(t, []string{"alpha", "alpha", "alpha", "alpha", "beta", "beta", "beta", "beta"}, calls)

	resp := outcome.Result.Response
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, resp.Err)

	body := gjson.ParseBytes(resp.Body)
	assert.Equal(t, "service_unavailable", body.Get("error.type").String())
	assert.Equal(t, "all providers failed: tried alpha, beta", body.Get("error.message").String())
	assert.Equal(t, 2*(maxRetries+1)-1, outcome.RetryCount)
}

func TestRetry_FailoverResetsAttemptBudget(t *testing.T) {
	h := newTestRetryHandler(2)
	var calls []string

	// alpha burns its 3 attempts, beta gets a fresh budget and succeeds on
	// its second.
	outcome := h.Execute(context.Background(), namedCandidates("alpha", "beta"), "gpt-4",
		scriptedForward(&calls, status(500), status(500), status(500), status(502), status(200)))

	assert.Equal(t, []string{"alpha", "alpha", "alpha", "beta", "beta"}, calls)
	assert.Equal(t, 200, outcome.Result.Response.StatusCode)
	assert.Equal(t, 4, outcome.RetryCount)
}

func TestRetry_NoCandidates(t *testing.T) {
	h := newTestRetryHandler(3)

	outcome := h.Execute(context.Background(), nil, "gpt-4",
		func(context.Context, *models.CandidateProvider) *ForwardResult {
			t.Fatal("forward must not be called")
			return nil
		})

	resp := outcome.Result.Response
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "no available providers", gjson.ParseBytes(resp.Body).Get("error.message").String())
	assert.Nil(t, outcome.Candidate)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	h := NewRetryHandler(NewRoundRobinStrategy(), 3, 200*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	var calls []string

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	outcome := h.Execute(ctx, namedCandidates("alpha"), "gpt-4",
		scriptedForward(&calls, status(500)))

	// The backoff aborted: only the first attempt ran.
	assert.Equal(t, []string{"alpha"}, calls)
	assert.Equal(t, 500, outcome.Result.Response.StatusCode)
}

func TestRetry_ZeroMaxRetriesFailsOverDirectly(t *testing.T) {
	h := newTestRetryHandler(0)
	var calls []string

	outcome := h.Execute(context.Background(), namedCandidates("alpha", "beta"), "gpt-4",
		scriptedForward(&calls, status(500), status(200)))

	assert.Equal(t, []string{"alpha", "beta"}, calls)
	assert.Equal(t, 200, outcome.Result.Response.StatusCode)
}
