package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/user/llm-gateway-go/internal/models"
	"go.uber.org/zap"
)

// ForwardFunc performs one upstream attempt against a candidate.
type ForwardFunc func(ctx context.Context, candidate *models.CandidateProvider) *ForwardResult

// RetryOutcome is the terminal state of a retry run.
type RetryOutcome struct {
	Result    *ForwardResult
	Candidate *models.CandidateProvider // nil when no candidate produced the final response
	// RetryCount is total attempts minus one: the extra work beyond the
	// first attempt.
	RetryCount int
}

// RetryHandler drives upstream attempts through retry and failover:
// a 5xx or transport failure is retried on the same candidate up to
// maxRetries times, then the strategy's next candidate takes over; a 4xx
// fails over immediately. Exhausting all candidates yields a synthetic 503.
type RetryHandler struct {
	strategy   SelectionStrategy
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewRetryHandler creates a RetryHandler.
func NewRetryHandler(strategy SelectionStrategy, maxRetries int, retryDelay time.Duration, logger *zap.Logger) *RetryHandler {
	return &RetryHandler{
		strategy:   strategy,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Execute runs the state machine over the candidate list. candidates must
// be non-empty.
func (h *RetryHandler) Execute(ctx context.Context, candidates []*models.CandidateProvider, requestedModel string, forward ForwardFunc) *RetryOutcome {
	current := h.strategy.Select(candidates, requestedModel)
	if current == nil {
		return &RetryOutcome{Result: &ForwardResult{Response: serviceUnavailable("no available providers")}}
	}

	attemptsOnCurrent := 0
	totalAttempts := 0
	firstCandidate := current
	triedNames := []string{current.Name}

	for {
		totalAttempts++
		result := forward(ctx, current)
		resp := result.Response

		if resp.Success() {
			return &RetryOutcome{Result: result, Candidate: current, RetryCount: totalAttempts - 1}
		}

		retriable := resp.StatusCode >= 500 || resp.Err != ""
		if retriable && attemptsOnCurrent < h.maxRetries {
			attemptsOnCurrent++
			h.logger.Warn("upstream attempt failed, retrying",
				zap.String("provider", current.Name),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attemptsOnCurrent),
				zap.String("error", resp.Err))
			if err := sleepCtx(ctx, h.retryDelay); err != nil {
				return &RetryOutcome{Result: result, Candidate: current, RetryCount: totalAttempts - 1}
			}
			continue
		}

		next := h.strategy.GetNext(candidates, current)
		if next == nil || next == firstCandidate {
			h.logger.Warn("candidates exhausted",
				zap.String("model", requestedModel),
				zap.String("provider", current.Name),
				zap.Int("status", resp.StatusCode))
			return &RetryOutcome{
				Result:     &ForwardResult{Response: exhaustedResponse(triedNames)},
				Candidate:  current,
				RetryCount: totalAttempts - 1,
			}
		}

		h.logger.Warn("failing over to next provider",
			zap.String("from", current.Name),
			zap.String("to", next.Name),
			zap.Int("status", resp.StatusCode))
		current = next
		triedNames = append(triedNames, current.Name)
		attemptsOnCurrent = 0
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func exhaustedResponse(triedNames []string) *ProviderResponse {
	msg := fmt.Sprintf("all providers failed: tried %s", strings.Join(triedNames, ", "))
	return serviceUnavailable(msg)
}

func serviceUnavailable(msg string) *ProviderResponse {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"type":    "service_unavailable",
			"message": msg,
		},
	})
	return &ProviderResponse{
		StatusCode: http.StatusServiceUnavailable,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
		Err:        msg,
	}
}
