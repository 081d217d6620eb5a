package service

import (
	"context"
	"time"

	"github.com/user/llm-gateway-go/internal/repository"
	"go.uber.org/zap"
)

// RetentionService deletes request logs older than the retention window,
// once a day at the configured hour.
type RetentionService struct {
	logRepo     repository.RequestLogRepository
	days        int
	cleanupHour int
	logger      *zap.Logger
}

// NewRetentionService creates a RetentionService. days <= 0 disables
// cleanup.
func NewRetentionService(logRepo repository.RequestLogRepository, days, cleanupHour int, logger *zap.Logger) *RetentionService {
	return &RetentionService{
		logRepo:     logRepo,
		days:        days,
		cleanupHour: cleanupHour,
		logger:      logger,
	}
}

// Start runs the cleanup loop until ctx is cancelled.
func (s *RetentionService) Start(ctx context.Context) {
	if s.days <= 0 {
		s.logger.Info("log retention disabled")
		return
	}
	s.logger.Info("log retention scheduler started",
		zap.Int("days", s.days),
		zap.Int("cleanup_hour", s.cleanupHour))

	for {
		timer := time.NewTimer(time.Until(s.nextRun(time.Now())))
		select {
		case <-timer.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// RunOnce performs one cleanup pass.
func (s *RetentionService) RunOnce(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.days)
	deleted, err := s.logRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("request log cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("request logs cleaned up",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
}

// nextRun returns the next occurrence of the cleanup hour after now.
func (s *RetentionService) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cleanupHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
