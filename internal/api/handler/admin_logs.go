package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-gateway-go/internal/models"
	"github.com/user/llm-gateway-go/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultLogPageSize = 50
	maxLogPageSize     = 500
)

// LogsHandler serves the /admin/logs query surface.
type LogsHandler struct {
	logRepo repository.RequestLogRepository
	logger  *zap.Logger
}

// NewLogsHandler creates a LogsHandler.
func NewLogsHandler(logRepo repository.RequestLogRepository, logger *zap.Logger) *LogsHandler {
	return &LogsHandler{logRepo: logRepo, logger: logger}
}

// List handles GET /admin/logs with pagination and optional model,
// provider and time-range filters.
func (h *LogsHandler) List(c *gin.Context) {
	limit, offset, err := paginationBounds(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	var modelName, providerName *string
	if v := c.Query("model"); v != "" {
		modelName = &v
	}
	if v := c.Query("provider"); v != "" {
		providerName = &v
	}

	startTime, err := timeParam(c, "start_time")
	if err != nil {
		abortWithError(c, err)
		return
	}
	endTime, err := timeParam(c, "end_time")
	if err != nil {
		abortWithError(c, err)
		return
	}

	logs, total, err := h.logRepo.List(c.Request.Context(), limit, offset, modelName, providerName, startTime, endTime)
	if err != nil {
		h.logger.Error("list request logs", zap.Error(err))
		abortWithError(c, models.NewAppError("list request logs"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":   logs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get handles GET /admin/logs/:id.
func (h *LogsHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	log, err := h.logRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("log_not_found", "request log not found"))
			return
		}
		h.logger.Error("get request log", zap.Int64("id", id), zap.Error(err))
		abortWithError(c, models.NewAppError("get request log"))
		return
	}
	c.JSON(http.StatusOK, log)
}

// GetByTrace handles GET /admin/logs/trace/:trace_id.
func (h *LogsHandler) GetByTrace(c *gin.Context) {
	traceID := c.Param("trace_id")
	log, err := h.logRepo.GetByTraceID(c.Request.Context(), traceID)
	if err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("log_not_found", "request log not found"))
			return
		}
		h.logger.Error("get request log by trace", zap.String("trace_id", traceID), zap.Error(err))
		abortWithError(c, models.NewAppError("get request log"))
		return
	}
	c.JSON(http.StatusOK, log)
}

func paginationBounds(c *gin.Context) (limit, offset int, err error) {
	limit = defaultLogPageSize
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxLogPageSize {
			return 0, 0, models.NewValidationError("invalid_limit",
				"limit must be between 1 and "+strconv.Itoa(maxLogPageSize))
		}
	}
	if v := c.Query("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, models.NewValidationError("invalid_offset", "offset must not be negative")
		}
	}
	return limit, offset, nil
}

func timeParam(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, models.NewValidationError("invalid_"+name, name+" must be RFC3339")
	}
	return &t, nil
}
