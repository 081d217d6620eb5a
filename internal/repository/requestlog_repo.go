package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/user/llm-gateway-go/internal/models"
	"go.uber.org/zap"
)

// SQLRequestLogRepository implements RequestLogRepository using
// database/sql. List queries run against a separate read-only pool when one
// is supplied, keeping log browsing off the write path.
type SQLRequestLogRepository struct {
	db     *sql.DB
	readDB *sql.DB
	logger *zap.Logger
}

// NewRequestLogRepository creates a new SQLRequestLogRepository. readDB may
// be nil, in which case db serves reads too.
func NewRequestLogRepository(db *sql.DB, readDB *sql.DB, logger *zap.Logger) *SQLRequestLogRepository {
	if readDB == nil {
		readDB = db
	}
	return &SQLRequestLogRepository{db: db, readDB: readDB, logger: logger}
}

const requestLogColumns = `id, trace_id, request_time, api_key_id, api_key_name,
	requested_model, target_model, provider_id, provider_name,
	retry_count, matched_provider_count, first_byte_delay_ms, total_time_ms,
	input_tokens, output_tokens, request_headers, request_body, converted_request_body,
	response_status, response_body, upstream_response_body, response_headers,
	error_info, is_stream, request_protocol, supplier_protocol`

func (r *SQLRequestLogRepository) Insert(ctx context.Context, e *models.RequestLogEntry) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO request_logs (trace_id, request_time, api_key_id, api_key_name,
			requested_model, target_model, provider_id, provider_name,
			retry_count, matched_provider_count, first_byte_delay_ms, total_time_ms,
			input_tokens, output_tokens, request_headers, request_body, converted_request_body,
			response_status, response_body, upstream_response_body, response_headers,
			error_info, is_stream, request_protocol, supplier_protocol)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TraceID, e.RequestTime.UTC().Format("2006-01-02 15:04:05.000"),
		e.APIKeyID, e.APIKeyName,
		e.RequestedModel, e.TargetModel, e.ProviderID, e.ProviderName,
		e.RetryCount, e.MatchedProviderCount, e.FirstByteDelayMS, e.TotalTimeMS,
		e.InputTokens, e.OutputTokens, e.RequestHeaders, e.RequestBody, e.ConvertedRequestBody,
		e.ResponseStatus, e.ResponseBody, e.UpstreamResponseBody, e.ResponseHeaders,
		e.ErrorInfo, boolToInt(e.IsStream), e.RequestProtocol, e.SupplierProtocol)
	if err != nil {
		return 0, fmt.Errorf("failed to insert request log: %w", err)
	}
	return result.LastInsertId()
}

func (r *SQLRequestLogRepository) GetByID(ctx context.Context, id int64) (*models.RequestLog, error) {
	row := r.readDB.QueryRowContext(ctx,
		`SELECT `+requestLogColumns+` FROM request_logs WHERE id = ?`, id)
	return scanRequestLog(row)
}

func (r *SQLRequestLogRepository) GetByTraceID(ctx context.Context, traceID string) (*models.RequestLog, error) {
	row := r.readDB.QueryRowContext(ctx,
		`SELECT `+requestLogColumns+` FROM request_logs WHERE trace_id = ? ORDER BY id LIMIT 1`, traceID)
	return scanRequestLog(row)
}

func (r *SQLRequestLogRepository) List(
	ctx context.Context,
	limit, offset int,
	modelName, providerName *string,
	startTime, endTime *time.Time,
) ([]*models.RequestLog, int64, error) {
	var conds []string
	var params []any

	if modelName != nil && *modelName != "" {
		conds = append(conds, "requested_model = ?")
		params = append(params, *modelName)
	}
	if providerName != nil && *providerName != "" {
		conds = append(conds, "provider_name = ?")
		params = append(params, *providerName)
	}
	if startTime != nil {
		conds = append(conds, "request_time >= ?")
		params = append(params, startTime.UTC().Format("2006-01-02 15:04:05.000"))
	}
	if endTime != nil {
		conds = append(conds, "request_time <= ?")
		params = append(params, endTime.UTC().Format("2006-01-02 15:04:05.000"))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.readDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM request_logs"+where, params...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + requestLogColumns + ` FROM request_logs` + where +
		` ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := r.readDB.QueryContext(ctx, query, append(params, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*models.RequestLog
	for rows.Next() {
		l, err := scanRequestLog(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, l)
	}
	return result, total, rows.Err()
}

// DeleteOlderThan removes log rows older than the cutoff; used by the
// retention scheduler.
func (r *SQLRequestLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM request_logs WHERE request_time < ?`,
		cutoff.UTC().Format("2006-01-02 15:04:05.000"))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old request logs: %w", err)
	}
	return res.RowsAffected()
}

func scanRequestLog(s scanner) (*models.RequestLog, error) {
	var l models.RequestLog
	var requestTime sql.NullTime
	var apiKeyID, providerID sql.NullInt64
	var firstByte, totalTime sql.NullInt64
	var responseStatus sql.NullInt64
	var apiKeyName, targetModel, providerName sql.NullString
	var reqHeaders, reqBody, convBody, respBody, upstreamBody, respHeaders, errorInfo sql.NullString
	var reqProtocol, supProtocol sql.NullString
	var isStream int

	err := s.Scan(&l.ID, &l.TraceID, &requestTime, &apiKeyID, &apiKeyName,
		&l.RequestedModel, &targetModel, &providerID, &providerName,
		&l.RetryCount, &l.MatchedProviderCount, &firstByte, &totalTime,
		&l.InputTokens, &l.OutputTokens, &reqHeaders, &reqBody, &convBody,
		&responseStatus, &respBody, &upstreamBody, &respHeaders,
		&errorInfo, &isStream, &reqProtocol, &supProtocol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if requestTime.Valid {
		l.RequestTime = requestTime.Time
	}
	if apiKeyID.Valid {
		v := apiKeyID.Int64
		l.APIKeyID = &v
	}
	if providerID.Valid {
		v := providerID.Int64
		l.ProviderID = &v
	}
	if firstByte.Valid {
		v := firstByte.Int64
		l.FirstByteDelayMS = &v
	}
	if totalTime.Valid {
		v := totalTime.Int64
		l.TotalTimeMS = &v
	}
	if responseStatus.Valid {
		v := int(responseStatus.Int64)
		l.ResponseStatus = &v
	}
	l.APIKeyName = apiKeyName.String
	l.TargetModel = targetModel.String
	l.ProviderName = providerName.String
	l.RequestHeaders = reqHeaders.String
	l.RequestBody = reqBody.String
	l.ConvertedRequestBody = convBody.String
	l.ResponseBody = respBody.String
	l.UpstreamResponseBody = upstreamBody.String
	l.ResponseHeaders = respHeaders.String
	l.ErrorInfo = errorInfo.String
	l.IsStream = isStream == 1
	l.RequestProtocol = reqProtocol.String
	l.SupplierProtocol = supProtocol.String
	return &l, nil
}
