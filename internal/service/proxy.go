package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/user/llm-gateway-go/internal/metrics"
	"github.com/user/llm-gateway-go/internal/models"
	"github.com/user/llm-gateway-go/internal/repository"
	"go.uber.org/zap"
)

// ProxyInput is one authenticated ingress request.
type ProxyInput struct {
	APIKeyID        *int64
	APIKeyName      string
	RequestProtocol models.Protocol
	Path            string
	Method          string
	Headers         http.Header
	Body            []byte
}

// ProxyResponse is what the ingress handler writes back to the client.
type ProxyResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	TraceID    string
}

// ProxyService orchestrates one request end to end: candidate selection,
// retry/failover, forwarding, token accounting and the request log row.
type ProxyService struct {
	providerRepo repository.ProviderRepository
	mappingRepo  repository.ModelMappingRepository
	logRepo      repository.RequestLogRepository
	ruleEngine   *RuleEngine
	strategy     SelectionStrategy
	retry        *RetryHandler
	clients      *ClientRegistry
	translator   TranslationAdapter // optional
	metrics      *metrics.Metrics
	logger       *zap.Logger
	previewChars int
}

// NewProxyService wires the proxy pipeline.
func NewProxyService(
	providerRepo repository.ProviderRepository,
	mappingRepo repository.ModelMappingRepository,
	logRepo repository.RequestLogRepository,
	strategy SelectionStrategy,
	clients *ClientRegistry,
	retry *RetryHandler,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ProxyService {
	return &ProxyService{
		providerRepo: providerRepo,
		mappingRepo:  mappingRepo,
		logRepo:      logRepo,
		ruleEngine:   NewRuleEngine(),
		strategy:     strategy,
		retry:        retry,
		clients:      clients,
		metrics:      m,
		logger:       logger,
		previewChars: DefaultPreviewChars,
	}
}

// SetTranslator installs the cross-protocol translation adapter.
func (s *ProxyService) SetTranslator(t TranslationAdapter) {
	s.translator = t
}

// requestState collects log row fields as the pipeline progresses.
type requestState struct {
	traceID        string
	timer          *Timer
	in             *ProxyInput
	requestedModel string
	body           map[string]any
	inputTokens    int
	matchedCount   int
	isStream       bool

	candidate     *models.CandidateProvider
	retryCount    int
	convertedBody string
}

// ProcessRequest handles a non-streaming request. It never returns an
// error: failures become JSON error responses, and a log row is written
// either way.
func (s *ProxyService) ProcessRequest(ctx context.Context, in *ProxyInput) *ProxyResponse {
	st := &requestState{traceID: uuid.New().String(), timer: NewTimer(), in: in}

	candidates, reqCtx, apiErr := s.prepare(ctx, in, st)
	if apiErr != nil {
		st.timer.Stop()
		s.writeLog(st, nil, "", apiErr.Error(), 0)
		return s.errorResponse(st.traceID, apiErr)
	}

	outcome := s.retry.Execute(ctx, candidates, st.requestedModel, func(ctx context.Context, cand *models.CandidateProvider) *ForwardResult {
		return &ForwardResult{Response: s.forwardBlocking(ctx, in, st, cand)}
	})
	st.timer.Stop()
	st.candidate = outcome.Candidate
	st.retryCount = outcome.RetryCount

	resp := outcome.Result.Response
	outputTokens := 0
	if tokens := extractOutputTokens(resp.Body); tokens != nil && *tokens > 0 {
		outputTokens = *tokens
	}
	reqCtx.TokenUsage.OutputTokens = outputTokens

	s.writeLog(st, resp, logResponseBody(resp), resp.Err, outputTokens)
	s.observe(st, reqCtx, resp.StatusCode)

	return s.clientResponse(st, resp)
}

// ProcessStreamRequest handles a streaming request. The returned channel is
// nil when the upstream answered with a non-stream response (errors come
// back as a single JSON body); otherwise the caller must drain the channel,
// and the log row is written when the stream ends.
func (s *ProxyService) ProcessStreamRequest(ctx context.Context, in *ProxyInput) (*ProxyResponse, <-chan StreamChunk) {
	st := &requestState{traceID: uuid.New().String(), timer: NewTimer(), in: in, isStream: true}

	candidates, reqCtx, apiErr := s.prepare(ctx, in, st)
	if apiErr != nil {
		st.timer.Stop()
		s.writeLog(st, nil, "", apiErr.Error(), 0)
		return s.errorResponse(st.traceID, apiErr), nil
	}

	outcome := s.retry.Execute(ctx, candidates, st.requestedModel, func(ctx context.Context, cand *models.CandidateProvider) *ForwardResult {
		client := s.clients.For(cand.Protocol)
		return client.ForwardStream(ctx, cand, s.buildForward(in, st, cand, ResponseModeRaw))
	})
	st.candidate = outcome.Candidate
	st.retryCount = outcome.RetryCount
	resp := outcome.Result.Response

	if outcome.Result.Chunks == nil {
		// Upstream failed before streaming started; the collected error
		// body goes back as a plain JSON response.
		st.timer.Stop()
		s.writeLog(st, resp, logResponseBody(resp), resp.Err, 0)
		s.observe(st, reqCtx, resp.StatusCode)
		return s.clientResponse(st, resp), nil
	}

	protocol := in.RequestProtocol
	model := st.requestedModel
	if outcome.Candidate != nil {
		protocol = outcome.Candidate.Protocol
		model = outcome.Candidate.TargetModel
	}
	acc := NewStreamUsageAccumulator(protocol, model, s.previewChars)

	out := make(chan StreamChunk, 100)
	go s.pumpStream(ctx, st, reqCtx, resp, outcome.Result.Chunks, acc, out)

	return s.clientResponse(st, resp), out
}

// pumpStream tees upstream chunks to the client while feeding the usage
// accumulator, then writes the log row. The row is written on normal end,
// upstream failure and client abort alike.
func (s *ProxyService) pumpStream(
	ctx context.Context,
	st *requestState,
	reqCtx *models.RequestContext,
	resp *ProviderResponse,
	upstream <-chan StreamChunk,
	acc *StreamUsageAccumulator,
	out chan<- StreamChunk,
) {
	defer close(out)

	var streamErr error
loop:
	for chunk := range upstream {
		if chunk.Err != nil {
			streamErr = chunk.Err
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
			break loop
		}
		st.timer.MarkFirstByte()
		acc.Feed(chunk.Data)
		select {
		case out <- chunk:
		case <-ctx.Done():
			streamErr = ctx.Err()
			break loop
		}
	}

	st.timer.Stop()
	stats := acc.Finalize()
	reqCtx.TokenUsage.OutputTokens = stats.OutputTokens

	errInfo := resp.Err
	if streamErr != nil {
		errInfo = streamErr.Error()
	}
	s.writeLog(st, resp, stats.Preview, errInfo, stats.OutputTokens)
	s.observe(st, reqCtx, resp.StatusCode)
}

// prepare resolves the mapping, builds the rule context and selects
// candidates. It fills st as it goes so failed requests still log.
func (s *ProxyService) prepare(ctx context.Context, in *ProxyInput, st *requestState) ([]*models.CandidateProvider, *models.RequestContext, *models.APIError) {
	var body map[string]any
	if err := json.Unmarshal(in.Body, &body); err != nil {
		return nil, nil, models.NewValidationError("invalid_body", "request body is not valid JSON")
	}
	st.body = body

	model, _ := body["model"].(string)
	if model == "" {
		return nil, nil, models.NewValidationError("missing_model", "request body has no model field")
	}
	st.requestedModel = model

	counter := NewTokenCounter(in.RequestProtocol)
	st.inputTokens = counter.CountRequest(body, model)

	reqCtx := &models.RequestContext{
		CurrentModel: model,
		Headers:      lowercaseHeaders(in.Headers),
		RequestBody:  body,
		TokenUsage:   models.TokenUsage{InputTokens: st.inputTokens},
	}

	mapping, err := s.mappingRepo.FindByModel(ctx, model)
	if err != nil || !mapping.IsActive {
		if err != nil && err != repository.ErrNotFound {
			s.logger.Error("load model mapping", zap.String("model", model), zap.Error(err))
			return nil, reqCtx, models.NewAppError("load model mapping")
		}
		return nil, reqCtx, models.NewNotFoundError("model_not_configured", fmt.Sprintf("model %q is not configured", model))
	}

	links, err := s.mappingRepo.FindProviders(ctx, model, true)
	if err != nil {
		s.logger.Error("load provider mappings", zap.String("model", model), zap.Error(err))
		return nil, reqCtx, models.NewAppError("load provider mappings")
	}

	ids := make([]int64, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.ProviderID)
	}
	providers, err := s.providerRepo.FindByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("load providers", zap.String("model", model), zap.Error(err))
		return nil, reqCtx, models.NewAppError("load providers")
	}

	candidates := s.ruleEngine.SelectCandidates(reqCtx, mapping, links, providers)
	st.matchedCount = len(candidates)
	if len(candidates) == 0 {
		return nil, reqCtx, models.NewServiceError("no_available_providers", "no available providers")
	}
	return candidates, reqCtx, nil
}

func (s *ProxyService) buildForward(in *ProxyInput, st *requestState, cand *models.CandidateProvider, mode ResponseMode) *ForwardRequest {
	body := in.Body
	if mode == ResponseModeParsed && s.translator != nil {
		converted, err := s.translator.TranslateRequest(in.RequestProtocol, cand.Protocol, body)
		if err == nil {
			body = converted
			st.convertedBody = string(converted)
		} else {
			s.logger.Warn("request translation failed, forwarding unconverted",
				zap.String("from", string(in.RequestProtocol)),
				zap.String("to", string(cand.Protocol)),
				zap.Error(err))
		}
	}
	return &ForwardRequest{
		Path:        in.Path,
		Method:      in.Method,
		Headers:     in.Headers,
		Body:        body,
		TargetModel: cand.TargetModel,
		Mode:        mode,
	}
}

func (s *ProxyService) forwardBlocking(ctx context.Context, in *ProxyInput, st *requestState, cand *models.CandidateProvider) *ProviderResponse {
	client := s.clients.For(cand.Protocol)
	mode := ResponseModeParsed
	if in.RequestProtocol == cand.Protocol {
		// Same dialect on both sides: byte-exact passthrough.
		mode = ResponseModeRaw
	}
	return client.Forward(ctx, cand, s.buildForward(in, st, cand, mode))
}

// writeLog assembles and persists the request log row. A detached context
// keeps the write alive past request cancellation; write failures are
// swallowed after being logged.
func (s *ProxyService) writeLog(st *requestState, resp *ProviderResponse, responseBody, errInfo string, outputTokens int) {
	entry := &models.RequestLogEntry{
		TraceID:              st.traceID,
		RequestTime:          time.Now(),
		APIKeyID:             st.in.APIKeyID,
		APIKeyName:           st.in.APIKeyName,
		RequestedModel:       st.requestedModel,
		RetryCount:           st.retryCount,
		MatchedProviderCount: st.matchedCount,
		FirstByteDelayMS:     st.timer.FirstByteDelayMS(),
		TotalTimeMS:          st.timer.TotalTimeMS(),
		InputTokens:          st.inputTokens,
		RequestHeaders:       marshalString(SanitizeHeaders(lowercaseHeaders(st.in.Headers))),
		ConvertedRequestBody: st.convertedBody,
		ResponseBody:         responseBody,
		ErrorInfo:            errInfo,
		IsStream:             st.isStream,
		RequestProtocol:      string(st.in.RequestProtocol),
	}
	if st.body != nil {
		entry.RequestBody = marshalString(TruncateBody(st.body))
	} else {
		entry.RequestBody = string(st.in.Body)
	}
	if st.candidate != nil {
		pid := st.candidate.ProviderID
		entry.ProviderID = &pid
		entry.ProviderName = st.candidate.Name
		entry.TargetModel = st.candidate.TargetModel
		entry.SupplierProtocol = string(st.candidate.Protocol)
	}
	if resp != nil {
		status := resp.StatusCode
		entry.ResponseStatus = &status
		entry.ResponseHeaders = marshalString(flattenHeaders(resp.Headers))
		if !resp.Success() {
			entry.UpstreamResponseBody = logResponseBody(resp)
		}
	}
	entry.OutputTokens = outputTokens

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.logRepo.Insert(saveCtx, entry); err != nil {
		s.logger.Error("write request log",
			zap.String("trace_id", st.traceID),
			zap.Error(err))
	}
}

func (s *ProxyService) observe(st *requestState, reqCtx *models.RequestContext, status int) {
	provider := ""
	if st.candidate != nil {
		provider = st.candidate.Name
	}
	total := st.timer.TotalTimeMS()
	duration := time.Duration(0)
	if total != nil {
		duration = time.Duration(*total) * time.Millisecond
	}
	s.metrics.ObserveRequest(st.requestedModel, provider, status, duration,
		reqCtx.TokenUsage.InputTokens, reqCtx.TokenUsage.OutputTokens, st.retryCount)
}

// clientResponse builds the downstream response: hop-by-hop headers are
// filtered and the gateway's trace headers added.
func (s *ProxyService) clientResponse(st *requestState, resp *ProviderResponse) *ProxyResponse {
	headers := FilterHopHeaders(resp.Headers)
	headers.Set("X-Trace-ID", st.traceID)
	if st.candidate != nil {
		headers.Set("X-Target-Model", st.candidate.TargetModel)
		headers.Set("X-Provider", st.candidate.Name)
	}
	return &ProxyResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       resp.Body,
		TraceID:    st.traceID,
	}
}

func (s *ProxyService) errorResponse(traceID string, apiErr *models.APIError) *ProxyResponse {
	body, _ := json.Marshal(apiErr.Body())
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Trace-ID", traceID)
	return &ProxyResponse{
		StatusCode: apiErr.Status,
		Headers:    headers,
		Body:       body,
		TraceID:    traceID,
	}
}

// extractOutputTokens pulls the completion token count out of an upstream
// JSON body: usage.completion_tokens, usage.output_tokens, or
// total_tokens - prompt_tokens as a last resort.
func extractOutputTokens(body []byte) *int {
	if len(body) == 0 {
		return nil
	}
	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() {
		return nil
	}
	for _, key := range []string{"completion_tokens", "output_tokens"} {
		if v := usage.Get(key); v.Exists() {
			n := int(v.Int())
			return &n
		}
	}
	total := usage.Get("total_tokens")
	prompt := usage.Get("prompt_tokens")
	if total.Exists() && prompt.Exists() {
		n := int(total.Int() - prompt.Int())
		return &n
	}
	return nil
}

// logResponseBody renders an upstream body for the log row: JSON stays as
// is, other UTF-8 text is stored verbatim, binary gets a size marker.
func logResponseBody(resp *ProviderResponse) string {
	if resp == nil || len(resp.Body) == 0 {
		return ""
	}
	if json.Valid(resp.Body) || utf8.Valid(resp.Body) {
		return string(resp.Body)
	}
	return fmt.Sprintf("[binary data: %d bytes]", len(resp.Body))
}

func lowercaseHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if len(vv) > 0 {
			out[strings.ToLower(k)] = vv[0]
		}
	}
	return out
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		out[k] = strings.Join(vv, ", ")
	}
	return out
}

func marshalString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
