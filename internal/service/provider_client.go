package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/sjson"
	"github.com/user/llm-gateway-go/internal/models"
	"go.uber.org/zap"
)

// ResponseMode selects how an upstream body is handled.
type ResponseMode string

const (
	// ResponseModeRaw keeps the upstream body as bytes for byte-exact
	// passthrough.
	ResponseModeRaw ResponseMode = "raw"
	// ResponseModeParsed attempts a JSON decode of the upstream body.
	ResponseModeParsed ResponseMode = "parsed"
)

// ForwardRequest carries one upstream attempt's parameters.
type ForwardRequest struct {
	Path        string
	Method      string
	Headers     http.Header // ingress headers; credentials are stripped
	Body        []byte      // raw JSON body
	TargetModel string
	Mode        ResponseMode
}

// ProviderResponse is the outcome of one upstream attempt. Transport
// failures are represented as synthetic responses (status 502/504/500,
// Err set, empty body), never as Go errors, so the retry state machine
// handles both uniformly.
type ProviderResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Parsed     any    // set when Mode == parsed and the body decodes
	Err        string // non-empty on synthetic failure responses
}

// Success reports whether the attempt terminates the retry loop.
func (r *ProviderResponse) Success() bool {
	return r.Err == "" && r.StatusCode >= 200 && r.StatusCode < 400
}

// StreamChunk is one raw chunk of an upstream SSE stream. A read failure
// mid-stream arrives as a final chunk with Err set.
type StreamChunk struct {
	Data []byte
	Err  error
}

// ForwardResult pairs the response view with the chunk channel of a
// streaming attempt. Chunks is nil for blocking forwards and for streaming
// attempts whose initial status is a failure (the body is then fully
// collected into Response.Body).
type ForwardResult struct {
	Response *ProviderResponse
	Chunks   <-chan StreamChunk
}

// ProviderClient forwards requests to one upstream protocol family.
type ProviderClient interface {
	Forward(ctx context.Context, candidate *models.CandidateProvider, req *ForwardRequest) *ProviderResponse
	ForwardStream(ctx context.Context, candidate *models.CandidateProvider, req *ForwardRequest) *ForwardResult
}

// strippedHeaders are never forwarded upstream; the client's credential in
// particular must not leak past the gateway.
var strippedHeaders = map[string]bool{
	"authorization":  true,
	"x-api-key":      true,
	"api-key":        true,
	"content-length": true,
	"host":           true,
	"content-type":   true,
}

// httpProviderClient implements ProviderClient over net/http. Protocol
// variants differ only in credential placement and path prefix.
type httpProviderClient struct {
	logger  *zap.Logger
	timeout time.Duration

	// installCredential sets the protocol's auth header.
	installCredential func(h http.Header, apiKey string)
	// rewritePath maps the gateway path (already /v1-stripped) to the
	// upstream path suffix.
	rewritePath func(path string) string

	mu      sync.Mutex
	clients map[string]*http.Client // keyed by proxy URL; "" = direct
	stream  map[string]*http.Client
}

func newHTTPProviderClient(logger *zap.Logger, timeout time.Duration,
	installCredential func(http.Header, string), rewritePath func(string) string) *httpProviderClient {
	return &httpProviderClient{
		logger:            logger,
		timeout:           timeout,
		installCredential: installCredential,
		rewritePath:       rewritePath,
		clients:           make(map[string]*http.Client),
		stream:            make(map[string]*http.Client),
	}
}

// ClientRegistry hands out the ProviderClient for each protocol.
type ClientRegistry struct {
	clients map[models.Protocol]ProviderClient
}

// NewClientRegistry builds clients for every supported protocol.
func NewClientRegistry(timeout time.Duration, logger *zap.Logger) *ClientRegistry {
	bearer := func(h http.Header, apiKey string) {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	identity := func(path string) string { return path }

	anthropic := newHTTPProviderClient(logger, timeout, func(h http.Header, apiKey string) {
		h.Set("x-api-key", apiKey)
		if h.Get("anthropic-version") == "" {
			h.Set("anthropic-version", "2023-06-01")
		}
	}, identity)

	gemini := newHTTPProviderClient(logger, timeout, func(h http.Header, apiKey string) {
		h.Set("x-goog-api-key", apiKey)
	}, func(path string) string {
		if !strings.HasPrefix(path, "/v1beta/") {
			return "/v1beta" + path
		}
		return path
	})

	return &ClientRegistry{clients: map[models.Protocol]ProviderClient{
		models.ProtocolOpenAI:          newHTTPProviderClient(logger, timeout, bearer, identity),
		models.ProtocolOpenAIResponses: newHTTPProviderClient(logger, timeout, bearer, identity),
		models.ProtocolAnthropic:       anthropic,
		models.ProtocolGemini:          gemini,
	}}
}

// For returns the client for a protocol, defaulting to the OpenAI dialect.
func (r *ClientRegistry) For(p models.Protocol) ProviderClient {
	if c, ok := r.clients[p]; ok {
		return c
	}
	return r.clients[models.ProtocolOpenAI]
}

// BuildUpstreamURL joins a provider base URL and a gateway path: a leading
// /v1 is stripped from the path and a trailing / from the base, so bases
// with and without a /v1 suffix both compose correctly.
func BuildUpstreamURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + stripV1(path)
}

// stripV1 removes a leading /v1 path segment and guarantees a leading
// slash. Longer segments like /v1beta are left intact.
func stripV1(path string) string {
	switch {
	case path == "/v1" || path == "/v1/":
		return "/"
	case strings.HasPrefix(path, "/v1/"):
		return path[len("/v1"):]
	case path == "" || path[0] != '/':
		return "/" + path
	default:
		return path
	}
}

// clientFor returns (building if needed) the http.Client for a candidate's
// egress proxy configuration.
func (c *httpProviderClient) clientFor(candidate *models.CandidateProvider, streaming bool) (*http.Client, error) {
	proxyURL := ""
	if candidate.ProxyEnabled && candidate.ProxyURL != "" {
		proxyURL = candidate.ProxyURL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cache := c.clients
	if streaming {
		cache = c.stream
	}
	if client, ok := cache[proxyURL]; ok {
		return client, nil
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		Proxy:               http.ProxyFromEnvironment,
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	timeout := c.timeout
	if streaming {
		// Streams run unbounded; only the dial and header phases are capped.
		timeout = 0
		transport.ResponseHeaderTimeout = c.timeout
	}
	client := &http.Client{Timeout: timeout, Transport: transport}
	cache[proxyURL] = client
	return client, nil
}

// buildRequest assembles the outbound request: URL composition, header
// scrubbing, credential install and model substitution in the body.
func (c *httpProviderClient) buildRequest(ctx context.Context, candidate *models.CandidateProvider, req *ForwardRequest) (*http.Request, error) {
	body := req.Body
	if req.TargetModel != "" {
		rewritten, err := sjson.SetBytes(body, "model", req.TargetModel)
		if err != nil {
			return nil, fmt.Errorf("rewrite model field: %w", err)
		}
		body = rewritten
	}

	upstreamURL := strings.TrimRight(candidate.BaseURL, "/") + c.rewritePath(stripV1(req.Path))

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	upReq, err := http.NewRequestWithContext(ctx, method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	for k, vv := range req.Headers {
		if strippedHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vv {
			upReq.Header.Add(k, v)
		}
	}
	for k, v := range candidate.ExtraHeaders {
		upReq.Header.Set(k, v)
	}
	upReq.Header.Set("Content-Type", "application/json")
	c.installCredential(upReq.Header, candidate.APIKey)
	return upReq, nil
}

// Forward performs a blocking upstream attempt.
func (c *httpProviderClient) Forward(ctx context.Context, candidate *models.CandidateProvider, req *ForwardRequest) *ProviderResponse {
	client, err := c.clientFor(candidate, false)
	if err != nil {
		return syntheticFailure(err)
	}
	upReq, err := c.buildRequest(ctx, candidate, req)
	if err != nil {
		return syntheticFailure(err)
	}

	resp, err := client.Do(upReq)
	if err != nil {
		c.logger.Warn("upstream request failed",
			zap.String("provider", candidate.Name),
			zap.Error(err))
		return syntheticFailure(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return syntheticFailure(err)
	}

	out := &ProviderResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
	}
	if req.Mode == ResponseModeParsed && len(body) > 0 {
		var parsed any
		if json.Unmarshal(body, &parsed) == nil {
			out.Parsed = parsed
		} else {
			out.Parsed = string(body)
		}
	}
	return out
}

// ForwardStream opens a streaming upstream attempt. On a non-success
// initial status the body is collected and returned like a blocking
// response; otherwise raw chunks are delivered on the returned channel.
func (c *httpProviderClient) ForwardStream(ctx context.Context, candidate *models.CandidateProvider, req *ForwardRequest) *ForwardResult {
	client, err := c.clientFor(candidate, true)
	if err != nil {
		return &ForwardResult{Response: syntheticFailure(err)}
	}
	upReq, err := c.buildRequest(ctx, candidate, req)
	if err != nil {
		return &ForwardResult{Response: syntheticFailure(err)}
	}

	resp, err := client.Do(upReq)
	if err != nil {
		c.logger.Warn("upstream stream connect failed",
			zap.String("provider", candidate.Name),
			zap.Error(err))
		return &ForwardResult{Response: syntheticFailure(err)}
	}

	view := &ProviderResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
	}
	if !view.Success() {
		// Error bodies come back as a single JSON response, not a stream.
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return &ForwardResult{Response: syntheticFailure(readErr)}
		}
		view.Body = body
		return &ForwardResult{Response: view}
	}

	chunks := make(chan StreamChunk, 100)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()
		buf := make([]byte, 32*1024)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case chunks <- StreamChunk{Data: data}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					select {
					case chunks <- StreamChunk{Err: err}:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()
	return &ForwardResult{Response: view, Chunks: chunks}
}

// syntheticFailure maps a transport error to the response the retry state
// machine consumes: timeout 504, connect/transport 502, anything else 500.
func syntheticFailure(err error) *ProviderResponse {
	status := http.StatusInternalServerError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		status = http.StatusGatewayTimeout
	default:
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			status = http.StatusBadGateway
		}
	}
	return &ProviderResponse{StatusCode: status, Err: err.Error()}
}
