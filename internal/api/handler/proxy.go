package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/user/llm-gateway-go/internal/api/middleware"
	"github.com/user/llm-gateway-go/internal/models"
	"github.com/user/llm-gateway-go/internal/repository"
	"github.com/user/llm-gateway-go/internal/service"
	"go.uber.org/zap"
)

// ProxyHandler serves the /v1 proxy endpoints.
type ProxyHandler struct {
	proxyService *service.ProxyService
	logger       *zap.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(ps *service.ProxyService, logger *zap.Logger) *ProxyHandler {
	return &ProxyHandler{proxyService: ps, logger: logger}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *ProxyHandler) ChatCompletions(c *gin.Context) {
	h.handle(c, models.ProtocolOpenAI)
}

// Completions handles POST /v1/completions.
func (h *ProxyHandler) Completions(c *gin.Context) {
	h.handle(c, models.ProtocolOpenAI)
}

// Embeddings handles POST /v1/embeddings.
func (h *ProxyHandler) Embeddings(c *gin.Context) {
	h.handle(c, models.ProtocolOpenAI)
}

// Messages handles POST /v1/messages.
func (h *ProxyHandler) Messages(c *gin.Context) {
	h.handle(c, models.ProtocolAnthropic)
}

func (h *ProxyHandler) handle(c *gin.Context, protocol models.Protocol) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, models.NewValidationError("body_read_failed", "failed to read request body"))
		return
	}

	in := &service.ProxyInput{
		RequestProtocol: protocol,
		Path:            c.Request.URL.Path,
		Method:          c.Request.Method,
		Headers:         c.Request.Header,
		Body:            body,
	}
	if key := middleware.CurrentAPIKey(c); key != nil {
		id := key.ID
		in.APIKeyID = &id
		in.APIKeyName = key.KeyName
	}

	if gjson.GetBytes(body, "stream").Bool() {
		h.handleStream(c, in)
		return
	}

	resp := h.proxyService.ProcessRequest(c.Request.Context(), in)
	writeProxyResponse(c, resp)
}

func (h *ProxyHandler) handleStream(c *gin.Context, in *service.ProxyInput) {
	resp, chunks := h.proxyService.ProcessStreamRequest(c.Request.Context(), in)
	if chunks == nil {
		// Upstream failed before streaming started; a plain JSON body
		// came back instead.
		writeProxyResponse(c, resp)
		return
	}

	header := c.Writer.Header()
	for k, vv := range resp.Headers {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "text/event-stream")
	}
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")
	c.Status(resp.StatusCode)
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			h.logger.Debug("client disconnected during stream",
				zap.String("trace_id", resp.TraceID))
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if chunk.Err != nil {
				h.logger.Warn("upstream stream error",
					zap.String("trace_id", resp.TraceID),
					zap.Error(chunk.Err))
				return
			}
			if len(chunk.Data) > 0 {
				if _, err := c.Writer.Write(chunk.Data); err != nil {
					h.logger.Debug("write chunk failed",
						zap.String("trace_id", resp.TraceID),
						zap.Error(err))
					return
				}
				c.Writer.Flush()
			}
		}
	}
}

func writeProxyResponse(c *gin.Context, resp *service.ProxyResponse) {
	header := c.Writer.Header()
	for k, vv := range resp.Headers {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}
	c.Status(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = c.Writer.Write(resp.Body)
	}
}

// ModelsHandler serves GET /v1/models: the configured requested-model
// names, synthesized in OpenAI list format.
type ModelsHandler struct {
	mappingRepo repository.ModelMappingRepository
	logger      *zap.Logger
}

// NewModelsHandler creates a ModelsHandler.
func NewModelsHandler(mappingRepo repository.ModelMappingRepository, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{mappingRepo: mappingRepo, logger: logger}
}

// List handles GET /v1/models.
func (h *ModelsHandler) List(c *gin.Context) {
	names, err := h.mappingRepo.ListModelNames(c.Request.Context(), true)
	if err != nil {
		h.logger.Error("list model names", zap.Error(err))
		abortWithError(c, models.NewAppError("list models"))
		return
	}
	data := make([]gin.H, 0, len(names))
	for _, name := range names {
		data = append(data, gin.H{
			"id":       name,
			"object":   "model",
			"owned_by": "gateway",
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
