package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/praxislearn/praxis/services/tutor/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("praxis.llm.deepseek")

const (
	defaultDeepSeekBaseURL = "https://api.deepseek.com"
	defaultDeepSeekModel   = "deepseek-chat"

	// deepseekTimeout bounds a single completion request.
	deepseekTimeout = 30 * time.Second

	// defaultTemperature is the fixed generation temperature; teaching
	// replies should be warm but reproducible-ish.
	defaultTemperature float32 = 0.7

	defaultMaxTokens = 2048
)

// --- Wire types (OpenAI-compatible schema) ---

type deepseekRequest struct {
	Model       string              `json:"model"`
	Messages    []datatypes.Message `json:"messages"`
	Temperature float32             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
	Stream      bool                `json:"stream"`
	Stop        []string            `json:"stop,omitempty"`
	TopP        *float32            `json:"top_p,omitempty"`
}

type deepseekResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *deepseekError `json:"error,omitempty"`
}

type deepseekError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type deepseekStreamChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// --- Client Implementation ---

// DeepSeekClient talks to a DeepSeek-compatible chat completion API.
//
// A missing API key is a valid configuration: the client starts in fallback
// mode and serves deterministic templated responses without network I/O.
// Upstream 401/404 responses flip the client into the same fallback mode for
// the remainder of the process lifetime (logged once).
type DeepSeekClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float32
	streamCfg   StreamConfig

	fallback        *FallbackGenerator
	fallbackMode    atomic.Bool
	fallbackLogOnce sync.Once
}

// NewDeepSeekClient builds a client from the environment.
//
// DEEPSEEK_API_KEY (or /run/secrets/deepseek_api_key) supplies credentials;
// DEEPSEEK_BASE_URL and DEEPSEEK_MODEL override the defaults. Never returns
// an error for a missing key: that deployment simply runs in fallback mode.
func NewDeepSeekClient() (*DeepSeekClient, error) {
	apiKey := os.Getenv("DEEPSEEK_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/deepseek_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read DeepSeek API Key from secrets")
		}
	}

	baseURL := strings.TrimSuffix(os.Getenv("DEEPSEEK_BASE_URL"), "/")
	if baseURL == "" {
		baseURL = defaultDeepSeekBaseURL
	}

	model := os.Getenv("DEEPSEEK_MODEL")
	if model == "" {
		model = defaultDeepSeekModel
		slog.Info("DEEPSEEK_MODEL not set, defaulting to", "model", model)
	}

	c := &DeepSeekClient{
		httpClient:  &http.Client{Timeout: deepseekTimeout},
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		temperature: defaultTemperature,
		streamCfg:   DefaultStreamConfig(),
		fallback:    NewFallbackGenerator(),
	}

	if apiKey == "" {
		c.fallbackMode.Store(true)
		slog.Info("DEEPSEEK_API_KEY not configured, running in fallback mode")
	}
	return c, nil
}

// Configured reports whether real credentials were supplied.
func (c *DeepSeekClient) Configured() bool {
	return c.apiKey != ""
}

// FallbackActive reports whether the client serves canned responses.
func (c *DeepSeekClient) FallbackActive() bool {
	return c.fallbackMode.Load()
}

// enterFallback flips the client into fallback mode permanently.
// An auth or routing failure will not heal without a restart, so there is
// no probation or retry; the switch is logged exactly once.
func (c *DeepSeekClient) enterFallback(status int) {
	c.fallbackMode.Store(true)
	c.fallbackLogOnce.Do(func() {
		slog.Warn("DeepSeek API rejected credentials or endpoint, switching to fallback responses for the rest of this process",
			"status", status,
			"base_url", c.baseURL,
		)
	})
}

// Generate implements the LLMClient interface.
func (c *DeepSeekClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	systemPrompt := os.Getenv("SYSTEM_ROLE_PROMPT_PERSONA")
	if systemPrompt == "" {
		systemPrompt = "You are a helpful assistant."
	}
	messages := []datatypes.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
	return c.Chat(ctx, messages, params)
}

// Chat implements the LLMClient interface.
func (c *DeepSeekClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "DeepSeekClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	if c.fallbackMode.Load() {
		span.SetAttributes(attribute.Bool("llm.fallback", true))
		return c.fallback.Respond(lastUserContent(messages)), nil
	}

	payload := c.buildRequest(messages, params, false)
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to marshal request to DeepSeek: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to create request to DeepSeek: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("DeepSeek API call failed: %w", err)
	}
	defer resp.Body.Close()

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to read response body from DeepSeek: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		c.enterFallback(resp.StatusCode)
		span.SetAttributes(attribute.Bool("llm.fallback", true))
		return c.fallback.Respond(lastUserContent(messages)), nil
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("DeepSeek returned an error", "status_code", resp.StatusCode, "response", string(respBodyBytes))
		return "", fmt.Errorf("DeepSeek failed with status %d: %s", resp.StatusCode, string(respBodyBytes))
	}

	var apiResp deepseekResponse
	if err := json.Unmarshal(respBodyBytes, &apiResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to parse JSON response from DeepSeek", "error", err)
		return "", fmt.Errorf("failed to parse DeepSeek response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("DeepSeek API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("received empty choices from DeepSeek")
	}
	return apiResp.Choices[0].Message.Content, nil
}

// ChatStream implements the LLMClient interface.
//
// Events are delivered to callback one complete SSE event at a time, in
// order. The upstream body is closed on every exit path, so cancelling ctx
// tears down the connection mid-stream. In fallback mode a single
// informational chunk is emitted and the stream ends immediately; no
// network traffic occurs.
func (c *DeepSeekClient) ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error {
	ctx, span := tracer.Start(ctx, "DeepSeekClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	if c.fallbackMode.Load() {
		span.SetAttributes(attribute.Bool("llm.fallback", true))
		return c.streamFallback(messages, callback)
	}

	payload := c.buildRequest(messages, params, true)
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal stream request to DeepSeek: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create stream request to DeepSeek: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("DeepSeek stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		c.enterFallback(resp.StatusCode)
		span.SetAttributes(attribute.Bool("llm.fallback", true))
		return c.streamFallback(messages, callback)
	}
	if resp.StatusCode != http.StatusOK {
		respBodyBytes, _ := io.ReadAll(resp.Body)
		slog.Error("DeepSeek stream returned an error", "status_code", resp.StatusCode, "response", string(respBodyBytes))
		return fmt.Errorf("DeepSeek stream failed with status %d", resp.StatusCode)
	}

	processor := NewDefaultStreamProcessor(c.streamCfg, slog.Default())
	scanner := newSSEScanner(bufio.NewReader(resp.Body))

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ok := extractSSEData(scanner.Bytes())
		if !ok {
			continue // comment or keepalive
		}
		if data == sseDoneSentinel {
			span.SetAttributes(attribute.Int("llm.tokens", processor.GetTokenCount()))
			return nil
		}

		var chunk deepseekStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			slog.Warn("Skipping malformed DeepSeek stream chunk", "error", err)
			continue
		}
		done, err := processor.ProcessChunk(ctx, &chunk, callback)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if done {
			span.SetAttributes(attribute.Int("llm.tokens", processor.GetTokenCount()))
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("reading DeepSeek stream: %w", err)
	}
	return nil
}

// streamFallback emits a single informational chunk and completes.
func (c *DeepSeekClient) streamFallback(messages []datatypes.Message, callback StreamCallback) error {
	content := c.fallback.Respond(lastUserContent(messages))
	return callback(StreamEvent{Type: StreamEventToken, Content: content})
}

func (c *DeepSeekClient) buildRequest(messages []datatypes.Message, params GenerationParams, stream bool) deepseekRequest {
	temp := c.temperature
	if params.Temperature != nil {
		temp = *params.Temperature
	}
	maxTokens := defaultMaxTokens
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}
	return deepseekRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temp,
		MaxTokens:   maxTokens,
		Stream:      stream,
		Stop:        params.Stop,
		TopP:        params.TopP,
	}
}

func (c *DeepSeekClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// lastUserContent returns the most recent user message, or the last message
// of any role when no user turn exists. Feeds the fallback generator.
func lastUserContent(messages []datatypes.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}
