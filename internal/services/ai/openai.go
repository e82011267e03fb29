package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/screentask/screentask/internal/models"
	"go.uber.org/zap"
)

const (
	// DefaultOpenAIModel is the default model to use
	DefaultOpenAIModel = "gpt-4o-mini"
	// DefaultOpenAIBaseURL is the default OpenAI API base URL
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	// DefaultTimeout is the default timeout for API calls
	DefaultTimeout = 60 * time.Second
	// DefaultMediaType is assumed when the caller does not name one
	DefaultMediaType = "image/png"

	// ErrNoChoicesInResponse is returned when the API response has no choices
	ErrNoChoicesInResponse = "no choices in response"
)

// defaultExtractionPrompt asks for one primary task plus supporting steps.
// Callers can override it with a custom prompt per request.
const defaultExtractionPrompt = `Analyze this screenshot and extract the actionable work visible in it. Look for:
- Checklist items or bullet points
- Action items from messages, emails, or chat
- Tasks mentioned in project boards, calendars, or notes
- Any other clearly identifiable things a person needs to do

Respond with ONLY a JSON object of this shape:
{"source": "<where the screenshot came from, e.g. Slack, Gmail, Jira>", "mainTask": "<the single most important actionable task>", "subtasks": ["<supporting step>", ...]}

Each task must be a concise, actionable phrase. If no actionable tasks are found, still try to infer useful tasks from the context of what is shown. Use an empty string for mainTask only if the image is completely unrelated to any work.`

// OpenAIProvider implements the Provider interface using OpenAI's vision API
type OpenAIProvider struct {
	client    openai.Client
	model     string
	logger    *zap.Logger
	debugMode bool
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string, model string) *OpenAIProvider {
	return NewOpenAIProviderWithLogger(apiKey, DefaultOpenAIBaseURL, model, nil, false)
}

// NewOpenAIProviderWithLogger creates a new OpenAI provider with logger support
func NewOpenAIProviderWithLogger(apiKey string, baseURL string, model string, logger *zap.Logger, debugMode bool) *OpenAIProvider {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	httpClient := &http.Client{
		Timeout: DefaultTimeout,
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
	)

	return &OpenAIProvider{
		client:    client,
		model:     model,
		logger:    logger,
		debugMode: debugMode,
	}
}

// ExtractTasks analyzes a screenshot and returns the extracted task structure
func (p *OpenAIProvider) ExtractTasks(ctx context.Context, imageBase64, mediaType, customPrompt string) (*models.ExtractionResult, error) {
	if imageBase64 == "" {
		return nil, errors.New("image data is required")
	}
	if mediaType == "" {
		mediaType = DefaultMediaType
	}
	prompt := defaultExtractionPrompt
	if strings.TrimSpace(customPrompt) != "" {
		prompt = customPrompt
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mediaType, imageBase64)
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("You are a helpful assistant that reads screenshots and extracts actionable tasks. Respond with valid JSON only."),
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(prompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL,
			}),
		}),
	}
	req := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	if p.logger != nil && p.debugMode {
		p.logger.Debug("llm_api_request",
			zap.String("operation", "extract_tasks"),
			zap.String("model", p.model),
			zap.String("media_type", mediaType),
			zap.Int("image_bytes", len(imageBase64)),
			zap.String("prompt_preview", SanitizePrompt(prompt, true)),
		)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, req)
	latency := time.Since(start)
	if err != nil {
		if p.logger != nil && p.debugMode {
			p.logger.Debug("llm_api_error",
				zap.String("operation", "extract_tasks"),
				zap.String("model", p.model),
				zap.Error(err),
				zap.Duration("latency_ms", latency),
			)
		}
		if apiErr := ExtractAPIError(err); apiErr != nil {
			return nil, fmt.Errorf("failed to analyze screenshot: %w", apiErr)
		}
		return nil, fmt.Errorf("failed to analyze screenshot: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New(ErrNoChoicesInResponse)
	}
	content := resp.Choices[0].Message.Content

	if p.logger != nil && p.debugMode {
		p.logger.Debug("llm_api_response",
			zap.String("operation", "extract_tasks"),
			zap.String("model", p.model),
			zap.Int("response_length", len(content)),
			zap.String("response_preview", SanitizeResponse(content, true)),
			zap.Int64("latency_ms", latency.Milliseconds()),
		)
	}

	return parseExtractionResponse(content)
}

// parseExtractionResponse decodes the model output, tolerating prose or
// markdown fences around the JSON object.
func parseExtractionResponse(content string) (*models.ExtractionResult, error) {
	var result models.ExtractionResult
	raw := strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		start := bytes.Index([]byte(raw), []byte("{"))
		end := bytes.LastIndex([]byte(raw), []byte("}"))
		if start != -1 && end > start {
			raw = raw[start : end+1]
		}
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("failed to parse extraction response: %w", err)
		}
	}

	result.MainTask = strings.TrimSpace(result.MainTask)
	result.Source = strings.TrimSpace(result.Source)
	cleaned := make([]string, 0, len(result.Subtasks))
	for _, sub := range result.Subtasks {
		if s := strings.TrimSpace(sub); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	result.Subtasks = cleaned
	return &result, nil
}
