package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/huangang/reviewiq/internal/config"
	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/pkg/logger"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"google.golang.org/genai"
)

// abandonGrace bounds how long an abandoned provider call may keep running
// after the classification budget has expired.
const abandonGrace = 30 * time.Second

// ClassifierResult is a successful classification.
type ClassifierResult struct {
	Sentiment           models.Sentiment `json:"sentiment"`
	SentimentConfidence float64          `json:"sentimentConfidence"`
	Category            string           `json:"category"`
	CategoryConfidence  float64          `json:"categoryConfidence"`
}

// Classifier infers sentiment and category from review text.
// Any returned error is a *ClassifierFailure.
type Classifier interface {
	Classify(ctx context.Context, text string) (*ClassifierResult, error)
}

// LLMClassifier classifies through one configured LLM provider, making a
// single attempt raced against a fixed budget.
type LLMClassifier struct {
	cfg        config.ClassifierConfig
	timeout    time.Duration
	httpClient *http.Client
	complete   func(ctx context.Context, prompt string) (string, error)
}

func NewLLMClassifier(cfg config.ClassifierConfig) *LLMClassifier {
	c := &LLMClassifier{
		cfg:        cfg,
		timeout:    cfg.Timeout(),
		httpClient: &http.Client{},
	}
	c.complete = c.callLLM
	return c
}

func buildAnalysisPrompt(text string) string {
	return `You are a review analysis engine. Respond ONLY in valid JSON.

Analyze the following customer review text.

Return:
{
"sentiment": "positive | neutral | negative",
"sentimentConfidence": number,
"category": "food | service | staff | cleanliness | ambience | other",
"categoryConfidence": number
}

Review Text:
"` + text + `"`
}

func (c *LLMClassifier) requiresKey() bool {
	return c.cfg.Provider != "ollama"
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) (*ClassifierResult, error) {
	if c.requiresKey() && c.cfg.APIKey == "" {
		return nil, &ClassifierFailure{Reason: FailureMissingCredentials, Err: fmt.Errorf("no API key for provider %q", c.cfg.Provider)}
	}

	type outcome struct {
		raw string
		err error
	}
	// Buffered so an abandoned call can always deliver and exit.
	done := make(chan outcome, 1)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout+abandonGrace)
	prompt := buildAnalysisPrompt(text)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		raw, err := c.complete(callCtx, prompt)
		done <- outcome{raw: raw, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, &ClassifierFailure{Reason: FailureTransport, Err: out.err}
		}
		return parseClassification(out.raw)
	case <-timer.C:
		logger.Warnf("[AI] Classification abandoned after %v (provider: %s)", c.timeout, c.cfg.Provider)
		return nil, &ClassifierFailure{Reason: FailureTimeout, Err: fmt.Errorf("no response within %v", c.timeout)}
	}
}

// parseClassification accepts a JSON object, optionally wrapped in prose or a
// code fence, and requires both sentiment and category.
func parseClassification(raw string) (*ClassifierResult, error) {
	body := extractJSONObject(raw)
	if body == "" || !gjson.Valid(body) {
		return nil, &ClassifierFailure{Reason: FailureMalformed, Err: errors.New("response is not a JSON object")}
	}

	doc := gjson.Parse(body)
	sentiment := models.Sentiment(strings.ToLower(strings.TrimSpace(doc.Get("sentiment").String())))
	category := strings.ToLower(strings.TrimSpace(doc.Get("category").String()))
	if sentiment == "" || category == "" {
		return nil, &ClassifierFailure{Reason: FailureMalformed, Err: errors.New("missing sentiment or category")}
	}
	if !sentiment.Valid() {
		return nil, &ClassifierFailure{Reason: FailureMalformed, Err: fmt.Errorf("unknown sentiment %q", sentiment)}
	}

	return &ClassifierResult{
		Sentiment:           sentiment,
		SentimentConfidence: confidence(doc.Get("sentimentConfidence")),
		Category:            category,
		CategoryConfidence:  confidence(doc.Get("categoryConfidence")),
	}, nil
}

// confidence coerces a loosely typed score into [0,1]; anything unusable is 0.
func confidence(v gjson.Result) float64 {
	f := v.Float()
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// callLLM dispatches to the provider-specific call based on the Provider field
func (c *LLMClassifier) callLLM(ctx context.Context, prompt string) (string, error) {
	logger.Debug().Str("provider", c.cfg.Provider).Str("model", c.cfg.Model).Msg("[AI] classify")

	switch c.cfg.Provider {
	case "anthropic":
		return c.callAnthropic(ctx, prompt)
	case "ollama":
		return c.callOllama(ctx, prompt)
	case "gemini":
		return c.callGemini(ctx, prompt)
	case "azure":
		return c.callAzure(ctx, prompt)
	default:
		// openai and other OpenAI-compatible services
		return c.callOpenAI(ctx, prompt)
	}
}

func (c *LLMClassifier) chatJSON(ctx context.Context, client *openai.Client, model, prompt string) (string, error) {
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(c.cfg.Temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// callOpenAI handles OpenAI and OpenAI-compatible APIs in JSON mode
func (c *LLMClassifier) callOpenAI(ctx context.Context, prompt string) (string, error) {
	clientConfig := openai.DefaultConfig(c.cfg.APIKey)
	if c.cfg.BaseURL != "" {
		clientConfig.BaseURL = c.cfg.BaseURL
	}
	clientConfig.HTTPClient = c.httpClient

	model := c.cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	content, err := c.chatJSON(ctx, openai.NewClientWithConfig(clientConfig), model, prompt)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	return content, nil
}

// callAzure uses the deployment name in Model
func (c *LLMClassifier) callAzure(ctx context.Context, prompt string) (string, error) {
	clientConfig := openai.DefaultAzureConfig(c.cfg.APIKey, c.cfg.BaseURL)
	clientConfig.HTTPClient = c.httpClient

	content, err := c.chatJSON(ctx, openai.NewClientWithConfig(clientConfig), c.cfg.Model, prompt)
	if err != nil {
		return "", fmt.Errorf("Azure OpenAI API error: %w", err)
	}
	return content, nil
}

func (c *LLMClassifier) callAnthropic(ctx context.Context, prompt string) (string, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(c.cfg.APIKey),
		option.WithHTTPClient(c.httpClient),
	}
	if c.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := c.cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   256,
		Temperature: anthropic.Float(c.cfg.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String(), nil
}

func (c *LLMClassifier) callOllama(ctx context.Context, prompt string) (string, error) {
	baseURL := c.cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	client := api.NewClient(u, c.httpClient)

	model := c.cfg.Model
	if model == "" {
		model = "llama3"
	}

	stream := false
	var content strings.Builder
	err = client.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Format:   json.RawMessage(`"json"`),
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": c.cfg.Temperature,
		},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("Ollama API error: %w", err)
	}
	return content.String(), nil
}

func (c *LLMClassifier) callGemini(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     c.cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return "", fmt.Errorf("Gemini client error: %w", err)
	}

	model := c.cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	temperature := float32(c.cfg.Temperature)
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return resp.Text(), nil
}
