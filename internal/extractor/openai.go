package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/starford/ctxstore/internal/apperr"
	"github.com/starford/ctxstore/internal/models"
	"github.com/starford/ctxstore/internal/taxonomy"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAITimeout = 60 * time.Second

	maxRetries        = 3
	initialRetryDelay = time.Second
	backoffFactor     = 2.0
)

// OpenAI asks an OpenAI-compatible chat completions endpoint to do the extraction.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
	// retryDelay is the first backoff step; tests shorten it.
	retryDelay time.Duration
}

var _ Extractor = (*OpenAI)(nil)

// NewOpenAI creates the provider. An API key is required unless BaseURL points at a
// local endpoint that does not check one; the key is only sent when set.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	o := &OpenAI{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		logger:     cfg.Logger,
		retryDelay: initialRetryDelay,
	}
	if o.baseURL == "" {
		o.baseURL = defaultOpenAIBaseURL
		if o.apiKey == "" {
			return nil, errors.New("extractor: openai: api key is required for the default endpoint")
		}
	}
	if o.model == "" {
		o.model = defaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	o.client = &http.Client{Timeout: timeout}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type insightsPayload struct {
	Insights []models.Insight `json:"insights"`
}

// ExtractInsights asks the model for insights worth keeping from text.
func (o *OpenAI) ExtractInsights(ctx context.Context, text, hint string) ([]models.Insight, error) {
	var b strings.Builder
	b.WriteString("Extract durable, reusable insights from the text below. Each insight must be one or two sentences.\n")
	b.WriteString("Classify each into exactly one bucket from this list:\n")
	b.WriteString(bucketList())
	b.WriteString("\nRespond with JSON only, shaped as ")
	b.WriteString(`{"insights":[{"category":"...","subcategory":"...","keywords":["..."],"content":"...","confidence":0.0}]}`)
	b.WriteString(". Use an empty list when nothing is worth keeping.\n")
	if hint = strings.TrimSpace(hint); hint != "" {
		b.WriteString("\nContext:\n")
		b.WriteString(hint)
		b.WriteString("\n")
	}
	b.WriteString("\nText:\n")
	b.WriteString(text)

	var payload insightsPayload
	if err := o.completeJSON(ctx, b.String(), &payload); err != nil {
		return nil, err
	}
	return payload.Insights, nil
}

// ExtractRetrievalQuery asks the model for keywords and buckets relevant to text.
func (o *OpenAI) ExtractRetrievalQuery(ctx context.Context, text string) (models.Query, error) {
	var b strings.Builder
	b.WriteString("Pick search keywords and relevant buckets for retrieving stored project knowledge that helps with the request below.\n")
	b.WriteString("Buckets:\n")
	b.WriteString(bucketList())
	b.WriteString("\nRespond with JSON only, shaped as ")
	b.WriteString(`{"keywords":["..."],"categories":["CATEGORY/subcategory"]}`)
	b.WriteString(".\n\nRequest:\n")
	b.WriteString(text)

	var q models.Query
	if err := o.completeJSON(ctx, b.String(), &q); err != nil {
		return models.Query{}, err
	}
	if len(q.Keywords) == 0 && len(q.Categories) == 0 {
		return q, apperr.ErrNoQuery
	}
	return q, nil
}

func bucketList() string {
	var b strings.Builder
	for _, l := range taxonomy.Leaves() {
		fmt.Fprintf(&b, "- %s: %s\n", l.Key(), l.Description)
	}
	return b.String()
}

func (o *OpenAI) completeJSON(ctx context.Context, prompt string, v any) error {
	resp, err := o.complete(ctx, prompt)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp)), v); err != nil {
		return fmt.Errorf("extractor: openai: decode model output: %w", err)
	}
	return nil
}

// complete sends prompt with retry on transport errors, 429 and 5xx, backing off
// exponentially with jitter.
func (o *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	delay := o.retryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			jitter := delay/2 + time.Duration(rand.Int63n(int64(delay)+1))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay = time.Duration(float64(delay) * backoffFactor)
		}

		out, err := o.request(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var re *retryableError
		if !errors.As(err, &re) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		o.logger.Warn("extractor: openai: retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}
	return "", fmt.Errorf("extractor: openai: failed after %d retries: %w", maxRetries, lastErr)
}

func (o *OpenAI) request(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    o.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("extractor: openai: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("extractor: openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("extractor: openai: request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("extractor: openai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("extractor: openai: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", &retryableError{err: err}
		}
		return "", err
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("extractor: openai: decode response: %w", err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("extractor: openai: api error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("extractor: openai: no completion choices returned")
	}
	return cr.Choices[0].Message.Content, nil
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

var codeFence = regexp.MustCompile("(?s)^```(?:json)?\\s*\n?(.*?)\\s*```$")

// cleanJSON strips a markdown code fence and any prose around the outermost object.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFence.FindStringSubmatch(s); len(m) == 2 {
		s = strings.TrimSpace(m[1])
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		s = s[start : end+1]
	}
	return s
}
