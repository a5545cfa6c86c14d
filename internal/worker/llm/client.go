// Package llm talks to the external summarization service: transcript text
// plus an instruction in, a structured note document out.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mpetrenko/notegen/internal/worker/domain"
	"github.com/mpetrenko/notegen/internal/worker/pipeline"
)

const instruction = "Produce structured lecture notes from the transcript: " +
	"a title, an outline of the main sections, the key points, and a short summary."

// Config holds summarization client configuration
type Config struct {
	Endpoint       string
	APIKey         string
	Model          string
	MaxTokens      int
	Temperature    float64
	RequestTimeout time.Duration
	// MaxRetries bounds in-call retries of transient failures inside one
	// processing attempt, independent of the job's attempt budget.
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client implements pipeline.Summarizer over HTTP
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a summarization client
func NewClient(config *Config, logger *slog.Logger) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type completionRequest struct {
	Model       string  `json:"model"`
	Instruction string  `json:"instruction"`
	Input       string  `json:"input"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type completionResponse struct {
	Title     string   `json:"title"`
	Outline   []string `json:"outline"`
	KeyPoints []string `json:"key_points"`
	Summary   string   `json:"summary"`
}

// Summarize generates structured notes for the transcript. The submitted
// lecture title wins over whatever title the model proposes. Transient
// service failures are retried in place with backoff, bounded by MaxRetries,
// so a brief throttle never fails the whole attempt.
func (c *Client) Summarize(ctx context.Context, title string, transcript *pipeline.Transcript) (*pipeline.Notes, error) {
	payload := completionRequest{
		Model:       c.config.Model,
		Instruction: instruction,
		Input:       transcript.FullText(),
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewPermanent(fmt.Errorf("encode completion request: %w", err))
	}

	maxRetries := c.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	backoff := c.config.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying summarization",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", backoff),
				slog.Any("error", lastErr),
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, domain.NewTransient(ctx.Err())
			}
			backoff *= 2
		}

		notes, err := c.complete(ctx, title, body)
		if err == nil {
			return notes, nil
		}
		if domain.Classify(err) == domain.ClassPermanent {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

func (c *Client) complete(ctx context.Context, title string, body []byte) (*pipeline.Notes, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewPermanent(fmt.Errorf("build completion request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewTransient(fmt.Errorf("completion request: %w", err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var result completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domain.NewTransient(fmt.Errorf("decode completion response: %w", err))
	}

	if result.Summary == "" {
		return nil, domain.NewTransient(fmt.Errorf("summarization returned an empty document"))
	}

	notes := &pipeline.Notes{
		Title:     title,
		Outline:   result.Outline,
		KeyPoints: result.KeyPoints,
		Summary:   result.Summary,
	}
	if notes.Title == "" {
		notes.Title = result.Title
	}

	c.logger.Info("Summarization completed",
		slog.Int("outline_items", len(notes.Outline)),
		slog.Int("key_points", len(notes.KeyPoints)),
	)

	return notes, nil
}

func classifyStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("summarization service returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return domain.NewTransient(err)
	}
	return domain.NewPermanent(err)
}
