// Package stt talks to the external speech-to-text service. The contract:
// audio in, ordered time-stamped segments out, failures classifiable into
// transient (throttling, outage) and permanent (unusable audio).
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mpetrenko/notegen/internal/worker/domain"
	"github.com/mpetrenko/notegen/internal/worker/pipeline"
)

// Config holds speech-to-text client configuration
type Config struct {
	Endpoint       string
	APIKey         string
	Language       string
	Model          string
	RequestTimeout time.Duration
	// MaxRetries bounds in-call retries of transient failures (throttling,
	// outages). These stay inside one processing attempt and never touch
	// the job's attempt budget.
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client implements pipeline.Transcriber over HTTP
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a speech-to-text client
func NewClient(config *Config, logger *slog.Logger) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type recognizeResponse struct {
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe sends the audio file for recognition and returns the ordered
// transcript. Transient service failures are retried in place with backoff,
// bounded by MaxRetries, so a brief throttle never fails the whole attempt.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (*pipeline.Transcript, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, domain.NewTransient(fmt.Errorf("read audio: %w", err))
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
			c.logger.Warn("Retrying recognition",
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

		transcript, err := c.recognize(ctx, audio)
		if err == nil {
			return transcript, nil
		}
		if domain.Classify(err) == domain.ClassPermanent {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

func (c *Client) recognize(ctx context.Context, audio []byte) (*pipeline.Transcript, error) {
	url := fmt.Sprintf("%s?language=%s&model=%s", c.config.Endpoint, c.config.Language, c.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(audio))
	if err != nil {
		return nil, domain.NewPermanent(fmt.Errorf("build recognize request: %w", err))
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	c.logger.Debug("Sending audio for recognition",
		slog.Int("bytes", len(audio)),
		slog.String("language", c.config.Language),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewTransient(fmt.Errorf("recognize request: %w", err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var result recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domain.NewTransient(fmt.Errorf("decode recognize response: %w", err))
	}

	transcript := &pipeline.Transcript{
		Segments: make([]pipeline.Segment, len(result.Segments)),
	}
	for i, seg := range result.Segments {
		transcript.Segments[i] = pipeline.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		}
	}

	c.logger.Info("Transcription completed",
		slog.Int("segments", len(transcript.Segments)),
	)

	return transcript, nil
}

func classifyStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("speech-to-text service returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return domain.NewTransient(err)
	}
	// 4xx: unsupported audio, bad request - retrying cannot succeed
	return domain.NewPermanent(err)
}
