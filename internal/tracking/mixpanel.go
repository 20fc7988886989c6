// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package tracking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/hivewatcher/internal/logging"
	"github.com/tomtom215/hivewatcher/internal/metrics"
)

// MaxBatchSize is the most events the analytics API accepts per request.
const MaxBatchSize = 50

// DefaultBaseURL is the analytics ingestion API.
const DefaultBaseURL = "https://api.mixpanel.com"

// MixpanelConfig configures MixpanelClient.
type MixpanelConfig struct {
	Token   string
	Secret  string
	BaseURL string

	// BatchSize is capped at MaxBatchSize.
	BatchSize int

	Timeout time.Duration

	// RequestsPerSecond and Burst feed a token bucket shared by all calls.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries bounds retries of HTTP 429 responses.
	MaxRetries int
	RetryDelay time.Duration

	// FailureThreshold consecutive failures open the breaker for BreakerTimeout.
	FailureThreshold uint32
	BreakerTimeout   time.Duration

	HTTPClient *http.Client
}

// APIError is a non-success response from the analytics API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("analytics API returned %d: %s", e.StatusCode, e.Message)
}

// MixpanelClient implements Sink over the Mixpanel HTTP ingestion API.
type MixpanelClient struct {
	cfg     MixpanelConfig
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[interface{}]
	name    string
}

// NewMixpanelClient applies defaults and builds the breaker and limiter.
func NewMixpanelClient(cfg MixpanelConfig) *MixpanelClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	name := "mixpanel"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Client errors mean a bad payload, not an unhealthy API.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &MixpanelClient{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cb:      cb,
		name:    name,
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Track sends one live event.
func (c *MixpanelClient) Track(ctx context.Context, event Event) error {
	return c.send(ctx, LaneTrack, []Event{event})
}

// TrackBatch sends events to the live endpoint in chunks.
func (c *MixpanelClient) TrackBatch(ctx context.Context, events []Event) error {
	return c.sendChunked(ctx, LaneTrack, events)
}

// Import sends one event with an explicit time to the backfill endpoint.
func (c *MixpanelClient) Import(ctx context.Context, name string, timeSec int64, props Properties) error {
	event := Event{Name: name, Properties: props.Merge(Properties{KeyTime: Int(timeSec)})}
	return c.send(ctx, LaneImport, []Event{event})
}

// ImportBatch sends events to the backfill endpoint in chunks.
func (c *MixpanelClient) ImportBatch(ctx context.Context, events []Event) error {
	return c.sendChunked(ctx, LaneImport, events)
}

func (c *MixpanelClient) sendChunked(ctx context.Context, lane Lane, events []Event) error {
	for start := 0; start < len(events); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(events) {
			end = len(events)
		}
		if err := c.send(ctx, lane, events[start:end]); err != nil {
			return fmt.Errorf("chunk %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (c *MixpanelClient) send(ctx context.Context, lane Lane, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if lane == LaneImport && c.cfg.Secret == "" {
		return ErrMissingSecret
	}

	body, err := c.encode(events)
	if err != nil {
		return err
	}

	_, err = c.cb.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, lane, body)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "rejected").Inc()
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	case err != nil:
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "failure").Inc()
		return err
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "success").Inc()
		return nil
	}
}

func (c *MixpanelClient) encode(events []Event) ([]byte, error) {
	token := Properties{KeyToken: String(c.cfg.Token)}
	wire := make([]Event, len(events))
	for i, e := range events {
		wire[i] = Event{Name: e.Name, Properties: e.Properties.Merge(token)}
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal events: %w", err)
	}
	return body, nil
}

func (c *MixpanelClient) endpoint(lane Lane) string {
	if lane == LaneImport {
		return c.cfg.BaseURL + "/import?strict=1"
	}
	return c.cfg.BaseURL + "/track?verbose=1"
}

// post sends body, retrying HTTP 429 with exponential backoff or the
// Retry-After delay.
func (c *MixpanelClient) post(ctx context.Context, lane Lane, body []byte) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(lane), bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if lane == LaneImport {
			req.SetBasicAuth(c.cfg.Secret, "")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			defer resp.Body.Close()
			return checkResponse(resp)
		}

		metrics.SinkRateLimited.Inc()
		retryAfter := resp.Header.Get("Retry-After")
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if attempt >= c.cfg.MaxRetries {
			return &APIError{StatusCode: http.StatusTooManyRequests, Message: fmt.Sprintf("rate limited after %d retries", attempt)}
		}

		delay := c.cfg.RetryDelay * (1 << attempt)
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
			delay = time.Duration(secs) * time.Second
		}
		logging.Warn().Dur("retry_delay", delay).Int("attempt", attempt+1).Str("lane", string(lane)).
			Msg("Analytics API rate limited (HTTP 429), retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// apiResponse covers both the verbose track reply and the import reply.
type apiResponse struct {
	Status  json.RawMessage `json:"status"`
	Error   string          `json:"error"`
	Code    int             `json:"code"`
	Records int             `json:"num_records_imported"`
}

func checkResponse(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var r apiResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &r) == nil && r.Error != "" {
			msg = r.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	body := bytes.TrimSpace(raw)
	if len(body) == 0 || string(body) == "1" {
		return nil
	}
	if string(body) == "0" {
		return &APIError{StatusCode: resp.StatusCode, Message: "events rejected"}
	}

	var r apiResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	// status is 1 (track) or "OK"/1 (import); 0 means rejected.
	if s := strings.Trim(string(r.Status), `"`); s == "0" {
		msg := r.Error
		if msg == "" {
			msg = "events rejected"
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return nil
}
