package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rental-payments-ledger/internal/config"
	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/sony/gobreaker"
)

const maxErrorBody = 64 << 10

// ErrorDecoder turns a non-2xx reply body into a typed error
type ErrorDecoder func(status int, body []byte) *Error

// Request is one JSON call
type Request struct {
	Method         string
	Path           string
	Body           any
	IdempotencyKey string
	Headers        map[string]string
}

// Transport sends JSON requests to one provider behind a circuit breaker and a
// per-call timeout
type Transport struct {
	name        string
	baseURL     string
	apiKey      string
	timeout     time.Duration
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
	decodeError ErrorDecoder
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func NewTransport(name string, cfg config.ProviderConfig, decodeError ErrorDecoder, logger *slog.Logger, m *metrics.Metrics) *Transport {
	logger = logger.With("component", "provider_transport", "provider", name)

	threshold := cfg.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// rejected requests are the caller's problem, not the provider's
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTemporary(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Provider circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	}

	return &Transport{
		name:        name,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		timeout:     cfg.Timeout,
		client:      &http.Client{},
		breaker:     gobreaker.NewCircuitBreaker(settings),
		decodeError: decodeError,
		logger:      logger,
		metrics:     m,
	}
}

func (t *Transport) Name() string {
	return t.name
}

// Do sends req and decodes a 2xx JSON reply into out (which may be nil)
func (t *Transport) Do(ctx context.Context, req Request, out any) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, t.send(ctx, req, out)
	})
	t.metrics.ObserveProviderRequest(t.name, err)

	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		t.logger.Warn("Provider circuit breaker open, request rejected", "path", req.Path)
		return fmt.Errorf("%s %s: %w", req.Method, req.Path, ErrCircuitOpen)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.logger.Warn("Provider request timed out", "path", req.Path, "elapsed", time.Since(start))
		return fmt.Errorf("%s %s: %w", req.Method, req.Path, ErrTimeout)
	}
	t.logger.Error("Provider request failed", "path", req.Path, "duration", time.Since(start), "error", err)
	return err
}

func (t *Transport) send(ctx context.Context, req Request, out any) error {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", t.name, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.baseURL+req.Path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", t.name, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return &TransportError{Provider: t.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if t.decodeError != nil {
			if perr := t.decodeError(resp.StatusCode, raw); perr != nil {
				return perr
			}
		}
		return NewStatusError(t.name, resp.StatusCode, "", http.StatusText(resp.StatusCode))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", t.name, err)
	}
	return nil
}
