package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/yegors/wxbench/internal/wx"
	"github.com/yegors/wxbench/pkg/logger"
)

// transport is the shared HTTP layer under every provider client: timeout,
// exponential-backoff retries, and a per-provider circuit breaker so a
// flapping upstream stops being hammered mid-run.
type transport struct {
	provider   wx.Provider
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	logger     *logger.Logger
}

func newTransport(provider wx.Provider, timeoutSeconds, maxRetries int, log *logger.Logger) *transport {
	return &transport{
		provider: provider,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(provider),
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		}),
		maxRetries: maxRetries,
		logger:     log.Named("provider-transport"),
	}
}

// get performs one fetch with retry logic and exponential backoff. The
// returned payload body is the verbatim response; RequestURL has the named
// secret query parameters redacted before anything is recorded.
func (t *transport) get(ctx context.Context, endpoint, rawURL string, secretParams []string) (wx.RawPayload, error) {
	recordedURL := redactURL(rawURL, secretParams)

	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			backoffDuration := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			t.logger.Info("Retrying provider fetch",
				logger.String("provider", string(t.provider)),
				logger.String("endpoint", endpoint),
				logger.Int("attempt", attempt),
				logger.String("backoff", backoffDuration.String()))
			timer := time.NewTimer(backoffDuration)
			select {
			case <-ctx.Done():
				timer.Stop()
				return wx.RawPayload{}, &wx.TransportError{Provider: t.provider, Endpoint: endpoint, Err: ctx.Err()}
			case <-timer.C:
			}
		}

		payload, err := t.do(ctx, endpoint, rawURL, recordedURL)
		if err == nil {
			if attempt > 0 {
				t.logger.Info("Fetched provider payload after retries",
					logger.String("provider", string(t.provider)),
					logger.String("endpoint", endpoint),
					logger.Int("attempts_needed", attempt+1))
			}
			return payload, nil
		}

		lastErr = err
		if !retryable(err) {
			break
		}
		t.logger.Warn("Provider fetch failed, may retry",
			logger.String("provider", string(t.provider)),
			logger.String("endpoint", endpoint),
			logger.Error(err),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", t.maxRetries+1))
	}

	t.logger.Error("All attempts to fetch provider payload failed",
		logger.String("provider", string(t.provider)),
		logger.String("endpoint", endpoint),
		logger.Error(lastErr),
		logger.Int("max_attempts", t.maxRetries+1))
	return wx.RawPayload{}, lastErr
}

type fetchResult struct {
	status int
	body   []byte
}

// retryable reports whether a failed attempt is worth repeating. Rejected
// credentials and client errors repeat deterministically, so only network
// failures, timeouts, rate limiting and upstream 5xx responses are retried.
// An open circuit breaker ends the loop immediately.
func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var authErr *wx.AuthConfigError
	if errors.As(err, &authErr) {
		return false
	}
	var trErr *wx.TransportError
	if errors.As(err, &trErr) &&
		trErr.Status >= 400 && trErr.Status < 500 &&
		trErr.Status != http.StatusRequestTimeout && trErr.Status != http.StatusTooManyRequests {
		return false
	}
	return true
}

func (t *transport) do(ctx context.Context, endpoint, rawURL, recordedURL string) (wx.RawPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return wx.RawPayload{}, &wx.TransportError{Provider: t.provider, Endpoint: endpoint,
			Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	result, err := t.breaker.Execute(func() (interface{}, error) {
		resp, execErr := t.httpClient.Do(req)
		if execErr != nil {
			return nil, &wx.TransportError{Provider: t.provider, Endpoint: endpoint, Err: execErr}
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, &wx.TransportError{Provider: t.provider, Endpoint: endpoint, Status: resp.StatusCode,
				Err: fmt.Errorf("reading response body: %w", readErr)}
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &wx.AuthConfigError{Provider: t.provider,
				Detail: fmt.Sprintf("%s rejected credentials with status %d", endpoint, resp.StatusCode)}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &wx.TransportError{Provider: t.provider, Endpoint: endpoint, Status: resp.StatusCode,
				Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
		}
		return fetchResult{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		return wx.RawPayload{}, err
	}

	fr := result.(fetchResult)
	return wx.RawPayload{
		Provider:       t.provider,
		Endpoint:       endpoint,
		RequestURL:     recordedURL,
		ResponseStatus: fr.status,
		Body:           fr.body,
	}, nil
}

// redactURL replaces the values of the named query parameters so credentials
// never reach storage or logs.
func redactURL(rawURL string, secretParams []string) string {
	if len(secretParams) == 0 {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "REDACTED"
	}
	q := u.Query()
	for _, name := range secretParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
