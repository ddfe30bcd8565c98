package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"ghost-systems/internal/retry"
	"ghost-systems/internal/telemetry"
)

// StatusError is a non-2xx answer from a backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// retryable reports whether a status code is worth another attempt.
func retryable(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

type caller struct {
	backend string
	client  *http.Client
	policy  retry.Policy
	log     logrus.FieldLogger
}

// postJSON sends body under the retry policy and decodes a 2xx answer into out.
// Transport errors, 5xx and 429 are retried; any other answer ends the call.
func (c caller) postJSON(ctx context.Context, url string, body any, auth func(*http.Request), out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	return c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		log := c.log.WithFields(logrus.Fields{
			"backend": c.backend,
			"attempt": attempt,
			"max":     c.policy.MaxAttempts,
		})

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if auth != nil {
			auth(req)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			telemetry.FulfillmentAttempts.WithLabelValues(c.backend, "transport_error").Inc()
			log.WithError(err).Warn("backend call failed")
			return fmt.Errorf("post %s: %w", c.backend, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			telemetry.FulfillmentAttempts.WithLabelValues(c.backend, "transport_error").Inc()
			log.WithError(err).Warn("backend response unreadable")
			return fmt.Errorf("read %s response: %w", c.backend, err)
		}

		if resp.StatusCode >= http.StatusBadRequest {
			statusErr := &StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 512)}
			if retryable(resp.StatusCode) {
				telemetry.FulfillmentAttempts.WithLabelValues(c.backend, "retryable_status").Inc()
				log.WithField("status", resp.StatusCode).Warn("backend call failed")
				return statusErr
			}
			telemetry.FulfillmentAttempts.WithLabelValues(c.backend, "rejected").Inc()
			log.WithField("status", resp.StatusCode).Error("backend rejected request")
			return retry.Permanent(fmt.Errorf("%w: %w", ErrRemote, statusErr))
		}

		if err := json.Unmarshal(raw, out); err != nil {
			telemetry.FulfillmentAttempts.WithLabelValues(c.backend, "invalid_body").Inc()
			return retry.Permanent(fmt.Errorf("%w: decode %s response: %v", ErrRemote, c.backend, err))
		}
		telemetry.FulfillmentAttempts.WithLabelValues(c.backend, "ok").Inc()
		log.Info("backend call succeeded")
		return nil
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
