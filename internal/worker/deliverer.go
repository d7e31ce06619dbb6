package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 30 * time.Second

// maxResponseBody is how much of a subscriber's response is kept.
const maxResponseBody = 1024

// Sign returns the lowercase hex HMAC-SHA256 of payload keyed by secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the valid signature of payload under secret.
func Verify(payload []byte, signature, secret string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// Result is the outcome of one HTTP attempt. StatusCode is nil when no
// response was received (bad URL, DNS, connection refused, timeout).
type Result struct {
	Success      bool
	StatusCode   *int
	ResponseBody string
	Error        string
	Duration     time.Duration
}

// Deliverer performs the HTTP POST of signed webhook payloads.
type Deliverer struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDeliverer creates a deliverer whose attempts are bounded by timeout.
func NewDeliverer(timeout time.Duration, logger *slog.Logger) *Deliverer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Deliverer{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Deliver signs payload with secret and POSTs it to url exactly once. It never
// returns an error: every failure is reported in the Result.
func (d *Deliverer) Deliver(ctx context.Context, url string, payload []byte, secret, event string) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to create request: %v", err), Duration: time.Since(start)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(payload, secret))
	req.Header.Set("X-Webhook-Event", event)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Debug("webhook request failed", "url", url, "event", event, "error", err)
		return Result{Error: fmt.Sprintf("request failed: %v", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)

	code := resp.StatusCode
	res := Result{
		Success:      code >= 200 && code < 300,
		StatusCode:   &code,
		ResponseBody: string(body),
		Duration:     time.Since(start),
	}
	if !res.Success {
		res.Error = fmt.Sprintf("endpoint returned status %d", code)
	}
	return res
}
