// Command mock-endpoints serves webhook receivers with scripted behaviour for
// exercising delivery and retry locally.
package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priya8975/agency-portal/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type receiver struct {
	logger   *slog.Logger
	secret   string
	requests atomic.Int64

	mu     sync.Mutex
	flaky  map[string]int
	failN  int
	events map[string]int
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	failN := 2
	if n, err := strconv.Atoi(os.Getenv("FLAKY_FAILURES")); err == nil && n >= 0 {
		failN = n
	}

	rc := &receiver{
		logger: logger,
		secret: os.Getenv("WEBHOOK_SECRET"),
		flaky:  map[string]int{},
		failN:  failN,
		events: map[string]int{},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/webhook/success", rc.success)
	r.Post("/webhook/slow", rc.slow)
	r.Post("/webhook/fail", rc.fail)
	r.Post("/webhook/flaky", rc.flakyHandler)
	r.Post("/webhook/verify", rc.verify)
	r.Get("/stats", rc.stats)

	logger.Info("mock endpoint server starting", "port", port, "flaky_failures", failN, "verify_enabled", rc.secret != "")
	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (rc *receiver) record(r *http.Request, status int) {
	n := rc.requests.Add(1)
	event := r.Header.Get("X-Webhook-Event")

	rc.mu.Lock()
	rc.events[event]++
	rc.mu.Unlock()

	rc.logger.Info("webhook received",
		"seq", n,
		"path", r.URL.Path,
		"status", status,
		"event", event,
		"signature", truncate(r.Header.Get("X-Webhook-Signature"), 16),
	)
}

func reply(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (rc *receiver) success(w http.ResponseWriter, r *http.Request) {
	rc.record(r, http.StatusOK)
	reply(w, http.StatusOK, map[string]string{"status": "received"})
}

func (rc *receiver) slow(w http.ResponseWriter, r *http.Request) {
	time.Sleep(3 * time.Second)
	rc.record(r, http.StatusOK)
	reply(w, http.StatusOK, map[string]string{"status": "received (slow)"})
}

func (rc *receiver) fail(w http.ResponseWriter, r *http.Request) {
	rc.record(r, http.StatusInternalServerError)
	reply(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

// flakyHandler fails the first FLAKY_FAILURES deliveries of each distinct
// signature and accepts the next one. A retry re-sends the same signed body,
// so the same key is counted across attempts.
func (rc *receiver) flakyHandler(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-Webhook-Signature")

	rc.mu.Lock()
	seen := rc.flaky[key]
	rc.flaky[key] = seen + 1
	rc.mu.Unlock()

	if seen < rc.failN {
		rc.record(r, http.StatusServiceUnavailable)
		reply(w, http.StatusServiceUnavailable, map[string]string{"error": "try again later", "attempt": strconv.Itoa(seen + 1)})
		return
	}
	rc.record(r, http.StatusOK)
	reply(w, http.StatusOK, map[string]string{"status": "received", "attempt": strconv.Itoa(seen + 1)})
}

func (rc *receiver) verify(w http.ResponseWriter, r *http.Request) {
	if rc.secret == "" {
		reply(w, http.StatusServiceUnavailable, map[string]string{"error": "WEBHOOK_SECRET not set"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		reply(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if !worker.Verify(body, r.Header.Get("X-Webhook-Signature"), rc.secret) {
		rc.record(r, http.StatusUnauthorized)
		reply(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}
	rc.record(r, http.StatusOK)
	reply(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (rc *receiver) stats(w http.ResponseWriter, r *http.Request) {
	rc.mu.Lock()
	events := make(map[string]int, len(rc.events))
	for k, v := range rc.events {
		events[k] = v
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total_requests": rc.requests.Load(),
		"by_event":       events,
	})
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
