// Command mock-endpoints is a local webhook receiver for exercising deliveries.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

type receiver struct {
	secret   string
	logger   *slog.Logger
	requests atomic.Int64

	mu      sync.Mutex
	byTopic map[string]int64
	badSigs int64
	// attempts per X-Webhook-ID, for the flaky endpoint
	attempts map[string]int
}

func newReceiver(secret string, logger *slog.Logger) *receiver {
	return &receiver{
		secret:   secret,
		logger:   logger,
		byTopic:  map[string]int64{},
		attempts: map[string]int{},
	}
}

func (rc *receiver) routes() http.Handler {
	r := chi.NewRouter()

	// Successful endpoint, always returns 200
	r.Post("/webhook/success", rc.handle(func(*http.Request) int { return http.StatusOK }))

	// Slow endpoint, delays 3 seconds before responding
	r.Post("/webhook/slow", rc.handle(func(*http.Request) int {
		time.Sleep(3 * time.Second)
		return http.StatusOK
	}))

	// Failing endpoint, always returns 500
	r.Post("/webhook/fail", rc.handle(func(*http.Request) int { return http.StatusInternalServerError }))

	// Flaky endpoint, fails the first two attempts of every delivery
	r.Post("/webhook/flaky", rc.handle(func(req *http.Request) int {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		id := req.Header.Get("X-Webhook-ID")
		rc.attempts[id]++
		if rc.attempts[id] <= 2 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	}))

	r.Get("/stats", rc.stats)
	return r
}

func (rc *receiver) handle(status func(*http.Request) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count := rc.requests.Add(1)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		}

		verified := rc.verify(body, r.Header.Get("X-Webhook-Signature"))
		if rc.secret != "" && !verified {
			rc.mu.Lock()
			rc.badSigs++
			rc.mu.Unlock()
			rc.log(r, count, http.StatusUnauthorized, verified)
			respond(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}

		code := status(r)
		rc.mu.Lock()
		rc.byTopic[r.Header.Get("X-Webhook-Event")]++
		rc.mu.Unlock()
		rc.log(r, count, code, verified)

		if code >= 400 {
			respond(w, code, map[string]string{"error": http.StatusText(code)})
			return
		}
		respond(w, code, map[string]string{"status": "received"})
	}
}

// verify checks the hex HMAC-SHA256 of body. Without a configured secret
// nothing can be verified.
func (rc *receiver) verify(body []byte, signature string) bool {
	if rc.secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(rc.secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	topics := make(map[string]int64, len(rc.byTopic))
	for t, n := range rc.byTopic {
		topics[t] = n
	}
	bad := rc.badSigs
	rc.mu.Unlock()

	respond(w, http.StatusOK, map[string]any{
		"total_requests":     rc.requests.Load(),
		"invalid_signatures": bad,
		"topics":             topics,
	})
}

func (rc *receiver) log(r *http.Request, count int64, status int, verified bool) {
	rc.logger.Info("webhook received",
		"request", count,
		"path", r.URL.Path,
		"status", status,
		"topic", r.Header.Get("X-Webhook-Event"),
		"webhook_uuid", r.Header.Get("X-Webhook-UUID"),
		"job_id", truncate(r.Header.Get("X-Webhook-ID"), 8),
		"attempt", r.Header.Get("X-Webhook-Attempt"),
		"signature_valid", verified,
	)
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		if _, err := strconv.Atoi(p); err != nil {
			logger.Error("invalid PORT", "port", p)
			os.Exit(1)
		}
		port = p
	}

	rc := newReceiver(os.Getenv("WEBHOOK_SECRET"), logger)

	logger.Info("mock endpoint server starting",
		"port", port,
		"verify_signatures", rc.secret != "",
		"endpoints", []string{"/webhook/success", "/webhook/slow", "/webhook/fail", "/webhook/flaky", "/stats"},
	)

	if err := http.ListenAndServe(":"+port, rc.routes()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
