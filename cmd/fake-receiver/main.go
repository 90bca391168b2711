package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/austindbirch/sol_hook/internal/config"
	"github.com/austindbirch/sol_hook/internal/delivery"
	"github.com/austindbirch/sol_hook/internal/logging"
)

// receiver is a dev webhook target. It verifies X-Signature when a secret is
// configured and fails the first N requests with a 500.
type receiver struct {
	cfg      config.FakeReceiver
	logger   *logging.Logger
	reqCount atomic.Int64
}

func newReceiver(cfg config.FakeReceiver, logger *logging.Logger) *receiver {
	return &receiver{cfg: cfg, logger: logger}
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", rc.handleHook)
	return mux
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := rc.reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	entry := rc.logger.WithContext(r.Context()).WithFields(map[string]any{
		"request": n,
		"event":   r.Header.Get(delivery.HeaderEventType),
		"body":    truncate(string(b), 160),
	})

	if rc.cfg.EndpointSecret != "" {
		if ok, msg := verifySignature(rc.cfg.EndpointSecret, b, r.Header.Get(delivery.HeaderSignature)); !ok {
			entry.WithField("reason", msg).Warn("fake-receiver failed to verify signature")
			http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
			return
		}
	}

	if rc.cfg.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(rc.cfg.ResponseDelayMS) * time.Millisecond)
	}

	// Simulate flakiness: first N request -> 500
	if n <= int64(rc.cfg.FailFirstN) {
		entry.Infof("FAILING (%d/%d)", n, rc.cfg.FailFirstN)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	var env delivery.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		entry.WithError(err).Warn("body is not a delivery envelope")
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	entry.Info("fake-receiver OK")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

func verifySignature(secret string, body []byte, sig string) (bool, string) {
	if sig == "" {
		return false, "missing signature header"
	}
	if !delivery.Verify(secret, body, sig) {
		return false, "sig mismatch"
	}
	return true, ""
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}

func main() {
	cfg := config.FromEnv().FakeReceiver
	logger := logging.New("solhook-fake-receiver")

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      newReceiver(cfg, logger).routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	logger.WithFields(map[string]any{
		"addr":         cfg.Port,
		"fail_first_n": cfg.FailFirstN,
		"verify":       cfg.EndpointSecret != "",
	}).Info("fake-receiver listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Plain().WithError(err).Fatal("fake-receiver failed")
	}
}
