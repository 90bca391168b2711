package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/sol_hook/internal/config"
	"github.com/austindbirch/sol_hook/internal/delivery"
	"github.com/austindbirch/sol_hook/internal/logging"
)

func envelope(t *testing.T) []byte {
	t.Helper()
	b, err := delivery.BuildBody("token_transfer", map[string]any{"mint": "X"}, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return b
}

func post(h http.Handler, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.Header.Set(delivery.HeaderEventType, "token_transfer")
	if sig != "" {
		req.Header.Set(delivery.HeaderSignature, sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"x"}`)
	tests := []struct {
		name        string
		sig         string
		expectValid bool
		expectedMsg string
	}{
		{name: "valid signature", sig: delivery.Sign("test-secret", body), expectValid: true},
		{name: "missing signature", sig: "", expectedMsg: "missing signature header"},
		{name: "wrong secret", sig: delivery.Sign("other", body), expectedMsg: "sig mismatch"},
		{name: "garbage", sig: "not-hex", expectedMsg: "sig mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, msg := verifySignature("test-secret", body, tt.sig)
			assert.Equal(t, tt.expectValid, ok)
			assert.Equal(t, tt.expectedMsg, msg)
		})
	}
}

func TestHandleHook_FailFirstN(t *testing.T) {
	rc := newReceiver(config.FakeReceiver{FailFirstN: 4}, logging.NewWithOutput("test", &bytes.Buffer{}))
	h := rc.routes()
	body := envelope(t)

	for i := 1; i <= 4; i++ {
		assert.Equal(t, http.StatusInternalServerError, post(h, body, "").Code, "request %d", i)
	}
	rec := post(h, body, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandleHook_Signature(t *testing.T) {
	rc := newReceiver(config.FakeReceiver{EndpointSecret: "shh"}, logging.NewWithOutput("test", &bytes.Buffer{}))
	h := rc.routes()
	body := envelope(t)

	assert.Equal(t, http.StatusOK, post(h, body, delivery.Sign("shh", body)).Code)

	rec := post(h, body, delivery.Sign("nope", body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "sig mismatch")

	assert.Equal(t, http.StatusUnauthorized, post(h, body, "").Code)
}

func TestHandleHook_Rejects(t *testing.T) {
	rc := newReceiver(config.FakeReceiver{}, logging.NewWithOutput("test", &bytes.Buffer{}))
	h := rc.routes()

	assert.Equal(t, http.StatusBadRequest, post(h, []byte("not json"), "").Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.True(t, strings.HasSuffix(truncate(strings.Repeat("x", 200), 160), "..."))
}
