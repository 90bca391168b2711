package config

import (
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY_1",
			defaultValue: "default",
			envValue:     "env_value",
			expected:     "env_value",
		},
		{
			name:         "returns default when environment variable is empty",
			key:          "TEST_KEY_2",
			defaultValue: "default",
			envValue:     "",
			expected:     "default",
		},
		{
			name:         "handles empty default value",
			key:          "TEST_KEY_3",
			defaultValue: "",
			envValue:     "env_value",
			expected:     "env_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)

			result := getenv(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.AppName != "solhook" {
		t.Errorf("AppName = %q, want %q", cfg.AppName, "solhook")
	}
	if cfg.Delivery.PoolSize != 10 {
		t.Errorf("Delivery.PoolSize = %d, want 10", cfg.Delivery.PoolSize)
	}
	if cfg.Delivery.MaxAttempts != 5 {
		t.Errorf("Delivery.MaxAttempts = %d, want 5", cfg.Delivery.MaxAttempts)
	}
	if cfg.Delivery.BaseDelay != time.Second {
		t.Errorf("Delivery.BaseDelay = %v, want 1s", cfg.Delivery.BaseDelay)
	}
	if cfg.Delivery.HTTPTimeout != 10*time.Second {
		t.Errorf("Delivery.HTTPTimeout = %v, want 10s", cfg.Delivery.HTTPTimeout)
	}
	if cfg.RateLimit.Points != 1000 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("RateLimit = %d/%v, want 1000/1m", cfg.RateLimit.Points, cfg.RateLimit.Window)
	}
	if !cfg.RateLimit.FailOpen {
		t.Error("RateLimit.FailOpen = false, want true")
	}
	if cfg.RateLimit.KeyPrefix != "rate" {
		t.Errorf("RateLimit.KeyPrefix = %q, want %q", cfg.RateLimit.KeyPrefix, "rate")
	}
	if got := cfg.Ingest.Channels["token_transfer:*"]; got != "token_transfer" {
		t.Errorf("Ingest.Channels[token_transfer:*] = %q, want token_transfer", got)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("APP_NAME", "test-app")
	t.Setenv("DELIVERY_POOL_SIZE", "3")
	t.Setenv("MAX_ATTEMPTS", "7")
	t.Setenv("BACKOFF_JITTER", "true")
	t.Setenv("RATE_LIMIT_POINTS", "3")
	t.Setenv("RATE_LIMIT_WINDOW", "2s")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "false")
	t.Setenv("RATE_LIMIT_TIERS", "pro=5000/60s")
	t.Setenv("WORKER_HTTP_PORT", "9999")

	cfg := FromEnv()

	if cfg.AppName != "test-app" {
		t.Errorf("AppName = %q, want test-app", cfg.AppName)
	}
	if cfg.Delivery.PoolSize != 3 {
		t.Errorf("Delivery.PoolSize = %d, want 3", cfg.Delivery.PoolSize)
	}
	if cfg.Delivery.MaxAttempts != 7 {
		t.Errorf("Delivery.MaxAttempts = %d, want 7", cfg.Delivery.MaxAttempts)
	}
	if !cfg.Delivery.Jitter {
		t.Error("Delivery.Jitter = false, want true")
	}
	if cfg.Delivery.HTTPPort != ":9999" {
		t.Errorf("Delivery.HTTPPort = %q, want :9999", cfg.Delivery.HTTPPort)
	}
	if cfg.RateLimit.Points != 3 || cfg.RateLimit.Window != 2*time.Second {
		t.Errorf("RateLimit = %d/%v, want 3/2s", cfg.RateLimit.Points, cfg.RateLimit.Window)
	}
	if cfg.RateLimit.FailOpen {
		t.Error("RateLimit.FailOpen = true, want false")
	}
	if tier, ok := cfg.RateLimit.Tiers["pro"]; !ok || tier.Points != 5000 || tier.Window != time.Minute {
		t.Errorf("RateLimit.Tiers[pro] = %+v, want 5000/1m", tier)
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{DB: DB{User: "u", Pass: "p", Host: "h", Port: "5432", Name: "n"}}
	want := "postgres://u:p@h:5432/n?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestGetenvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      time.Duration
		expected time.Duration
	}{
		{name: "valid duration", envValue: "1m30s", def: time.Second, expected: 90 * time.Second},
		{name: "invalid duration", envValue: "soon", def: time.Second, expected: time.Second},
		{name: "empty string", envValue: "", def: 5 * time.Second, expected: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION_VAR", tt.envValue)
			result := getenvDuration("TEST_DURATION_VAR", tt.def)
			if result != tt.expected {
				t.Errorf("getenvDuration(%q, %v) = %v, want %v", tt.envValue, tt.def, result, tt.expected)
			}
		})
	}
}

func TestParseRateTiers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected map[string]RateTier
	}{
		{
			name:     "empty string",
			input:    "",
			expected: map[string]RateTier{},
		},
		{
			name:  "two tiers with spaces",
			input: "pro=5000/60s, free = 100/1m",
			expected: map[string]RateTier{
				"pro":  {Points: 5000, Window: time.Minute},
				"free": {Points: 100, Window: time.Minute},
			},
		},
		{
			name:  "malformed entries skipped",
			input: "pro=abc/60s,team=10,burst=0/1s,ok=5/1s",
			expected: map[string]RateTier{
				"ok": {Points: 5, Window: time.Second},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseRateTiers(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("parseRateTiers(%q) returned %d tiers, want %d", tt.input, len(result), len(tt.expected))
			}
			for name, want := range tt.expected {
				if got := result[name]; got != want {
					t.Errorf("parseRateTiers(%q)[%q] = %+v, want %+v", tt.input, name, got, want)
				}
			}
		})
	}
}

func TestParseIngestChannels(t *testing.T) {
	got := parseIngestChannels("swap:*=swap, bad, =x")
	if len(got) != 1 || got["swap:*"] != "swap" {
		t.Errorf("parseIngestChannels() = %v, want map[swap:*:swap]", got)
	}

	defaults := parseIngestChannels("")
	defaults["account:*"] = "mutated"
	if again := parseIngestChannels(""); again["account:*"] != "account_update" {
		t.Errorf("default channels were mutated through a returned map: %v", again)
	}
}
