package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/austindbirch/sol_hook/internal/config"
	"github.com/austindbirch/sol_hook/internal/ratelimit"
)

func TestLimiterConfig(t *testing.T) {
	got := limiterConfig(config.RateLimit{
		Points:    1000,
		Window:    time.Minute,
		KeyPrefix: "rate",
		FailOpen:  true,
		Tiers: map[string]config.RateTier{
			"pro": {Points: 5000, Window: time.Minute},
		},
	})

	assert.Equal(t, ratelimit.Config{
		Default:   ratelimit.Policy{Points: 1000, Window: time.Minute},
		Tiers:     map[string]ratelimit.Policy{"pro": {Points: 5000, Window: time.Minute}},
		KeyPrefix: "rate",
	}, got)
}

func TestLimiterConfigNoTiers(t *testing.T) {
	got := limiterConfig(config.RateLimit{Points: 10, Window: time.Second})
	assert.Empty(t, got.Tiers)
	assert.True(t, got.FailClosed)
}
