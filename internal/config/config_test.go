package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"CORROBORATION_ATTEMPTS", "CORROBORATION_INTERVAL", "CORROBORATION_DEADLINE", "PEGGED_ASSETS"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	if cfg.CorroborationAttempts != 4 {
		t.Errorf("CorroborationAttempts = %d, want 4", cfg.CorroborationAttempts)
	}
	if cfg.CorroborationInterval != 1500*time.Millisecond {
		t.Errorf("CorroborationInterval = %v, want 1.5s", cfg.CorroborationInterval)
	}
	if cfg.CorroborationDeadline != 8*time.Second {
		t.Errorf("CorroborationDeadline = %v, want 8s", cfg.CorroborationDeadline)
	}
	if !cfg.PeggedAssets["USDC"].Equal(decimal.NewFromInt(1)) {
		t.Errorf("USDC peg = %v, want 1", cfg.PeggedAssets["USDC"])
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 3 * time.Second},
		{"250ms", 250 * time.Millisecond},
		{"12", 12 * time.Second},
		{"soon", 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getEnvDuration("TEST_DURATION", 3*time.Second); got != tt.want {
				t.Errorf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParsePegs(t *testing.T) {
	pegs := parsePegs(" usdc=1, EURC = 1.08 ,bad, XYZ=-1, TON=abc")
	if len(pegs) != 2 {
		t.Fatalf("len(pegs) = %d, want 2: %v", len(pegs), pegs)
	}
	if !pegs["EURC"].Equal(decimal.RequireFromString("1.08")) {
		t.Errorf("EURC = %v", pegs["EURC"])
	}
	if _, ok := pegs["USDC"]; !ok {
		t.Error("USDC missing")
	}
}

func TestValidateClampsCorroborationPolicy(t *testing.T) {
	cfg := &Config{CorroborationAttempts: 1, CorroborationInterval: 10 * time.Millisecond}
	cfg.Validate(zap.NewNop())

	if cfg.CorroborationAttempts != 3 {
		t.Errorf("CorroborationAttempts = %d, want 3", cfg.CorroborationAttempts)
	}
	if cfg.CorroborationInterval != time.Second {
		t.Errorf("CorroborationInterval = %v, want 1s", cfg.CorroborationInterval)
	}
	if cfg.ResyncConcurrency != 1 {
		t.Errorf("ResyncConcurrency = %d, want 1", cfg.ResyncConcurrency)
	}
}
