package settings

import (
	"context"
	"time"
)

// Settings are the process-wide rotation tunables.
type Settings struct {
	RotationRequestCount     int `json:"rotationRequestCount"`
	MaxFailureCount          int `json:"maxFailureCount"`
	RateLimitCooldownSeconds int `json:"rateLimitCooldownSeconds"`
	KeyRotationDelaySeconds  int `json:"keyRotationDelaySeconds"`
	MaxRetries               int `json:"maxRetries"`
}

// Defaults are the settings used until an operator stores others.
func Defaults() Settings {
	return Settings{
		RotationRequestCount:     5,
		MaxFailureCount:          5,
		RateLimitCooldownSeconds: 60,
		KeyRotationDelaySeconds:  5,
		MaxRetries:               3,
	}
}

// Clamp forces every field into its supported range.
func (s Settings) Clamp() Settings {
	s.RotationRequestCount = clamp(s.RotationRequestCount, 0, 10000)
	s.MaxFailureCount = clamp(s.MaxFailureCount, 1, 100)
	s.RateLimitCooldownSeconds = clamp(s.RateLimitCooldownSeconds, 1, 86400)
	s.KeyRotationDelaySeconds = clamp(s.KeyRotationDelaySeconds, 0, 120)
	s.MaxRetries = clamp(s.MaxRetries, 1, 10)
	return s
}

// RateLimitCooldown is the fallback cooldown after a 429.
func (s Settings) RateLimitCooldown() time.Duration {
	return time.Duration(s.RateLimitCooldownSeconds) * time.Second
}

// KeyRotationDelay is the pause taken after a 429.
func (s Settings) KeyRotationDelay() time.Duration {
	return time.Duration(s.KeyRotationDelaySeconds) * time.Second
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// Source hands out the current settings.
type Source interface {
	Read(ctx context.Context) Settings
}

// Static is a fixed Source.
type Static Settings

func (s Static) Read(context.Context) Settings {
	return Settings(s)
}
