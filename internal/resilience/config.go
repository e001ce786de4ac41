package resilience

import (
	"time"

	"github.com/sells-group/trigger-cli/internal/config"
)

// PolicyFromConfig builds the retry policy from configuration, keeping
// defaults for unset values. maxAttempts overrides the configured attempt
// count when positive.
func PolicyFromConfig(cfg config.ResilienceConfig, maxAttempts int) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if cfg.InitialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.JitterFraction >= 0 {
		p.JitterFraction = cfg.JitterFraction
	}
	return p
}

// BreakerFromConfig builds the breaker config from configuration.
func BreakerFromConfig(cfg config.ResilienceConfig) BreakerConfig {
	b := DefaultBreakerConfig()
	if cfg.FailureThreshold > 0 {
		b.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeoutSecs > 0 {
		b.CoolDown = time.Duration(cfg.ResetTimeoutSecs) * time.Second
	}
	return b
}
