package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy carries the tunable money-movement thresholds. They live in a
// YAML profile rather than code so finance can adjust them per
// deployment without a release.
type Policy struct {
	// DualControlThresholdMinor is the amount in minor units above which
	// money-moving admin actions require a second approver.
	DualControlThresholdMinor int64 `yaml:"dual_control_threshold_minor"`
	// AutoReleaseDays is how long secured funds sit before becoming
	// eligible for automatic release.
	AutoReleaseDays int `yaml:"auto_release_days"`
	// RateLimitRPM and RateLimitBurst bound per-actor request rates.
	RateLimitRPM   int `yaml:"rate_limit_rpm"`
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// DefaultPolicy returns the production defaults: dual control above
// 50,000.00 (at scale 2), a 7 day auto-release window.
func DefaultPolicy() Policy {
	return Policy{
		DualControlThresholdMinor: 5_000_000,
		AutoReleaseDays:           7,
		RateLimitRPM:              300,
		RateLimitBurst:            50,
	}
}

// LoadPolicy reads a policy profile YAML. Fields absent from the file
// keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("load policy %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parse policy %q: %w", path, err)
	}

	if err := policy.Validate(); err != nil {
		return DefaultPolicy(), err
	}
	return policy, nil
}

// Validate rejects profiles that would disable safety behaviors.
func (p Policy) Validate() error {
	var problems []string
	if p.DualControlThresholdMinor <= 0 {
		problems = append(problems, "dual_control_threshold_minor must be positive")
	}
	if p.AutoReleaseDays <= 0 {
		problems = append(problems, "auto_release_days must be positive")
	}
	if p.RateLimitRPM <= 0 {
		problems = append(problems, "rate_limit_rpm must be positive")
	}
	if p.RateLimitBurst <= 0 {
		problems = append(problems, "rate_limit_burst must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid policy: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
