// Package trace implements the per-attempt visual trace engine: it decides
// when an instrumented action should produce a screenshot, enforces the
// per-attempt capture quota, and deduplicates byte-identical frames.
package trace

import (
	"strings"

	"gopkg.in/guregu/null.v3"
)

// Screenshot policies accepted by Config.Screenshots. Plain boolean
// spellings normalize onto PolicyOn and PolicyOff.
const (
	PolicyOn              = "on"
	PolicyOff             = "off"
	PolicyRetainOnFailure = "retain-on-failure"
)

// DefaultMaxScreenshots caps captures per attempt so a tap-heavy test cannot
// flood the report with hundreds of near-identical frames.
const DefaultMaxScreenshots = 50

// Config controls one engine instance. Null fields fall back to the engine
// defaults, which keeps partial overrides mergeable: a field a caller never
// set stays invalid and survives Apply untouched.
//
//nolint:lll
type Config struct {
	Screenshots    null.String `json:"screenshots" envconfig:"APPWRIGHT_TRACE_SCREENSHOTS"`
	MaxScreenshots null.Int    `json:"maxScreenshots" envconfig:"APPWRIGHT_TRACE_MAX_SCREENSHOTS"`
	Dedupe         null.Bool   `json:"dedupe" envconfig:"APPWRIGHT_TRACE_DEDUPE"`
}

// NewConfig returns a Config holding the engine defaults. The values are
// stored with Valid=false so they merge as defaults, not explicit choices.
func NewConfig() Config {
	return Config{
		Screenshots:    null.NewString(PolicyRetainOnFailure, false),
		MaxScreenshots: null.NewInt(DefaultMaxScreenshots, false),
		Dedupe:         null.NewBool(true, false),
	}
}

// Apply merges set values from cfg over the receiver. Unset fields keep
// their prior values.
func (c Config) Apply(cfg Config) Config {
	if cfg.Screenshots.Valid {
		c.Screenshots = cfg.Screenshots
	}
	if cfg.MaxScreenshots.Valid {
		c.MaxScreenshots = cfg.MaxScreenshots
	}
	if cfg.Dedupe.Valid {
		c.Dedupe = cfg.Dedupe
	}
	return c
}

// policy returns the normalized screenshot policy string.
func (c Config) policy() string {
	return normalizePolicy(c.Screenshots.String)
}

// screenshotsOff reports whether screenshots were explicitly disabled. The
// default policy never counts as explicit.
func (c Config) screenshotsOff() bool {
	return c.Screenshots.Valid && c.policy() == PolicyOff
}

// maxScreenshots returns the effective per-attempt quota.
func (c Config) maxScreenshots() int64 {
	if c.MaxScreenshots.Int64 < 0 {
		return 0
	}
	return c.MaxScreenshots.Int64
}

// dedupeEnabled reports whether byte-level deduplication applies.
func (c Config) dedupeEnabled() bool {
	return c.Dedupe.Bool
}

// normalizePolicy folds boolean spellings onto the canonical policy names.
func normalizePolicy(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "on", "1":
		return PolicyOn
	case "false", "off", "0":
		return PolicyOff
	default:
		return strings.ToLower(strings.TrimSpace(v))
	}
}
