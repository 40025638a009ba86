// Package config provides configuration loading and management for Steward.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Steward configuration.
type Config struct {
	Home     string         `yaml:"home"`
	NATS     NATSConfig     `yaml:"nats"`
	HTTP     HTTPConfig     `yaml:"http"`
	Policy   PolicyConfig   `yaml:"policy"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
	GitHub   GitHubConfig   `yaml:"github"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Routing  RoutingConfig  `yaml:"routing"`
}

// RoutingConfig configures the assignment router.
type RoutingConfig struct {
	// Protected lists glob patterns for domains needing human approval
	Protected []string `yaml:"protected"`
	// DefaultReviewer reviews bridge-created and recurring tasks
	DefaultReviewer string `yaml:"default_reviewer"`
}

// NATSConfig configures the NATS connection backing the embedded store.
type NATSConfig struct {
	// URL is the NATS server URL (empty = localhost default)
	URL string `yaml:"url"`
	// MaxReconnects is the reconnect attempt limit (-1 = unlimited)
	MaxReconnects int `yaml:"max_reconnects"`
	// ReconnectWait is the delay between reconnect attempts
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// HTTPConfig configures the HTTP API server.
type HTTPConfig struct {
	// Addr is the listen address (host:port)
	Addr string `yaml:"addr"`
	// ReadTimeout bounds request header+body reads
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout bounds response writes (SSE streams are exempted)
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// GitHubConfig configures the PR integrity collaborator.
type GitHubConfig struct {
	// Token is the API token for PR lookups (empty = anonymous)
	Token string `yaml:"token"`
	// Timeout bounds each PR lookup call
	Timeout time.Duration `yaml:"timeout"`
	// Offline disables live PR lookups; integrity checks return unknown
	Offline bool `yaml:"offline"`
}

// QuietHoursConfig defines a timezone-aware suppression window.
// Overnight windows (start > end) wrap across midnight.
type QuietHoursConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// StartHour is the local hour (0..23) the window opens
	StartHour int `yaml:"start" json:"start"`
	// EndHour is the local hour (0..23) the window closes
	EndHour int `yaml:"end" json:"end"`
	// Timezone is an IANA timezone name
	Timezone string `yaml:"tz" json:"tz"`
}

// WatchdogConfig holds the periodic worker knobs.
type WatchdogConfig struct {
	IdleWarnMin        int           `yaml:"idle_warn_min" json:"idleWarnMin"`
	IdleEscalateMin    int           `yaml:"idle_escalate_min" json:"idleEscalateMin"`
	IdleCooldownMin    int           `yaml:"idle_cooldown_min" json:"idleCooldownMin"`
	PostShipGraceMin   int           `yaml:"post_ship_grace_min" json:"postShipGraceMin"`
	WorkingStaleMin    int           `yaml:"working_stale_min" json:"workingStaleMin"`
	CadenceCooldownMin int           `yaml:"cadence_cooldown_min" json:"cadenceCooldownMin"`
	MentionDelayMin    int           `yaml:"mention_delay_min" json:"mentionDelayMin"`
	MentionCooldownMin int           `yaml:"mention_cooldown_min" json:"mentionCooldownMin"`
	BoardStaleDoingMin int           `yaml:"board_stale_doing_min" json:"boardStaleDoingMin"`
	BoardStaleDoneMin  int           `yaml:"board_stale_done_min" json:"boardStaleDoneMin"`
	MaxActionsPerTick  int           `yaml:"max_actions_per_tick" json:"maxActionsPerTick"`
	RollbackWindow     time.Duration `yaml:"rollback_window" json:"rollbackWindowMs"`
}

// NoiseBudgetConfig governs automated message flow per channel.
type NoiseBudgetConfig struct {
	// Enforce switches from canary (record-only) to enforcement
	Enforce bool `yaml:"enforce" json:"enforce"`
	// MaxPerWindow is the content-message budget per channel per window
	MaxPerWindow int `yaml:"max_per_window" json:"maxPerWindow"`
	// Window is the budget accounting window
	Window time.Duration `yaml:"window" json:"windowMs"`
	// DigestChannel receives diverted non-critical messages
	DigestChannel string `yaml:"digest_channel" json:"digestChannel"`
	// DigestFlushInterval is the digest flush cadence
	DigestFlushInterval time.Duration `yaml:"digest_flush_interval" json:"digestFlushIntervalMs"`
	// DedupeWindow is the alert-integrity sliding window
	DedupeWindow time.Duration `yaml:"dedupe_window" json:"dedupeWindowMs"`
}

// PolicyConfig is the live-reloadable governance policy.
type PolicyConfig struct {
	QuietHours  QuietHoursConfig  `yaml:"quiet_hours" json:"quietHours"`
	Watchdog    WatchdogConfig    `yaml:"watchdog" json:"watchdog"`
	NoiseBudget NoiseBudgetConfig `yaml:"noise_budget" json:"noiseBudget"`

	// DefaultWIPCap is the per-agent in-flight doing limit
	DefaultWIPCap int `yaml:"default_wip_cap" json:"defaultWipCap"`
	// WIPCaps overrides the cap per agent
	WIPCaps map[string]int `yaml:"wip_caps" json:"wipCaps,omitempty"`
	// FocusWindow is the deep-work window opened on *->doing
	FocusWindow time.Duration `yaml:"focus_window" json:"focusWindowMs"`
	// ReflectionDebtTasks is the done-task count that starts owing a reflection
	ReflectionDebtTasks int `yaml:"reflection_debt_tasks" json:"reflectionDebtTasks"`
	// ReflectionDebtAge is the elapsed time that makes the debt blocking
	ReflectionDebtAge time.Duration `yaml:"reflection_debt_age" json:"reflectionDebtAgeMs"`
	// MutationAlertDebounce is the per-(task,kind) alert window
	MutationAlertDebounce time.Duration `yaml:"mutation_alert_debounce" json:"mutationAlertDebounceMs"`
}

// PipelineConfig holds reflection/insight pipeline knobs.
type PipelineConfig struct {
	// ClusterCooldown suppresses bridge re-fires per cluster
	ClusterCooldown time.Duration `yaml:"cluster_cooldown" json:"clusterCooldownMs"`
	// AutoCreateSeverities lists severities that bypass triage
	AutoCreateSeverities []string `yaml:"auto_create_severities" json:"autoCreateSeverities"`
	// BrokenThreshold is how long reflections may flow with zero insight activity
	BrokenThreshold time.Duration `yaml:"broken_threshold" json:"brokenThresholdMs"`
	// BrokenAlertCooldown limits pipeline-broken alerts
	BrokenAlertCooldown time.Duration `yaml:"broken_alert_cooldown" json:"brokenAlertCooldownMs"`
}

// WebhookConfig holds delivery engine knobs.
type WebhookConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"maxAttempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initialBackoffMs"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"maxBackoffMs"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier"`
	MaxConcurrent  int           `yaml:"max_concurrent" json:"maxConcurrent"`
	DeliverTimeout time.Duration `yaml:"deliver_timeout" json:"deliverTimeoutMs"`
	Retention      time.Duration `yaml:"retention" json:"retentionMs"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Home: "", // resolved by loader
		NATS: NATSConfig{
			URL:           "",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:         ":8090",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		GitHub: GitHubConfig{
			Timeout: 10 * time.Second,
		},
		Policy:   DefaultPolicy(),
		Pipeline: DefaultPipeline(),
		Webhooks: DefaultWebhooks(),
		Routing: RoutingConfig{
			DefaultReviewer: "lead",
		},
	}
}

// DefaultPolicy returns the default governance policy.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		QuietHours: QuietHoursConfig{
			Enabled:   false,
			StartHour: 23,
			EndHour:   8,
			Timezone:  "UTC",
		},
		Watchdog: WatchdogConfig{
			IdleWarnMin:        15,
			IdleEscalateMin:    45,
			IdleCooldownMin:    30,
			PostShipGraceMin:   20,
			WorkingStaleMin:    120,
			CadenceCooldownMin: 60,
			MentionDelayMin:    5,
			MentionCooldownMin: 15,
			BoardStaleDoingMin: 240,
			BoardStaleDoneMin:  1440,
			MaxActionsPerTick:  5,
			RollbackWindow:     30 * time.Minute,
		},
		NoiseBudget: NoiseBudgetConfig{
			Enforce:             false,
			MaxPerWindow:        10,
			Window:              10 * time.Minute,
			DigestChannel:       "digest",
			DigestFlushInterval: 15 * time.Minute,
			DedupeWindow:        10 * time.Minute,
		},
		DefaultWIPCap:         2,
		FocusWindow:           45 * time.Minute,
		ReflectionDebtTasks:   2,
		ReflectionDebtAge:     4 * time.Hour,
		MutationAlertDebounce: 10 * time.Minute,
	}
}

// DefaultPipeline returns the default pipeline configuration.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		ClusterCooldown:      30 * time.Minute,
		AutoCreateSeverities: []string{"critical", "high"},
		BrokenThreshold:      10 * time.Minute,
		BrokenAlertCooldown:  30 * time.Minute,
	}
}

// DefaultWebhooks returns the default delivery engine configuration.
func DefaultWebhooks() WebhookConfig {
	return WebhookConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
		Multiplier:     2.0,
		MaxConcurrent:  8,
		DeliverTimeout: 30 * time.Second,
		Retention:      7 * 24 * time.Hour,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.Webhooks.MaxAttempts < 1 {
		return fmt.Errorf("webhooks.max_attempts must be >= 1")
	}
	if c.Webhooks.Multiplier < 1 {
		return fmt.Errorf("webhooks.multiplier must be >= 1")
	}
	if c.Webhooks.MaxConcurrent < 1 {
		return fmt.Errorf("webhooks.max_concurrent must be >= 1")
	}
	return nil
}

// Validate checks policy bounds.
func (p *PolicyConfig) Validate() error {
	qh := p.QuietHours
	if qh.StartHour < 0 || qh.StartHour > 23 {
		return fmt.Errorf("policy.quiet_hours.start must be 0..23")
	}
	if qh.EndHour < 0 || qh.EndHour > 23 {
		return fmt.Errorf("policy.quiet_hours.end must be 0..23")
	}
	if qh.Enabled && qh.Timezone == "" {
		return fmt.Errorf("policy.quiet_hours.tz is required when enabled")
	}
	if p.DefaultWIPCap < 1 {
		return fmt.Errorf("policy.default_wip_cap must be >= 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Home != "" {
		c.Home = other.Home
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.ReconnectWait != 0 {
		c.NATS.ReconnectWait = other.NATS.ReconnectWait
	}
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.ReadTimeout != 0 {
		c.HTTP.ReadTimeout = other.HTTP.ReadTimeout
	}
	if other.HTTP.WriteTimeout != 0 {
		c.HTTP.WriteTimeout = other.HTTP.WriteTimeout
	}
	if other.GitHub.Token != "" {
		c.GitHub.Token = other.GitHub.Token
	}
	if other.GitHub.Timeout != 0 {
		c.GitHub.Timeout = other.GitHub.Timeout
	}
	if other.GitHub.Offline {
		c.GitHub.Offline = true
	}

	c.Policy.Merge(&other.Policy)

	if other.Pipeline.ClusterCooldown != 0 {
		c.Pipeline.ClusterCooldown = other.Pipeline.ClusterCooldown
	}
	if len(other.Pipeline.AutoCreateSeverities) > 0 {
		c.Pipeline.AutoCreateSeverities = other.Pipeline.AutoCreateSeverities
	}
	if other.Pipeline.BrokenThreshold != 0 {
		c.Pipeline.BrokenThreshold = other.Pipeline.BrokenThreshold
	}
	if other.Pipeline.BrokenAlertCooldown != 0 {
		c.Pipeline.BrokenAlertCooldown = other.Pipeline.BrokenAlertCooldown
	}

	if other.Webhooks.MaxAttempts != 0 {
		c.Webhooks.MaxAttempts = other.Webhooks.MaxAttempts
	}
	if other.Webhooks.InitialBackoff != 0 {
		c.Webhooks.InitialBackoff = other.Webhooks.InitialBackoff
	}
	if other.Webhooks.MaxBackoff != 0 {
		c.Webhooks.MaxBackoff = other.Webhooks.MaxBackoff
	}
	if other.Webhooks.Multiplier != 0 {
		c.Webhooks.Multiplier = other.Webhooks.Multiplier
	}
	if other.Webhooks.MaxConcurrent != 0 {
		c.Webhooks.MaxConcurrent = other.Webhooks.MaxConcurrent
	}
	if other.Webhooks.DeliverTimeout != 0 {
		c.Webhooks.DeliverTimeout = other.Webhooks.DeliverTimeout
	}
	if other.Webhooks.Retention != 0 {
		c.Webhooks.Retention = other.Webhooks.Retention
	}

	if len(other.Routing.Protected) > 0 {
		c.Routing.Protected = other.Routing.Protected
	}
	if other.Routing.DefaultReviewer != "" {
		c.Routing.DefaultReviewer = other.Routing.DefaultReviewer
	}
}

// Merge merges another policy into this one.
func (p *PolicyConfig) Merge(other *PolicyConfig) {
	if other == nil {
		return
	}

	if other.QuietHours.Timezone != "" {
		p.QuietHours = other.QuietHours
	}
	if other.Watchdog.IdleWarnMin != 0 {
		p.Watchdog = other.Watchdog
	}
	if other.NoiseBudget.MaxPerWindow != 0 {
		p.NoiseBudget = other.NoiseBudget
	}
	if other.DefaultWIPCap != 0 {
		p.DefaultWIPCap = other.DefaultWIPCap
	}
	if len(other.WIPCaps) > 0 {
		p.WIPCaps = other.WIPCaps
	}
	if other.FocusWindow != 0 {
		p.FocusWindow = other.FocusWindow
	}
	if other.ReflectionDebtTasks != 0 {
		p.ReflectionDebtTasks = other.ReflectionDebtTasks
	}
	if other.ReflectionDebtAge != 0 {
		p.ReflectionDebtAge = other.ReflectionDebtAge
	}
	if other.MutationAlertDebounce != 0 {
		p.MutationAlertDebounce = other.MutationAlertDebounce
	}
}

// WIPCap returns the in-flight doing cap for the given agent.
func (p *PolicyConfig) WIPCap(agent string) int {
	if cap, ok := p.WIPCaps[agent]; ok && cap > 0 {
		return cap
	}
	return p.DefaultWIPCap
}
