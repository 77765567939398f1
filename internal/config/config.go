package config

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"
)

// Config holds all configuration for the emplaiyed application.
// Values are loaded from environment variables.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// ServerAddr is the base URL client subcommands talk to.
	ServerAddr string `json:"server_addr"`

	// ScanSchedule is a standard 5-field cron expression.
	ScanSchedule string `json:"scan_schedule"`
	Timezone     string `json:"timezone"`

	CooldownDays      int `json:"cooldown_days"`
	FollowUpBudget    int `json:"follow_up_budget"`
	MaxActionsPerScan int `json:"max_actions_per_scan"`

	PrepLeadWindow    time.Duration `json:"-"`
	PrepLeadWindowStr string        `json:"prep_lead_window"`

	OfferDeadlineWindow    time.Duration `json:"-"`
	OfferDeadlineWindowStr string        `json:"offer_deadline_window"`

	ApprovalTimeout    time.Duration `json:"-"`
	ApprovalTimeoutStr string        `json:"approval_timeout"`

	ChannelTimeout    time.Duration `json:"-"`
	ChannelTimeoutStr string        `json:"channel_timeout"`

	// DeclinePolicy: "release" (retry next scan) or "skip" (commit, never retry).
	DeclinePolicy string `json:"decline_policy"`

	// AutoApprove lists action kinds that bypass the human gate,
	// comma-separated. Ghost transitions always bypass it.
	AutoApprove string `json:"auto_approve,omitempty"`

	ReservationTTL    time.Duration `json:"-"`
	ReservationTTLStr string        `json:"reservation_ttl"`

	SweepInterval    time.Duration `json:"-"`
	SweepIntervalStr string        `json:"sweep_interval"`

	SweepBatchSize int `json:"sweep_batch_size"`
	BusBufferSize  int `json:"bus_buffer_size"`

	OutreachWebhookURL string `json:"outreach_webhook_url"`
	PrepWebhookURL     string `json:"prep_webhook_url"`
	NotifyWebhookURL   string `json:"notify_webhook_url"`
	WebhookSecret      string `json:"webhook_secret"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	AnalyticsWindowStr    string        `json:"analytics_window"`
	AnalyticsWindow       time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`
	AnalyticsRetention    time.Duration `json:"-"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	// LeaderEnabled gates advisory-lock leader election; single-instance
	// deployments run without it.
	LeaderEnabled bool `json:"leader_enabled"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		ServerAddr:                 os.Getenv("EMPLAIYED_ADDR"),
		ScanSchedule:               os.Getenv("SCAN_SCHEDULE"),
		Timezone:                   os.Getenv("TIMEZONE"),
		PrepLeadWindowStr:          os.Getenv("PREP_LEAD_WINDOW"),
		OfferDeadlineWindowStr:     os.Getenv("OFFER_DEADLINE_WINDOW"),
		ApprovalTimeoutStr:         os.Getenv("APPROVAL_TIMEOUT"),
		ChannelTimeoutStr:          os.Getenv("CHANNEL_TIMEOUT"),
		DeclinePolicy:              os.Getenv("DECLINE_POLICY"),
		AutoApprove:                os.Getenv("AUTO_APPROVE"),
		ReservationTTLStr:          os.Getenv("RESERVATION_TTL"),
		SweepIntervalStr:           os.Getenv("SWEEP_INTERVAL"),
		OutreachWebhookURL:         os.Getenv("OUTREACH_WEBHOOK_URL"),
		PrepWebhookURL:             os.Getenv("PREP_WEBHOOK_URL"),
		NotifyWebhookURL:           os.Getenv("NOTIFY_WEBHOOK_URL"),
		WebhookSecret:              os.Getenv("WEBHOOK_SECRET"),
		CircuitBreakerCooldownStr:  os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                os.Getenv("METRICS_PATH"),
		AnalyticsWindowStr:         os.Getenv("ANALYTICS_WINDOW"),
		AnalyticsRetentionStr:      os.Getenv("ANALYTICS_RETENTION"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:       os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		LeaderEnabled:              os.Getenv("LEADER_ELECTION_ENABLED") == "true",
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DispatcherDrainTimeoutStr:  os.Getenv("DISPATCHER_DRAIN_TIMEOUT"),
	}

	if cooldownStr := os.Getenv("COOLDOWN_DAYS"); cooldownStr != "" {
		if n, err := parseInt(cooldownStr); err == nil && n > 0 {
			cfg.CooldownDays = n
		} else {
			log.Printf("config: invalid COOLDOWN_DAYS %q (must be a positive integer), using default 5", cooldownStr)
		}
	}
	if cfg.CooldownDays == 0 {
		cfg.CooldownDays = 5
	}

	// Zero is a valid budget (never follow up), so the default applies only
	// when the variable is absent or unparseable.
	cfg.FollowUpBudget = 2
	if budgetStr := os.Getenv("FOLLOWUP_BUDGET"); budgetStr != "" {
		if n, err := parseInt(budgetStr); err == nil {
			cfg.FollowUpBudget = n
		} else {
			log.Printf("config: invalid FOLLOWUP_BUDGET %q, using default 2", budgetStr)
		}
	}

	if maxStr := os.Getenv("MAX_ACTIONS_PER_SCAN"); maxStr != "" {
		if n, err := parseInt(maxStr); err == nil && n > 0 {
			cfg.MaxActionsPerScan = n
		} else {
			log.Printf("config: invalid MAX_ACTIONS_PER_SCAN %q (must be a positive integer), using default 50", maxStr)
		}
	}
	if cfg.MaxActionsPerScan == 0 {
		cfg.MaxActionsPerScan = 50
	}

	if batchStr := os.Getenv("SWEEP_BATCH_SIZE"); batchStr != "" {
		if n, err := parseInt(batchStr); err == nil && n > 0 {
			cfg.SweepBatchSize = n
		}
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = 100
	}

	if bufStr := os.Getenv("BUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.BusBufferSize = n
		} else {
			log.Printf("config: invalid BUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.BusBufferSize == 0 {
		cfg.BusBufferSize = 100
	}

	// Zero disables the breaker, so the default applies only when the
	// variable is absent or unparseable.
	cfg.CircuitBreakerThreshold = 5
	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 815233", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 815233
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = "http://localhost:8080"
	}
	if cfg.ScanSchedule == "" {
		cfg.ScanSchedule = "*/5 * * * *"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.PrepLeadWindowStr == "" {
		cfg.PrepLeadWindowStr = "24h"
	}
	if cfg.OfferDeadlineWindowStr == "" {
		cfg.OfferDeadlineWindowStr = "72h"
	}
	if cfg.ApprovalTimeoutStr == "" {
		cfg.ApprovalTimeoutStr = "30m"
	}
	if cfg.ChannelTimeoutStr == "" {
		cfg.ChannelTimeoutStr = "10s"
	}
	if cfg.DeclinePolicy == "" {
		cfg.DeclinePolicy = "release"
	}
	if cfg.ReservationTTLStr == "" {
		cfg.ReservationTTLStr = "1h"
	}
	if cfg.SweepIntervalStr == "" {
		cfg.SweepIntervalStr = "5m"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.AnalyticsWindowStr == "" {
		cfg.AnalyticsWindowStr = "1h"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "720h"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.DispatcherDrainTimeoutStr == "" {
		cfg.DispatcherDrainTimeoutStr = "30s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.PrepLeadWindowStr); err == nil {
		cfg.PrepLeadWindow = d
	}
	if d, err := time.ParseDuration(cfg.OfferDeadlineWindowStr); err == nil {
		cfg.OfferDeadlineWindow = d
	}
	if d, err := time.ParseDuration(cfg.ApprovalTimeoutStr); err == nil {
		cfg.ApprovalTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ChannelTimeoutStr); err == nil {
		cfg.ChannelTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ReservationTTLStr); err == nil {
		cfg.ReservationTTL = d
	}
	if d, err := time.ParseDuration(cfg.SweepIntervalStr); err == nil {
		cfg.SweepInterval = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsWindowStr); err == nil {
		cfg.AnalyticsWindow = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsRetentionStr); err == nil {
		cfg.AnalyticsRetention = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DispatcherDrainTimeoutStr); err == nil {
		cfg.DispatcherDrainTimeout = d
	}

	return cfg
}

// AutoApproveKinds splits the AUTO_APPROVE list into trimmed entries.
func (c Config) AutoApproveKinds() []string {
	if c.AutoApprove == "" {
		return nil
	}
	parts := strings.Split(c.AutoApprove, ",")
	var kinds []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			kinds = append(kinds, trimmed)
		}
	}
	return kinds
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		ServerAddr              string `json:"server_addr"`
		ScanSchedule            string `json:"scan_schedule"`
		Timezone                string `json:"timezone"`
		CooldownDays            int    `json:"cooldown_days"`
		FollowUpBudget          int    `json:"follow_up_budget"`
		MaxActionsPerScan       int    `json:"max_actions_per_scan"`
		PrepLeadWindow          string `json:"prep_lead_window"`
		OfferDeadlineWindow     string `json:"offer_deadline_window"`
		ApprovalTimeout         string `json:"approval_timeout"`
		ChannelTimeout          string `json:"channel_timeout"`
		DeclinePolicy           string `json:"decline_policy"`
		AutoApprove             string `json:"auto_approve,omitempty"`
		ReservationTTL          string `json:"reservation_ttl"`
		SweepInterval           string `json:"sweep_interval"`
		SweepBatchSize          int    `json:"sweep_batch_size"`
		BusBufferSize           int    `json:"bus_buffer_size"`
		OutreachWebhookURL      string `json:"outreach_webhook_url"`
		PrepWebhookURL          string `json:"prep_webhook_url"`
		NotifyWebhookURL        string `json:"notify_webhook_url"`
		WebhookSecret           string `json:"webhook_secret"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		AnalyticsWindow         string `json:"analytics_window"`
		AnalyticsRetention      string `json:"analytics_retention"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		LeaderEnabled           bool   `json:"leader_enabled"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		DispatcherDrainTimeout  string `json:"dispatcher_drain_timeout"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		ServerAddr:              c.ServerAddr,
		ScanSchedule:            c.ScanSchedule,
		Timezone:                c.Timezone,
		CooldownDays:            c.CooldownDays,
		FollowUpBudget:          c.FollowUpBudget,
		MaxActionsPerScan:       c.MaxActionsPerScan,
		PrepLeadWindow:          c.PrepLeadWindowStr,
		OfferDeadlineWindow:     c.OfferDeadlineWindowStr,
		ApprovalTimeout:         c.ApprovalTimeoutStr,
		ChannelTimeout:          c.ChannelTimeoutStr,
		DeclinePolicy:           c.DeclinePolicy,
		AutoApprove:             c.AutoApprove,
		ReservationTTL:          c.ReservationTTLStr,
		SweepInterval:           c.SweepIntervalStr,
		SweepBatchSize:          c.SweepBatchSize,
		BusBufferSize:           c.BusBufferSize,
		OutreachWebhookURL:      c.OutreachWebhookURL,
		PrepWebhookURL:          c.PrepWebhookURL,
		NotifyWebhookURL:        c.NotifyWebhookURL,
		WebhookSecret:           maskSecret(c.WebhookSecret),
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		AnalyticsWindow:         c.AnalyticsWindowStr,
		AnalyticsRetention:      c.AnalyticsRetentionStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		LeaderEnabled:           c.LeaderEnabled,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		DispatcherDrainTimeout:  c.DispatcherDrainTimeoutStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
