// Package config handles TOML and YAML configuration for amikeeper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/amikeeper/pkg/retention"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Notification channels.
const (
	ChannelSES = "ses"
	ChannelSNS = "sns"
	ChannelLog = "log"
)

const (
	defaultCreateConcurrency   = 10
	defaultReapConcurrency     = 10
	defaultSnapshotConcurrency = 4
)

// Config is the root configuration structure.
type Config struct {
	Region      string            `toml:"region" yaml:"region"`
	Profile     string            `toml:"profile" yaml:"profile"`
	MarkerTag   string            `toml:"marker_tag" yaml:"marker_tag"`
	DryRun      bool              `toml:"dry_run" yaml:"dry_run"`
	Retention   RetentionConfig   `toml:"retention" yaml:"retention"`
	Image       ImageConfig       `toml:"image" yaml:"image"`
	Concurrency ConcurrencyConfig `toml:"concurrency" yaml:"concurrency"`
	Failure     FailureConfig     `toml:"failure" yaml:"failure"`
	Notify      NotifyConfig      `toml:"notify" yaml:"notify"`
	Policy      PolicyConfig      `toml:"policy" yaml:"policy"`
	Daemon      DaemonConfig      `toml:"daemon" yaml:"daemon"`
	OTEL        OTELConfig        `toml:"otel" yaml:"otel"`
	Log         LogConfig         `toml:"log" yaml:"log"`
}

// RetentionConfig is how long created images live.
type RetentionConfig struct {
	Magnitude int    `toml:"magnitude" yaml:"magnitude"`
	Unit      string `toml:"unit" yaml:"unit"`
	Timezone  string `toml:"timezone" yaml:"timezone"`
}

// ImageConfig controls image creation.
type ImageConfig struct {
	Reboot            bool   `toml:"reboot" yaml:"reboot"`
	ReservedTagPrefix string `toml:"reserved_tag_prefix" yaml:"reserved_tag_prefix"`
}

// ConcurrencyConfig bounds each fan-out. Zero means unbounded; unset
// takes the default.
type ConcurrencyConfig struct {
	Create    *int `toml:"create" yaml:"create"`
	Reap      *int `toml:"reap" yaml:"reap"`
	Snapshots *int `toml:"snapshots" yaml:"snapshots"`
}

// FailureConfig holds the failed-item ratios above which a stage fails the run.
type FailureConfig struct {
	MaxCreateFailureRatio *float64 `toml:"max_create_failure_ratio" yaml:"max_create_failure_ratio"`
	MaxReapFailureRatio   *float64 `toml:"max_reap_failure_ratio" yaml:"max_reap_failure_ratio"`
}

// NotifyConfig holds report delivery settings. Every listed channel gets
// the report.
type NotifyConfig struct {
	Channels      []string `toml:"channels" yaml:"channels"`
	Sender        string   `toml:"sender" yaml:"sender"`
	To            []string `toml:"to" yaml:"to"`
	Cc            []string `toml:"cc" yaml:"cc"`
	SNSTopicARN   string   `toml:"sns_topic_arn" yaml:"sns_topic_arn"`
	SubjectPrefix string   `toml:"subject_prefix" yaml:"subject_prefix"`
}

// PolicyConfig points at an optional Rego protection policy.
type PolicyConfig struct {
	File string `toml:"file" yaml:"file"`
}

// DaemonConfig holds scheduler and HTTP settings.
type DaemonConfig struct {
	Schedule    string `toml:"schedule" yaml:"schedule"`
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool          `toml:"insecure" yaml:"insecure"`
	ServiceName string        `toml:"service_name" yaml:"service_name"`
	Traces      TracesConfig  `toml:"traces" yaml:"traces"`
	Metrics     MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled" yaml:"enabled"`
	SampleRate float64 `toml:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Load reads path (when non-empty), applies environment overrides, then
// overrides (typically CLI flags), then defaults, and validates the result.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	return load(path, os.LookupEnv, overrides...)
}

func load(path string, lookup func(string) (string, bool), overrides ...func(*Config)) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// envVar lists the names checked for one setting, first match wins. The
// camelCase names are the ones the Lambda deployment used.
type envVar struct {
	names []string
	apply func(cfg *Config, v string) error
}

var envVars = []envVar{
	{[]string{"AMIKEEPER_REGION", "AWS_REGION"}, func(c *Config, v string) error { c.Region = v; return nil }},
	{[]string{"AMIKEEPER_PROFILE", "AWS_PROFILE"}, func(c *Config, v string) error { c.Profile = v; return nil }},
	{[]string{"AMIKEEPER_MARKER_TAG", "tagName"}, func(c *Config, v string) error { c.MarkerTag = v; return nil }},
	{[]string{"AMIKEEPER_SENDER", "sourceEmailId"}, func(c *Config, v string) error { c.Notify.Sender = v; return nil }},
	{[]string{"AMIKEEPER_TO", "destinationEmailId"}, func(c *Config, v string) error { c.Notify.To = splitList(v); return nil }},
	{[]string{"AMIKEEPER_CC", "CCEmailId"}, func(c *Config, v string) error { c.Notify.Cc = splitList(v); return nil }},
	{[]string{"AMIKEEPER_RETENTION_UNIT", "retentionType"}, func(c *Config, v string) error { c.Retention.Unit = v; return nil }},
	{[]string{"AMIKEEPER_RETENTION_MAGNITUDE", "retentionTime"}, func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: retention magnitude %q: %v", ErrInvalid, v, err)
		}
		c.Retention.Magnitude = n
		return nil
	}},
	{[]string{"AMIKEEPER_NOTIFY_CHANNELS", "AMIKEEPER_NOTIFY_CHANNEL"}, func(c *Config, v string) error { c.Notify.Channels = splitList(v); return nil }},
	{[]string{"AMIKEEPER_SNS_TOPIC_ARN"}, func(c *Config, v string) error { c.Notify.SNSTopicARN = v; return nil }},
	{[]string{"AMIKEEPER_POLICY_FILE"}, func(c *Config, v string) error { c.Policy.File = v; return nil }},
	{[]string{"AMIKEEPER_DRY_RUN"}, func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: dry run %q: %v", ErrInvalid, v, err)
		}
		c.DryRun = b
		return nil
	}},
	{[]string{"AMIKEEPER_LOG_LEVEL"}, func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{[]string{"OTEL_EXPORTER_OTLP_ENDPOINT"}, func(c *Config, v string) error { c.OTEL.Endpoint = v; return nil }},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		for _, name := range ev.names {
			v, ok := lookup(name)
			if !ok || v == "" {
				continue
			}
			if err := ev.apply(cfg, v); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.MarkerTag == "" {
		cfg.MarkerTag = "BackupNode"
	}
	if cfg.Retention.Timezone == "" {
		cfg.Retention.Timezone = "UTC"
	}
	if cfg.Image.ReservedTagPrefix == "" {
		cfg.Image.ReservedTagPrefix = "aws:"
	}
	if cfg.Concurrency.Create == nil {
		cfg.Concurrency.Create = intPtr(defaultCreateConcurrency)
	}
	if cfg.Concurrency.Reap == nil {
		cfg.Concurrency.Reap = intPtr(defaultReapConcurrency)
	}
	if cfg.Concurrency.Snapshots == nil {
		cfg.Concurrency.Snapshots = intPtr(defaultSnapshotConcurrency)
	}
	if len(cfg.Notify.Channels) == 0 {
		cfg.Notify.Channels = []string{ChannelSES}
	}
	if cfg.Daemon.Schedule == "" {
		cfg.Daemon.Schedule = "0 2 * * *"
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = ":9090"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "amikeeper"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("%w: region required", ErrInvalid)
	}
	if c.MarkerTag == "" {
		return fmt.Errorf("%w: marker_tag required", ErrInvalid)
	}
	if _, err := c.RetentionPolicy(); err != nil {
		return fmt.Errorf("%w: retention: %v", ErrInvalid, err)
	}
	for _, n := range []*int{c.Concurrency.Create, c.Concurrency.Reap, c.Concurrency.Snapshots} {
		if n != nil && *n < 0 {
			return fmt.Errorf("%w: concurrency must not be negative", ErrInvalid)
		}
	}
	for name, r := range map[string]*float64{
		"max_create_failure_ratio": c.Failure.MaxCreateFailureRatio,
		"max_reap_failure_ratio":   c.Failure.MaxReapFailureRatio,
	} {
		if r != nil && (*r < 0 || *r > 1) {
			return fmt.Errorf("%w: failure.%s must be between 0.0 and 1.0 (got %v)", ErrInvalid, name, *r)
		}
	}

	if err := c.Notify.validate(); err != nil {
		return err
	}

	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("%w: otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", ErrInvalid, c.OTEL.Traces.SampleRate)
	}
	return nil
}

func (n NotifyConfig) validate() error {
	seen := make(map[string]bool, len(n.Channels))
	for _, ch := range n.Channels {
		if seen[ch] {
			return fmt.Errorf("%w: notify: channel %q listed twice", ErrInvalid, ch)
		}
		seen[ch] = true

		switch ch {
		case ChannelSES:
			if n.Sender == "" || len(n.To) == 0 {
				return fmt.Errorf("%w: notify: ses needs sender and at least one recipient", ErrInvalid)
			}
		case ChannelSNS:
			if n.SNSTopicARN == "" {
				return fmt.Errorf("%w: notify: sns needs sns_topic_arn", ErrInvalid)
			}
		case ChannelLog:
		default:
			return fmt.Errorf("%w: notify: unknown channel %q", ErrInvalid, ch)
		}
	}
	return nil
}

// RetentionPolicy builds the validated retention policy in the configured zone.
func (c *Config) RetentionPolicy() (retention.Policy, error) {
	p, err := retention.New(c.Retention.Magnitude, c.Retention.Unit)
	if err != nil {
		return retention.Policy{}, err
	}

	tz := c.Retention.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return retention.Policy{}, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return p.In(loc), nil
}

// CreateConcurrency returns the creation fan-out bound, 10 when unset.
func (c *Config) CreateConcurrency() int {
	return intOr(c.Concurrency.Create, defaultCreateConcurrency)
}

// ReapConcurrency returns the reap fan-out bound, 10 when unset.
func (c *Config) ReapConcurrency() int {
	return intOr(c.Concurrency.Reap, defaultReapConcurrency)
}

// SnapshotConcurrency returns the per-image snapshot fan-out bound, 4 when unset.
func (c *Config) SnapshotConcurrency() int {
	return intOr(c.Concurrency.Snapshots, defaultSnapshotConcurrency)
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func intPtr(n int) *int { return &n }

// CreateFailureRatio returns the creation threshold, 0 when unset.
func (c *Config) CreateFailureRatio() float64 {
	if c.Failure.MaxCreateFailureRatio == nil {
		return 0
	}
	return *c.Failure.MaxCreateFailureRatio
}

// ReapFailureRatio returns the reap threshold, 1 when unset.
func (c *Config) ReapFailureRatio() float64 {
	if c.Failure.MaxReapFailureRatio == nil {
		return 1
	}
	return *c.Failure.MaxReapFailureRatio
}
