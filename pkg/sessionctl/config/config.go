package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
	"k8s.io/utils/ptr"

	"github.com/telekom/sessionctl/pkg/sessionctl/cache"
	"github.com/telekom/sessionctl/pkg/sessionctl/entity"
	"github.com/telekom/sessionctl/pkg/sessionctl/recovery"
	"github.com/telekom/sessionctl/pkg/sessionctl/session"
	"github.com/telekom/sessionctl/pkg/sessionctl/token"
	"github.com/telekom/sessionctl/pkg/telemetry"
)

const (
	VersionV1          = "v1"
	DefaultContextName = "default"
	DefaultBinary      = "aio"
)

type Config struct {
	Version        string    `yaml:"version"`
	CurrentContext string    `yaml:"current-context,omitempty"`
	Contexts       []Context `yaml:"contexts,omitempty"`
	Settings       Settings  `yaml:"settings,omitempty"`
}

type Settings struct {
	OutputFormat   string `yaml:"output-format,omitempty"`
	NonInteractive bool   `yaml:"non-interactive,omitempty"`
	// MetricsFile receives the metrics of each run in the Prometheus text
	// format when set.
	MetricsFile string  `yaml:"metrics-file,omitempty"`
	Tracing     Tracing `yaml:"tracing,omitempty"`
}

// Tracing configures OpenTelemetry spans around identity CLI calls and
// session operations.
type Tracing struct {
	Enabled      bool    `yaml:"enabled,omitempty"`
	Exporter     string  `yaml:"exporter,omitempty"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	Insecure     bool    `yaml:"insecure,omitempty"`
	SamplingRate float64 `yaml:"sampling-rate,omitempty"`
}

// Context is one named environment: which identity CLI to drive, how, and
// what was last selected in it.
type Context struct {
	Name        string        `yaml:"name"`
	Tool        Tool          `yaml:"tool,omitempty"`
	Accelerator *Accelerator  `yaml:"accelerator,omitempty"`
	Timeouts    Timeouts      `yaml:"timeouts,omitempty"`
	Cache       CacheConfig   `yaml:"cache,omitempty"`
	Session     SessionPolicy `yaml:"session,omitempty"`
	Selection   *Selection    `yaml:"selection,omitempty"`
}

type Tool struct {
	Binary               string          `yaml:"binary,omitempty"`
	TokenKey             string          `yaml:"token-key,omitempty"`
	MinTokenLength       int             `yaml:"min-token-length,omitempty"`
	TreatMissingExpiryAs string          `yaml:"treat-missing-expiry-as,omitempty"`
	SuccessMarker        string          `yaml:"success-marker,omitempty"`
	NoisePatterns        []string        `yaml:"noise-patterns,omitempty"`
	Commands             entity.Commands `yaml:"commands,omitempty"`
}

type Accelerator struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api-key,omitempty"`
	APIKeyEnv string `yaml:"api-key-env,omitempty"`
}

type Timeouts struct {
	TokenRead       time.Duration `yaml:"token-read,omitempty"`
	SignIn          time.Duration `yaml:"sign-in,omitempty"`
	SignOut         time.Duration `yaml:"sign-out,omitempty"`
	AcceleratorInit time.Duration `yaml:"accelerator-init,omitempty"`
	EntityList      time.Duration `yaml:"entity-list,omitempty"`
}

type CacheConfig struct {
	// Jitter is the TTL jitter fraction. Unset means the default; values
	// outside [0, 0.1] are rejected.
	Jitter *float64 `yaml:"jitter,omitempty"`
}

type SessionPolicy struct {
	WarningThreshold time.Duration  `yaml:"warning-threshold,omitempty"`
	RecoveryInterval time.Duration  `yaml:"recovery-interval,omitempty"`
	SettleDelay      *time.Duration `yaml:"settle-delay,omitempty"`
}

// Selection is the persisted organization, project and workspace. It never
// holds credentials.
type Selection struct {
	Subject       string `yaml:"subject,omitempty"`
	OrgID         string `yaml:"org-id,omitempty"`
	OrgName       string `yaml:"org-name,omitempty"`
	ProjectID     string `yaml:"project-id,omitempty"`
	ProjectName   string `yaml:"project-name,omitempty"`
	WorkspaceID   string `yaml:"workspace-id,omitempty"`
	WorkspaceName string `yaml:"workspace-name,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version:        VersionV1,
		CurrentContext: DefaultContextName,
		Contexts:       []Context{{Name: DefaultContextName}},
		Settings: Settings{
			OutputFormat: "table",
		},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

// LoadOrDefault is Load, returning DefaultConfig when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		def := DefaultConfig()
		return &def, nil
	}
	return cfg, err
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) FindContext(name string) (*Context, error) {
	for i := range c.Contexts {
		if c.Contexts[i].Name == name {
			return &c.Contexts[i], nil
		}
	}
	return nil, fmt.Errorf("context not found: %s", name)
}

func (c *Config) CurrentContextOrDefault() string {
	if c.CurrentContext != "" {
		return c.CurrentContext
	}
	if len(c.Contexts) > 0 {
		return c.Contexts[0].Name
	}
	return DefaultContextName
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	if err := c.Settings.validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	seen := map[string]bool{}
	for _, ctx := range c.Contexts {
		name := strings.TrimSpace(ctx.Name)
		if name == "" {
			return errors.New("context name cannot be empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate context %s", name)
		}
		seen[name] = true
		if err := ctx.validate(); err != nil {
			return fmt.Errorf("context %s: %w", name, err)
		}
	}
	return nil
}

func (s Settings) validate() error {
	switch s.Tracing.Exporter {
	case "", telemetry.ExporterOTLP, telemetry.ExporterStdout, telemetry.ExporterNone:
	default:
		return fmt.Errorf("invalid tracing exporter %q", s.Tracing.Exporter)
	}
	if s.Tracing.SamplingRate < 0 || s.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing sampling rate must be between 0 and 1, got %g", s.Tracing.SamplingRate)
	}
	if s.Tracing.Enabled && s.Tracing.Endpoint == "" &&
		(s.Tracing.Exporter == "" || s.Tracing.Exporter == telemetry.ExporterOTLP) {
		return errors.New("tracing endpoint is required for the otlp exporter")
	}
	return nil
}

// TelemetryOptions converts the tracing settings.
func (s Settings) TelemetryOptions(serviceVersion string) telemetry.Options {
	return telemetry.Options{
		Enabled:        s.Tracing.Enabled,
		ServiceVersion: serviceVersion,
		Exporter:       s.Tracing.Exporter,
		Endpoint:       s.Tracing.Endpoint,
		Insecure:       s.Tracing.Insecure,
		SamplingRate:   s.Tracing.SamplingRate,
	}
}

func (c Context) validate() error {
	switch token.MissingExpiryPolicy(c.Tool.TreatMissingExpiryAs) {
	case "", token.MissingExpiryUnknown, token.MissingExpiryCorrupted:
	default:
		return fmt.Errorf("treat-missing-expiry-as must be %q or %q", token.MissingExpiryUnknown, token.MissingExpiryCorrupted)
	}
	if c.Accelerator != nil {
		u, err := url.Parse(c.Accelerator.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid accelerator url %q", c.Accelerator.URL)
		}
	}
	if j := c.Cache.Jitter; j != nil && (*j < 0 || *j > cache.MaxJitter) {
		return fmt.Errorf("cache jitter must be within [0, %v]", cache.MaxJitter)
	}
	if c.Session.SettleDelay != nil && *c.Session.SettleDelay < 0 {
		return errors.New("settle-delay cannot be negative")
	}
	return nil
}

func (c Context) BinaryOrDefault() string {
	if c.Tool.Binary != "" {
		return c.Tool.Binary
	}
	return DefaultBinary
}

func (c Context) TokenConfig() token.Config {
	cfg := token.DefaultConfig()
	if c.Tool.TokenKey != "" {
		cfg.Key = c.Tool.TokenKey
	}
	if c.Tool.MinTokenLength > 0 {
		cfg.MinLength = c.Tool.MinTokenLength
	}
	if c.Tool.TreatMissingExpiryAs != "" {
		cfg.MissingExpiry = token.MissingExpiryPolicy(c.Tool.TreatMissingExpiryAs)
	}
	if c.Timeouts.TokenRead > 0 {
		cfg.Timeout = c.Timeouts.TokenRead
	}
	return cfg
}

func (c Context) RecoveryConfig(nonInteractive bool) recovery.Config {
	cfg := recovery.DefaultConfig()
	cfg.TokenKey = c.TokenConfig().Key
	cfg.NonInteractive = nonInteractive
	if c.Tool.SuccessMarker != "" {
		cfg.SuccessMarker = c.Tool.SuccessMarker
	}
	if c.Timeouts.SignIn > 0 {
		cfg.SignInTimeout = c.Timeouts.SignIn
	}
	if c.Timeouts.SignOut > 0 {
		cfg.CommandTimeout = c.Timeouts.SignOut
	}
	if c.Session.RecoveryInterval > 0 {
		cfg.MinInterval = c.Session.RecoveryInterval
	}
	cfg.SettleDelay = ptr.Deref(c.Session.SettleDelay, cfg.SettleDelay)
	return cfg
}

func (c Context) SessionConfig(nonInteractive bool) session.Config {
	cfg := session.DefaultConfig()
	cfg.NonInteractive = nonInteractive
	if c.Tool.SuccessMarker != "" {
		cfg.SuccessMarker = c.Tool.SuccessMarker
	}
	if c.Timeouts.SignIn > 0 {
		cfg.SignInTimeout = c.Timeouts.SignIn
	}
	if c.Timeouts.SignOut > 0 {
		cfg.LogoutTimeout = c.Timeouts.SignOut
	}
	if c.Session.WarningThreshold > 0 {
		cfg.WarningThreshold = c.Session.WarningThreshold
	}
	return cfg
}

func (c Context) CacheJitter() float64 {
	return ptr.Deref(c.Cache.Jitter, cache.DefaultJitter)
}

// AcceleratorAPIKey returns the configured key, preferring the environment
// variable named by api-key-env.
func (c Context) AcceleratorAPIKey() string {
	if c.Accelerator == nil {
		return ""
	}
	if c.Accelerator.APIKeyEnv != "" {
		if v := os.Getenv(c.Accelerator.APIKeyEnv); v != "" {
			return v
		}
	}
	return c.Accelerator.APIKey
}

// SetValue sets a dotted key on the context, or on the global settings for
// keys starting with "settings.". A rejected value leaves both unchanged.
func (c *Config) SetValue(ctx *Context, key, value string) (err error) {
	prevCtx, prevSettings := *ctx, c.Settings
	if ctx.Accelerator != nil {
		prevCtx.Accelerator = ptr.To(*ctx.Accelerator)
	}
	defer func() {
		if err != nil {
			*ctx, c.Settings = prevCtx, prevSettings
		}
	}()
	parseDuration := func() (time.Duration, error) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %s", key, value)
		}
		return d, nil
	}
	switch key {
	case "settings.output-format":
		c.Settings.OutputFormat = value
	case "settings.non-interactive":
		c.Settings.NonInteractive = strings.EqualFold(value, "true")
	case "settings.metrics-file":
		c.Settings.MetricsFile = value
	case "settings.tracing.enabled":
		c.Settings.Tracing.Enabled = strings.EqualFold(value, "true")
	case "settings.tracing.exporter":
		c.Settings.Tracing.Exporter = value
	case "settings.tracing.endpoint":
		c.Settings.Tracing.Endpoint = value
	case "settings.tracing.insecure":
		c.Settings.Tracing.Insecure = strings.EqualFold(value, "true")
	case "settings.tracing.sampling-rate":
		var r float64
		if _, scanErr := fmt.Sscanf(value, "%g", &r); scanErr != nil {
			return fmt.Errorf("invalid sampling rate: %s", value)
		}
		c.Settings.Tracing.SamplingRate = r
	case "tool.binary":
		ctx.Tool.Binary = value
	case "tool.token-key":
		ctx.Tool.TokenKey = value
	case "tool.success-marker":
		ctx.Tool.SuccessMarker = value
	case "tool.treat-missing-expiry-as":
		ctx.Tool.TreatMissingExpiryAs = value
	case "tool.min-token-length":
		var n int
		if _, scanErr := fmt.Sscanf(value, "%d", &n); scanErr != nil || n <= 0 {
			return fmt.Errorf("invalid min token length: %s", value)
		}
		ctx.Tool.MinTokenLength = n
	case "accelerator.url":
		if ctx.Accelerator == nil {
			ctx.Accelerator = &Accelerator{}
		}
		ctx.Accelerator.URL = value
	case "accelerator.api-key-env":
		if ctx.Accelerator == nil {
			ctx.Accelerator = &Accelerator{}
		}
		ctx.Accelerator.APIKeyEnv = value
	case "timeouts.token-read":
		ctx.Timeouts.TokenRead, err = parseDuration()
	case "timeouts.sign-in":
		ctx.Timeouts.SignIn, err = parseDuration()
	case "timeouts.sign-out":
		ctx.Timeouts.SignOut, err = parseDuration()
	case "timeouts.accelerator-init":
		ctx.Timeouts.AcceleratorInit, err = parseDuration()
	case "timeouts.entity-list":
		ctx.Timeouts.EntityList, err = parseDuration()
	case "session.warning-threshold":
		ctx.Session.WarningThreshold, err = parseDuration()
	case "session.recovery-interval":
		ctx.Session.RecoveryInterval, err = parseDuration()
	case "session.settle-delay":
		var d time.Duration
		if d, err = parseDuration(); err == nil {
			ctx.Session.SettleDelay = ptr.To(d)
		}
	case "cache.jitter":
		var j float64
		if _, scanErr := fmt.Sscanf(value, "%g", &j); scanErr != nil {
			return fmt.Errorf("invalid jitter: %s", value)
		}
		ctx.Cache.Jitter = ptr.To(j)
	default:
		return fmt.Errorf("unsupported key: %s", key)
	}
	if err != nil {
		return err
	}
	if err := c.Settings.validate(); err != nil {
		return err
	}
	return ctx.validate()
}
