package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/telekom/sessionctl/pkg/sessionctl/cache"
	"github.com/telekom/sessionctl/pkg/sessionctl/recovery"
	"github.com/telekom/sessionctl/pkg/sessionctl/session"
	"github.com/telekom/sessionctl/pkg/sessionctl/token"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.CurrentContext = "stage"
	cfg.Contexts = []Context{{
		Name:        "stage",
		Tool:        Tool{Binary: "aio", TokenKey: "ims.contexts.cli.access_token", TreatMissingExpiryAs: "corrupted"},
		Accelerator: &Accelerator{URL: "https://accelerator.example.com", APIKeyEnv: "ACCEL_KEY"},
		Timeouts:    Timeouts{SignIn: 90 * time.Second},
		Session:     SessionPolicy{SettleDelay: ptr.To(500 * time.Millisecond)},
		Cache:       CacheConfig{Jitter: ptr.To(0.05)},
	}}

	require.NoError(t, Save(path, &cfg))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "sign-in: 1m30s")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, *loaded)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultContextName, cfg.CurrentContextOrDefault())
	require.Len(t, cfg.Contexts, 1)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "config path is required")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("invalid: [yaml: content"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse config")
}

func TestSaveNilConfig(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "config.yaml"), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "config is nil")
}

func TestFindContext(t *testing.T) {
	cfg := &Config{Contexts: []Context{{Name: "prod"}, {Name: "dev"}}}

	ctx, err := cfg.FindContext("dev")
	require.NoError(t, err)
	require.Equal(t, "dev", ctx.Name)

	_, err = cfg.FindContext("staging")
	require.Error(t, err)
	require.Contains(t, err.Error(), "context not found")
}

func TestCurrentContextOrDefault(t *testing.T) {
	assert.Equal(t, "prod", (&Config{CurrentContext: "prod", Contexts: []Context{{Name: "dev"}}}).CurrentContextOrDefault())
	assert.Equal(t, "dev", (&Config{Contexts: []Context{{Name: "dev"}}}).CurrentContextOrDefault())
	assert.Equal(t, DefaultContextName, (&Config{}).CurrentContextOrDefault())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "default", cfg: DefaultConfig()},
		{name: "missing version", cfg: Config{}, wantErr: "config version missing"},
		{name: "empty context name", cfg: Config{Version: VersionV1, Contexts: []Context{{Name: " "}}}, wantErr: "context name cannot be empty"},
		{name: "duplicate context", cfg: Config{Version: VersionV1, Contexts: []Context{{Name: "a"}, {Name: "a"}}}, wantErr: "duplicate context"},
		{
			name:    "bad expiry policy",
			cfg:     Config{Version: VersionV1, Contexts: []Context{{Name: "a", Tool: Tool{TreatMissingExpiryAs: "valid"}}}},
			wantErr: "treat-missing-expiry-as",
		},
		{
			name:    "bad accelerator url",
			cfg:     Config{Version: VersionV1, Contexts: []Context{{Name: "a", Accelerator: &Accelerator{URL: "not a url"}}}},
			wantErr: "invalid accelerator url",
		},
		{
			name:    "jitter out of range",
			cfg:     Config{Version: VersionV1, Contexts: []Context{{Name: "a", Cache: CacheConfig{Jitter: ptr.To(0.5)}}}},
			wantErr: "cache jitter",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestContextComponentConfigs(t *testing.T) {
	empty := Context{Name: "default"}
	assert.Equal(t, DefaultBinary, empty.BinaryOrDefault())
	assert.Equal(t, token.DefaultConfig(), empty.TokenConfig())
	assert.Equal(t, cache.DefaultJitter, empty.CacheJitter())

	rc := empty.RecoveryConfig(true)
	assert.True(t, rc.NonInteractive)
	assert.Equal(t, recovery.DefaultSettleDelay, rc.SettleDelay)
	assert.Equal(t, token.DefaultKey, rc.TokenKey)

	custom := Context{
		Tool:     Tool{Binary: "/opt/aio", TokenKey: "custom.key", MinTokenLength: 20, TreatMissingExpiryAs: "corrupted", SuccessMarker: "Signed in"},
		Timeouts: Timeouts{TokenRead: 3 * time.Second, SignIn: time.Minute, SignOut: 4 * time.Second},
		Session:  SessionPolicy{WarningThreshold: 10 * time.Minute, RecoveryInterval: time.Minute, SettleDelay: ptr.To(time.Duration(0))},
		Cache:    CacheConfig{Jitter: ptr.To(0.0)},
	}
	assert.Equal(t, "/opt/aio", custom.BinaryOrDefault())
	tc := custom.TokenConfig()
	assert.Equal(t, "custom.key", tc.Key)
	assert.Equal(t, 20, tc.MinLength)
	assert.Equal(t, token.MissingExpiryCorrupted, tc.MissingExpiry)
	assert.Equal(t, 3*time.Second, tc.Timeout)

	rc = custom.RecoveryConfig(false)
	assert.Equal(t, "custom.key", rc.TokenKey)
	assert.Equal(t, time.Minute, rc.SignInTimeout)
	assert.Equal(t, 4*time.Second, rc.CommandTimeout)
	assert.Equal(t, time.Minute, rc.MinInterval)
	assert.Equal(t, time.Duration(0), rc.SettleDelay, "an explicit zero disables the settle delay")
	assert.Equal(t, "Signed in", rc.SuccessMarker)

	sc := custom.SessionConfig(false)
	assert.Equal(t, 10*time.Minute, sc.WarningThreshold)
	assert.Equal(t, 4*time.Second, sc.LogoutTimeout)
	assert.Equal(t, "Signed in", sc.SuccessMarker)
	assert.Equal(t, session.DefaultConfig().WarningThreshold, Context{}.SessionConfig(false).WarningThreshold)

	assert.Equal(t, 0.0, custom.CacheJitter())
}

func TestAcceleratorAPIKey(t *testing.T) {
	assert.Empty(t, Context{}.AcceleratorAPIKey())

	ctx := Context{Accelerator: &Accelerator{URL: "https://a.example.com", APIKey: "inline", APIKeyEnv: "SESSIONCTL_TEST_ACCEL_KEY"}}
	t.Setenv("SESSIONCTL_TEST_ACCEL_KEY", "")
	assert.Equal(t, "inline", ctx.AcceleratorAPIKey())
	t.Setenv("SESSIONCTL_TEST_ACCEL_KEY", "from-env")
	assert.Equal(t, "from-env", ctx.AcceleratorAPIKey())
}

func TestSetValue(t *testing.T) {
	cfg := DefaultConfig()
	ctx := &cfg.Contexts[0]

	require.NoError(t, cfg.SetValue(ctx, "settings.output-format", "json"))
	assert.Equal(t, "json", cfg.Settings.OutputFormat)
	require.NoError(t, cfg.SetValue(ctx, "tool.binary", "/usr/local/bin/aio"))
	assert.Equal(t, "/usr/local/bin/aio", ctx.Tool.Binary)
	require.NoError(t, cfg.SetValue(ctx, "timeouts.sign-in", "3m"))
	assert.Equal(t, 3*time.Minute, ctx.Timeouts.SignIn)
	require.NoError(t, cfg.SetValue(ctx, "session.settle-delay", "0s"))
	require.NotNil(t, ctx.Session.SettleDelay)
	require.NoError(t, cfg.SetValue(ctx, "accelerator.url", "https://accelerator.example.com"))
	assert.Equal(t, "https://accelerator.example.com", ctx.Accelerator.URL)
	require.NoError(t, cfg.SetValue(ctx, "cache.jitter", "0.02"))
	assert.InDelta(t, 0.02, *ctx.Cache.Jitter, 1e-9)

	assert.Error(t, cfg.SetValue(ctx, "timeouts.sign-in", "soon"))
	assert.Error(t, cfg.SetValue(ctx, "tool.min-token-length", "-3"))
	assert.Error(t, cfg.SetValue(ctx, "cache.jitter", "0.9"))
	assert.Error(t, cfg.SetValue(ctx, "tool.treat-missing-expiry-as", "ignore"))
	err := cfg.SetValue(ctx, "nope", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported key")
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("SESSIONCTL_CONFIG", "/custom/path/config.yaml")
	assert.Equal(t, "/custom/path/config.yaml", DefaultConfigPath())

	t.Setenv("SESSIONCTL_CONFIG", "")
	result := DefaultConfigPath()
	assert.True(t, strings.HasSuffix(result, filepath.Join("sessionctl", "config.yaml")) ||
		strings.HasSuffix(result, filepath.Join(".sessionctl", "config.yaml")), result)
}

func TestSetValueRejectedLeavesContextUnchanged(t *testing.T) {
	cfg := DefaultConfig()
	ctx := &cfg.Contexts[0]
	require.NoError(t, cfg.SetValue(ctx, "cache.jitter", "0.05"))

	require.Error(t, cfg.SetValue(ctx, "cache.jitter", "0.9"))
	assert.InDelta(t, 0.05, *ctx.Cache.Jitter, 1e-9)

	require.Error(t, cfg.SetValue(ctx, "accelerator.url", "nope"))
	assert.Nil(t, ctx.Accelerator)
}

func TestTracingSettings(t *testing.T) {
	cfg := DefaultConfig()
	ctx := &cfg.Contexts[0]

	err := cfg.SetValue(ctx, "settings.tracing.enabled", "true")
	require.Error(t, err, "otlp without an endpoint")
	assert.False(t, cfg.Settings.Tracing.Enabled)

	require.NoError(t, cfg.SetValue(ctx, "settings.tracing.endpoint", "localhost:4317"))
	require.NoError(t, cfg.SetValue(ctx, "settings.tracing.insecure", "true"))
	require.NoError(t, cfg.SetValue(ctx, "settings.tracing.enabled", "true"))
	require.NoError(t, cfg.SetValue(ctx, "settings.tracing.sampling-rate", "0.25"))
	assert.Error(t, cfg.SetValue(ctx, "settings.tracing.sampling-rate", "2"))
	assert.Error(t, cfg.SetValue(ctx, "settings.tracing.exporter", "zipkin"))
	require.NoError(t, cfg.Validate())

	opts := cfg.Settings.TelemetryOptions("1.2.3")
	assert.True(t, opts.Enabled)
	assert.Equal(t, "localhost:4317", opts.Endpoint)
	assert.True(t, opts.Insecure)
	assert.InDelta(t, 0.25, opts.SamplingRate, 1e-9)
	assert.Equal(t, "1.2.3", opts.ServiceVersion)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, &cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Settings.Tracing, loaded.Settings.Tracing)
}
