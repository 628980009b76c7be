package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
	"github.com/telekom/sessionctl/pkg/sessionctl/config"
	"github.com/telekom/sessionctl/pkg/sessionctl/gateway"
	"github.com/telekom/sessionctl/pkg/system"
)

// fakeCLI plays the identity CLI: a token store, sign-in, sign-out and the
// console listings.
type fakeCLI struct {
	mu       sync.Mutex
	signedIn bool
	calls    []string
}

func (f *fakeCLI) Run(_ context.Context, req gateway.Request) (gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	line := strings.Join(req.Args, " ")
	f.calls = append(f.calls, line)

	switch {
	case strings.HasPrefix(line, "config get"):
		if !f.signedIn {
			return gateway.Result{}, nil
		}
		expiry := time.Now().Add(2 * time.Hour).UnixMilli()
		return gateway.Result{Stdout: fmt.Sprintf(`{"token":"%s","expiry":%d}`, strings.Repeat("t", 150), expiry)}, nil
	case strings.HasPrefix(line, "login"):
		f.signedIn = true
		return gateway.Result{Stdout: "You are currently logged in"}, nil
	case line == "logout":
		f.signedIn = false
		return gateway.Result{}, nil
	case strings.HasPrefix(line, "console org list"):
		return gateway.Result{Stdout: `[{"id":"org-2","name":"Globex"},{"id":"org-1","name":"Acme"}]`}, nil
	case strings.HasPrefix(line, "console project list"):
		return gateway.Result{Stdout: `[{"id":"p1","name":"app","title":"The App"}]`}, nil
	case strings.HasPrefix(line, "console workspace list"):
		return gateway.Result{Stdout: `[{"id":"w1","name":"Stage"}]`}, nil
	}
	return gateway.Result{ExitCode: 1}, errors.New("unexpected command: " + line)
}

func (f *fakeCLI) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

type harness struct {
	t          *testing.T
	configPath string
	cli        *fakeCLI
}

func newHarness(t *testing.T, signedIn bool) *harness {
	t.Helper()
	for _, env := range []string{"SESSIONCTL_CONTEXT", "SESSIONCTL_OUTPUT", "SESSIONCTL_NON_INTERACTIVE", "SESSIONCTL_VERBOSE", "SESSIONCTL_TOOL"} {
		t.Setenv(env, "")
	}
	return &harness{
		t:          t,
		configPath: filepath.Join(t.TempDir(), "config.yaml"),
		cli:        &fakeCLI{signedIn: signedIn},
	}
}

func (h *harness) config(out *bytes.Buffer) Config {
	return Config{
		ConfigPath:   h.configPath,
		OutputWriter: out,
		ErrorWriter:  out,
		Runner:       h.cli,
		Logger:       system.NewTestLogger(),
	}
}

// run executes one sessionctl invocation, like a separate process would.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	buf := &bytes.Buffer{}
	root := NewRootCommand(h.config(buf))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestAuthStatus_NotSignedIn(t *testing.T) {
	h := newHarness(t, false)
	out, err := h.run("auth", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "UNAUTHENTICATED")
	assert.Contains(t, out, "You are not signed in")
	assert.False(t, h.cli.called("login"), "status never signs in")
}

func TestAuthStatus_JSON(t *testing.T) {
	h := newHarness(t, true)
	out, err := h.run("auth", "status", "-o", "json")
	require.NoError(t, err)

	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "AUTHENTICATED_NO_ORG", status["state"])
	assert.NotContains(t, out, strings.Repeat("t", 150), "the raw token is never printed")
}

func TestAuthLogin_InteractiveSignIn(t *testing.T) {
	h := newHarness(t, false)
	out, err := h.run("auth", "login")
	require.NoError(t, err)
	assert.True(t, h.cli.called("login"))
	assert.Contains(t, out, "AUTHENTICATED_NO_ORG")
}

func TestAuthLogin_ReusesValidToken(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.run("auth", "login")
	require.NoError(t, err)
	assert.False(t, h.cli.called("login"))
}

func TestAuthLogin_Force(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.run("auth", "login", "--force")
	require.NoError(t, err)
	assert.True(t, h.cli.called("login -f"))
}

func TestAuthLogin_NonInteractive(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.run("auth", "login", "--non-interactive")
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.TokenAbsent))
	assert.False(t, h.cli.called("login"))

	t.Setenv("SESSIONCTL_NON_INTERACTIVE", "true")
	_, err = h.run("auth", "login")
	require.Error(t, err)
	assert.False(t, h.cli.called("login"))
}

func TestSelectionFlowAcrossInvocations(t *testing.T) {
	h := newHarness(t, true)

	out, err := h.run("org", "list")
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "Acme"), strings.Index(out, "Globex"), "listings are sorted by name")

	out, err = h.run("org", "select", "org-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Selected organization Acme (org-1)")

	out, err = h.run("project", "list", "-o", "json")
	require.NoError(t, err)
	var projects []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &projects))
	require.Len(t, projects, 1)
	assert.Equal(t, "p1", projects[0]["id"])
	assert.Equal(t, "org-1", projects[0]["org_id"])

	_, err = h.run("project", "select", "p1")
	require.NoError(t, err)
	out, err = h.run("workspace", "select", "w1", "-o", "json")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "AUTHENTICATED_WITH_ORG", status["state"])
	assert.Equal(t, "w1", status["workspaceId"])

	out, err = h.run("context", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Acme (org-1)")
	assert.Contains(t, out, "app (p1)")
	assert.Contains(t, out, "Stage (w1)")
}

func TestSelectOrganization_ResetsChildren(t *testing.T) {
	h := newHarness(t, true)
	for _, args := range [][]string{{"org", "select", "org-1"}, {"project", "select", "p1"}, {"org", "select", "org-2"}} {
		_, err := h.run(args...)
		require.NoError(t, err, args)
	}
	out, err := h.run("context", "show", "-o", "json")
	require.NoError(t, err)
	var sel map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &sel))
	assert.Equal(t, "org-2", sel["orgId"])
	assert.Empty(t, sel["projectId"])
}

func TestProjectListWithoutOrganization(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.run("project", "list")
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.NoOrganization))
}

func TestOrgSelect_Unknown(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.run("org", "select", "org-9")
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.NoOrganization))
}

func TestOrgList_NotSignedIn(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.run("org", "list")
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.TokenAbsent))
	assert.False(t, h.cli.called("console"), "no listing without a session")
}

func TestLogout_ClearsSelection(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.run("org", "select", "org-1")
	require.NoError(t, err)

	out, err := h.run("auth", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out")
	assert.True(t, h.cli.called("logout"))

	out, err = h.run("context", "show")
	require.NoError(t, err)
	assert.Regexp(t, `Organization:\s+-`, out)

	out, err = h.run("auth", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "UNAUTHENTICATED")
}

func TestContextClear_StaysSignedIn(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.run("org", "select", "org-1")
	require.NoError(t, err)

	out, err := h.run("context", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Selection cleared")
	assert.False(t, h.cli.called("logout"))

	out, err = h.run("auth", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "AUTHENTICATED_NO_ORG")
}

func TestUnknownContext(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.run("org", "list", "--context", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context not found")
}

func TestOutputFromEnvironment(t *testing.T) {
	h := newHarness(t, true)
	t.Setenv("SESSIONCTL_OUTPUT", "yaml")
	out, err := h.run("org", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "- id: org-1")

	t.Setenv("SESSIONCTL_OUTPUT", "xml")
	_, err = h.run("org", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestExecute_PrintsUserMessage(t *testing.T) {
	h := newHarness(t, true)
	buf := &bytes.Buffer{}
	code := Execute(h.config(buf), []string{"project", "list"})
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "Error: No organization is selected")

	buf.Reset()
	assert.Equal(t, 0, Execute(h.config(buf), []string{"org", "list"}))
}

func TestExecute_WritesMetricsFile(t *testing.T) {
	h := newHarness(t, true)
	metricsPath := filepath.Join(t.TempDir(), "sessionctl.prom")
	_, err := h.run("config", "set", "settings.metrics-file", metricsPath)
	require.NoError(t, err)

	assert.Equal(t, 0, Execute(h.config(&bytes.Buffer{}), []string{"auth", "status"}))
	raw, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "sessionctl_token_inspections_total")
}

func TestExecute_ExportsTraces(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	h := newHarness(t, true)
	_, err := h.run("config", "set", "settings.tracing.exporter", "stdout")
	require.NoError(t, err)
	_, err = h.run("config", "set", "settings.tracing.enabled", "true")
	require.NoError(t, err)

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cfg := h.config(out)
	cfg.ErrorWriter = errOut
	assert.Equal(t, 0, Execute(cfg, []string{"org", "list"}))

	assert.Contains(t, out.String(), "Acme")
	assert.NotContains(t, out.String(), "entity.Fetch", "spans stay off stdout")
	assert.Contains(t, errOut.String(), "sessionctl org list")
	assert.Contains(t, errOut.String(), "entity.Fetch")
	assert.Contains(t, errOut.String(), "session.Login")
}

func TestConfigInit(t *testing.T) {
	h := newHarness(t, false)
	out, err := h.run("config", "init", "--context-name", "stage", "--binary", "/opt/aio", "--accelerator-url", "https://accelerator.example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized config at")

	cfg, err := config.Load(h.configPath)
	require.NoError(t, err)
	assert.Equal(t, "stage", cfg.CurrentContext)
	ctx, err := cfg.FindContext("stage")
	require.NoError(t, err)
	assert.Equal(t, "/opt/aio", ctx.Tool.Binary)
	require.NotNil(t, ctx.Accelerator)

	_, err = h.run("config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config already exists")

	_, err = h.run("config", "init", "--force")
	require.NoError(t, err)

	_, err = h.run("config", "init", "--force", "--accelerator-url", "not a url")
	require.Error(t, err)
}

func TestInvalidConfigIsRejectedOnLoad(t *testing.T) {
	h := newHarness(t, true)
	raw := "version: v1\ncurrent-context: default\ncontexts:\n- name: default\n  tool:\n    treat-missing-expiry-as: valid\n"
	require.NoError(t, os.WriteFile(h.configPath, []byte(raw), 0o600))

	_, err := h.run("auth", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "treat-missing-expiry-as")
	assert.Empty(t, h.cli.calls, "nothing runs against a broken config")

	out, err := h.run("config", "view")
	require.NoError(t, err, "config commands still work to repair the file")
	assert.Contains(t, out, "treat-missing-expiry-as: valid")

	_, err = h.run("config", "set", "tool.treat-missing-expiry-as", "unknown")
	require.NoError(t, err)
	_, err = h.run("auth", "status")
	require.NoError(t, err)
}

func TestConfigContexts(t *testing.T) {
	h := newHarness(t, false)
	cfg := config.DefaultConfig()
	cfg.Contexts = append(cfg.Contexts, config.Context{Name: "prod", Accelerator: &config.Accelerator{URL: "https://a.example.com"}})
	require.NoError(t, config.Save(h.configPath, &cfg))

	out, err := h.run("config", "get-contexts")
	require.NoError(t, err)
	assert.Contains(t, out, "* default")
	assert.Contains(t, out, "https://a.example.com")

	out, err = h.run("config", "use-context", "prod")
	require.NoError(t, err)
	assert.Equal(t, "prod\n", out)

	out, err = h.run("config", "current-context")
	require.NoError(t, err)
	assert.Equal(t, "prod\n", out)

	_, err = h.run("config", "use-context", "nope")
	require.Error(t, err)
}

func TestConfigSetAndView(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.run("config", "set", "timeouts.sign-in", "3m")
	require.NoError(t, err)

	out, err := h.run("config", "view")
	require.NoError(t, err)
	assert.Contains(t, out, "sign-in: 3m0s")

	_, err = h.run("config", "set", "cache.jitter", "0.5")
	require.Error(t, err)
	_, err = h.run("config", "set", "unknown.key", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported key")
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t, false)
	out, err := h.run("version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "sessionctl "))

	out, err = h.run("version", "-o", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info["version"])
}

func TestCompletionCommand(t *testing.T) {
	h := newHarness(t, false)
	out, err := h.run("completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "bash completion")

	_, err = h.run("completion", "unsupported")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported shell")
}
