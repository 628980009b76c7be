package recovery

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
	"github.com/telekom/sessionctl/pkg/sessionctl/gateway"
	"github.com/telekom/sessionctl/pkg/sessionctl/token"
	"github.com/telekom/sessionctl/pkg/system"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	corrupted = token.Inspection{Status: token.StatusCorrupted, Token: &token.Token{Value: strings.Repeat("t", 150)}}
	absent    = token.Inspection{Status: token.StatusAbsent}
	valid     = token.Inspection{Valid: true, Status: token.StatusValid, ExpiresInMinutes: 60, Token: &token.Token{Value: strings.Repeat("n", 150)}}
)

type recordingRunner struct {
	mu   sync.Mutex
	reqs []gateway.Request
	errs map[string]error
}

func (r *recordingRunner) Run(_ context.Context, req gateway.Request) (gateway.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if err := r.errs[req.Name]; err != nil {
		return gateway.Result{ExitCode: 1}, err
	}
	return gateway.Result{}, nil
}

func (r *recordingRunner) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.reqs))
	for _, req := range r.reqs {
		out = append(out, req.Name)
	}
	return out
}

// scriptedInspector returns the scripted inspections in order and repeats the
// last one once the script runs out.
type scriptedInspector struct {
	mu     sync.Mutex
	script []token.Inspection
	calls  int
}

func (s *scriptedInspector) Inspect(context.Context) (token.Inspection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	return s.script[i], nil
}

func newEngine(runner gateway.Runner, insp token.Inspector, cfg Config) *Engine {
	return New(runner, insp, cfg,
		WithClock(clocktesting.NewFakeClock(testNow)),
		WithLogger(system.NewTestLogger()))
}

func TestRecover_ScenarioC_SignOutClears(t *testing.T) {
	runner := &recordingRunner{}
	insp := &scriptedInspector{script: []token.Inspection{absent, valid}}
	e := newEngine(runner, insp, Config{})

	out, err := e.Recover(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Resolved)
	assert.Equal(t, StepSignIn, out.Step)
	assert.True(t, out.Inspection.Valid)
	assert.Equal(t, []string{"logout", "sign-in"}, runner.names(), "config delete is skipped once sign-out clears the record")
	assert.NoError(t, e.Failed())

	login := runner.reqs[1]
	assert.Equal(t, []string{"login", "-f"}, login.Args)
	assert.True(t, login.Interactive)
	assert.Equal(t, 0, login.Retries)
	assert.Equal(t, DefaultSuccessMarker, login.SuccessMarker)
}

func TestRecover_EscalatesToConfigDelete(t *testing.T) {
	runner := &recordingRunner{}
	insp := &scriptedInspector{script: []token.Inspection{corrupted, absent, valid}}
	e := newEngine(runner, insp, Config{TokenKey: "ims.contexts.cli.access_token"})

	out, err := e.Recover(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Resolved)
	assert.Equal(t, []string{"logout", "config-delete", "sign-in"}, runner.names())
	assert.Equal(t, []string{"config", "delete", "ims.contexts.cli.access_token"}, runner.reqs[1].Args)
}

func TestRecover_FailingLogoutStillEscalates(t *testing.T) {
	runner := &recordingRunner{errs: map[string]error{
		"logout": autherr.New(autherr.ExternalToolError, "logout exited with status 1", nil),
	}}
	insp := &scriptedInspector{script: []token.Inspection{corrupted, absent, valid}}
	e := newEngine(runner, insp, Config{})

	out, err := e.Recover(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Resolved)
	assert.Equal(t, []string{"logout", "config-delete", "sign-in"}, runner.names())
}

func TestRecover_UndeletableRecordIsUnrecoverable(t *testing.T) {
	runner := &recordingRunner{}
	insp := &scriptedInspector{script: []token.Inspection{corrupted}}
	e := newEngine(runner, insp, Config{})

	out, err := e.Recover(context.Background())
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.TokenCorruptionUnrecoverable))
	assert.Equal(t, StepUnrecoverable, out.Step)
	assert.Equal(t, []string{"logout", "config-delete", "sign-in"}, runner.names())
	assert.Error(t, e.Failed())
}

func TestRecover_UndeletableRecordRewrittenBySignIn(t *testing.T) {
	runner := &recordingRunner{}
	insp := &scriptedInspector{script: []token.Inspection{corrupted, corrupted, valid}}
	e := newEngine(runner, insp, Config{})

	out, err := e.Recover(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Resolved)
	assert.Equal(t, StepSignIn, out.Step)
	assert.Equal(t, []string{"logout", "config-delete", "sign-in"}, runner.names())
	assert.NoError(t, e.Failed())
}

func TestRecover_UndeletableRecordNonInteractive(t *testing.T) {
	runner := &recordingRunner{}
	insp := &scriptedInspector{script: []token.Inspection{corrupted}}
	e := newEngine(runner, insp, Config{NonInteractive: true})

	out, err := e.Recover(context.Background())
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.TokenCorruptionUnrecoverable))
	assert.Equal(t, StepUnrecoverable, out.Step)
	assert.Equal(t, []string{"logout", "config-delete"}, runner.names(), "no sign-in without a terminal")
}

func TestRecover_CorruptionAfterSignInIsFatal(t *testing.T) {
	runner := &recordingRunner{}
	insp := &scriptedInspector{script: []token.Inspection{absent, corrupted}}
	e := newEngine(runner, insp, Config{MinInterval: -1})

	_, err := e.Recover(context.Background())
	require.Error(t, err)
	e2, ok := autherr.As(err)
	require.True(t, ok)
	assert.Equal(t, autherr.TokenCorruptionUnrecoverable, e2.Kind)
	assert.True(t, e2.RequiresReauthentication)
	assert.Contains(t, e2.UserMessage, "config delete")
	assert.Contains(t, e2.UserMessage, "--force")

	calls := len(runner.names())
	out, err := e.Recover(context.Background())
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.TokenCorruptionUnrecoverable))
	assert.Equal(t, StepUnrecoverable, out.Step)
	assert.Len(t, runner.names(), calls, "no further automatic attempts after giving up")
	assert.Error(t, e.Failed())
}

func TestRecover_NonInteractiveStopsAfterClearing(t *testing.T) {
	runner := &recordingRunner{}
	insp := &scriptedInspector{script: []token.Inspection{absent}}
	e := newEngine(runner, insp, Config{NonInteractive: true})

	out, err := e.Recover(context.Background())
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.TokenAbsent))
	assert.True(t, out.Resolved)
	assert.Equal(t, StepLogout, out.Step)
	assert.Equal(t, []string{"logout"}, runner.names())
	assert.NoError(t, e.Failed())
}

func TestRecover_Throttled(t *testing.T) {
	clk := clocktesting.NewFakeClock(testNow)
	runner := &recordingRunner{}
	insp := &scriptedInspector{script: []token.Inspection{absent, valid}}
	e := New(runner, insp, Config{MinInterval: time.Minute},
		WithClock(clk), WithLogger(system.NewTestLogger()))

	_, err := e.Recover(context.Background())
	require.NoError(t, err)

	out, err := e.Recover(context.Background())
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.TokenCorruptionDetected))
	assert.Equal(t, StepThrottled, out.Step)

	clk.Step(time.Minute)
	_, err = e.Recover(context.Background())
	require.NoError(t, err)
}

func TestRecover_WaitsForSettleDelay(t *testing.T) {
	clk := clocktesting.NewFakeClock(testNow)
	runner := &recordingRunner{}
	insp := &scriptedInspector{script: []token.Inspection{absent, valid}}
	e := New(runner, insp, Config{SettleDelay: 5 * time.Second},
		WithClock(clk), WithLogger(system.NewTestLogger()))

	done := make(chan Outcome, 1)
	go func() {
		out, _ := e.Recover(context.Background())
		done <- out
	}()

	require.Eventually(t, clk.HasWaiters, time.Second, 5*time.Millisecond)
	select {
	case <-done:
		t.Fatal("recovery finished before the settle delay elapsed")
	default:
	}
	clk.Step(5 * time.Second)

	select {
	case out := <-done:
		assert.True(t, out.Resolved)
	case <-time.After(time.Second):
		t.Fatal("recovery did not finish after the settle delay")
	}
}

func TestRecover_CancelledDuringSettle(t *testing.T) {
	clk := clocktesting.NewFakeClock(testNow)
	insp := &scriptedInspector{script: []token.Inspection{absent, valid}}
	e := New(&recordingRunner{}, insp, Config{SettleDelay: time.Hour},
		WithClock(clk), WithLogger(system.NewTestLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, clk.HasWaiters, time.Second, 5*time.Millisecond)
		cancel()
	}()
	_, err := e.Recover(ctx)
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.ExternalToolTimeout))
}

func TestRecover_SignInFailurePropagates(t *testing.T) {
	runner := &recordingRunner{errs: map[string]error{
		"sign-in": autherr.New(autherr.ExternalToolTimeout, "sign-in timed out", nil),
	}}
	insp := &scriptedInspector{script: []token.Inspection{absent}}
	e := newEngine(runner, insp, Config{})

	out, err := e.Recover(context.Background())
	require.Error(t, err)
	assert.True(t, autherr.IsKind(err, autherr.ExternalToolTimeout))
	assert.Equal(t, StepSignIn, out.Step)
	assert.NoError(t, e.Failed(), "a failed sign-in is not a corruption verdict")
}
