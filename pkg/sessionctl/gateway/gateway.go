package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/telekom/sessionctl/pkg/metrics"
	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
	"github.com/telekom/sessionctl/pkg/system"
	"github.com/telekom/sessionctl/pkg/telemetry"
)

const (
	defaultTimeout = 10 * time.Second
	// waitDelay bounds how long Wait blocks on output pipes after the process
	// was killed, in case a grandchild still holds them open.
	waitDelay = 2 * time.Second
)

// DefaultNoisePatterns match runtime warnings and version banners the identity
// CLI prints on every invocation.
var DefaultNoisePatterns = []string{
	`^\(node:\d+\) `,
	`ExperimentalWarning`,
	`DeprecationWarning`,
	`^\(Use .node --trace-(warnings|deprecation)`,
	`(?i)warning: .*update available`,
	`(?i)^\s*[›>]?\s*@adobe/aio-cli/\S+ \S+ node-v`,
}

// Request describes one invocation of the identity CLI.
type Request struct {
	// Name labels the call in logs and metrics. Defaults to the first two args.
	Name string
	Args []string
	// Timeout bounds a single attempt. Zero means the gateway default.
	Timeout time.Duration
	// SuccessMarker, when found in the stdout of a timed out attempt, turns the
	// timeout into a success.
	SuccessMarker string
	// Retries is the number of additional attempts after a timeout without the
	// success marker. Non-zero exits are never retried.
	Retries int
	// Interactive attaches the terminal so the user can follow a sign-in flow.
	Interactive bool
}

func (r Request) label() string {
	if r.Name != "" {
		return r.Name
	}
	n := len(r.Args)
	if n > 2 {
		n = 2
	}
	if n == 0 {
		return "unknown"
	}
	return strings.Join(r.Args[:n], "-")
}

// Result is the captured outcome of an invocation with noise lines removed.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Attempts int
}

// Runner executes identity CLI commands.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req Request) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// CommandFunc builds the *exec.Cmd for an invocation.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Gateway runs the identity CLI as a subprocess.
type Gateway struct {
	binary         string
	noise          []*regexp.Regexp
	defaultTimeout time.Duration
	command        CommandFunc
	stdin          io.Reader
	terminal       io.Writer
	log            *zap.SugaredLogger
}

var _ Runner = (*Gateway)(nil)

type Option func(*Gateway) error

func New(binary string, opts ...Option) (*Gateway, error) {
	if strings.TrimSpace(binary) == "" {
		return nil, errors.New("identity CLI binary is required")
	}
	g := &Gateway{
		binary:         binary,
		defaultTimeout: defaultTimeout,
		command:        exec.CommandContext,
	}
	if err := WithNoisePatterns(DefaultNoisePatterns)(g); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.log = system.LoggerOrDefault(g.log)
	return g, nil
}

// WithNoisePatterns replaces the noise filters.
func WithNoisePatterns(patterns []string) Option {
	return func(g *Gateway) error {
		compiled := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("invalid noise pattern %q: %w", p, err)
			}
			compiled = append(compiled, re)
		}
		g.noise = compiled
		return nil
	}
}

func WithDefaultTimeout(d time.Duration) Option {
	return func(g *Gateway) error {
		if d <= 0 {
			return errors.New("default timeout must be positive")
		}
		g.defaultTimeout = d
		return nil
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(g *Gateway) error {
		g.log = log
		return nil
	}
}

// WithTerminal sets where interactive invocations read input and mirror output.
func WithTerminal(stdin io.Reader, out io.Writer) Option {
	return func(g *Gateway) error {
		g.stdin = stdin
		g.terminal = out
		return nil
	}
}

// WithCommandFunc overrides how subprocesses are built.
func WithCommandFunc(fn CommandFunc) Option {
	return func(g *Gateway) error {
		if fn == nil {
			return errors.New("command func is nil")
		}
		g.command = fn
		return nil
	}
}

// Run executes req, retrying timed out attempts up to req.Retries times.
func (g *Gateway) Run(ctx context.Context, req Request) (Result, error) {
	if req.Timeout <= 0 {
		req.Timeout = g.defaultTimeout
	}
	label := req.label()
	log := system.LoggerFromContext(ctx, g.log).With("command", label)
	ctx, span := telemetry.Start(ctx, "gateway.Run",
		attribute.String("sessionctl.command", label),
		attribute.Bool("sessionctl.interactive", req.Interactive))

	var (
		res Result
		err error
	)
	for attempt := 0; attempt <= req.Retries; attempt++ {
		if attempt > 0 {
			metrics.GatewayRetries.WithLabelValues(label).Inc()
			log.Debugw("Retrying identity CLI call after timeout", "attempt", attempt+1)
		}
		start := time.Now()
		res, err = g.runOnce(ctx, req)
		res.Attempts = attempt + 1
		metrics.GatewayDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if err == nil || !res.TimedOut || ctx.Err() != nil {
			break
		}
	}

	outcome := "success"
	switch {
	case err == nil && res.TimedOut:
		outcome = "success_after_timeout"
	case err != nil:
		outcome = strings.ToLower(string(autherr.KindOf(err)))
	}
	metrics.GatewayCalls.WithLabelValues(label, outcome).Inc()
	if err != nil {
		log.Debugw("Identity CLI call failed", "exitCode", res.ExitCode, "timedOut", res.TimedOut, "attempts", res.Attempts, "error", err)
	} else {
		log.Debugw("Identity CLI call completed", "timedOut", res.TimedOut, "attempts", res.Attempts)
	}
	span.SetAttributes(
		attribute.Int("sessionctl.attempts", res.Attempts),
		attribute.Int("sessionctl.exit_code", res.ExitCode),
		attribute.Bool("sessionctl.timed_out", res.TimedOut))
	telemetry.End(span, err)
	return res, err
}

func (g *Gateway) runOnce(ctx context.Context, req Request) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := g.command(callCtx, g.binary, req.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if req.Interactive {
		if g.stdin != nil {
			cmd.Stdin = g.stdin
		}
		if g.terminal != nil {
			cmd.Stdout = io.MultiWriter(&stdout, g.terminal)
			cmd.Stderr = io.MultiWriter(&stderr, g.terminal)
		}
	}
	cmd.WaitDelay = waitDelay

	runErr := cmd.Run()
	res := Result{
		Stdout: g.strip(stdout.String()),
		Stderr: g.strip(stderr.String()),
	}
	if runErr == nil {
		return res, nil
	}

	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, autherr.New(autherr.ExternalToolTimeout, fmt.Sprintf("%s was cancelled", req.label()), ctx.Err())
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		res.TimedOut = true
		if req.SuccessMarker != "" && strings.Contains(res.Stdout, req.SuccessMarker) {
			return res, nil
		}
		return res, autherr.New(autherr.ExternalToolTimeout,
			fmt.Sprintf("%s did not finish within %s", req.label(), req.Timeout), runErr)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, Classify(req.label(), res, runErr)
	}
	res.ExitCode = -1
	if errors.Is(runErr, exec.ErrNotFound) {
		return res, autherr.New(autherr.ExternalToolError,
			fmt.Sprintf("identity CLI %q not found", g.binary), runErr).
			WithUserMessage(fmt.Sprintf("The identity CLI %q is not installed or not on PATH. Install it, or set the tool binary in the sessionctl config, then try again.", g.binary))
	}
	return res, autherr.New(autherr.ExternalToolError, fmt.Sprintf("failed to start %s", req.label()), runErr)
}

func (g *Gateway) strip(out string) string {
	if out == "" || len(g.noise) == 0 {
		return strings.TrimSpace(out)
	}
	lines := strings.Split(out, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if g.isNoise(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func (g *Gateway) isNoise(line string) bool {
	for _, re := range g.noise {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
