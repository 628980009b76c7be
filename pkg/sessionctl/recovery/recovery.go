package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/telekom/sessionctl/pkg/metrics"
	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
	"github.com/telekom/sessionctl/pkg/sessionctl/gateway"
	"github.com/telekom/sessionctl/pkg/sessionctl/token"
	"github.com/telekom/sessionctl/pkg/system"
	"github.com/telekom/sessionctl/pkg/telemetry"
)

type Step string

const (
	StepNone          Step = "none"
	StepLogout        Step = "logout"
	StepConfigDelete  Step = "config-delete"
	StepSignIn        Step = "sign-in"
	StepUnrecoverable Step = "unrecoverable"
	StepThrottled     Step = "throttled"
)

const (
	DefaultCommandTimeout = 10 * time.Second
	DefaultSignInTimeout  = 120 * time.Second
	DefaultSettleDelay    = 2 * time.Second
	DefaultMinInterval    = 30 * time.Second
	DefaultSuccessMarker  = "You are currently logged in"
)

// Outcome describes how far recovery went and what the record looked like
// afterwards.
type Outcome struct {
	// Resolved is true once the record no longer shows the corruption.
	Resolved   bool
	Step       Step
	Inspection token.Inspection
}

type Config struct {
	TokenKey       string
	CommandTimeout time.Duration
	SignInTimeout  time.Duration
	// SettleDelay is waited after sign-in before re-inspecting, giving the
	// identity CLI time to finish writing its config file. Zero skips it.
	SettleDelay   time.Duration
	SuccessMarker string
	// MinInterval is the minimum time between two recovery attempts. Zero
	// disables throttling.
	MinInterval    time.Duration
	NonInteractive bool
}

func DefaultConfig() Config {
	return Config{
		TokenKey:       token.DefaultKey,
		CommandTimeout: DefaultCommandTimeout,
		SignInTimeout:  DefaultSignInTimeout,
		SettleDelay:    DefaultSettleDelay,
		SuccessMarker:  DefaultSuccessMarker,
		MinInterval:    DefaultMinInterval,
	}
}

// Engine runs recovery attempts. Attempts are serialized.
type Engine struct {
	runner    gateway.Runner
	inspector token.Inspector
	cfg       Config
	clock     clock.Clock
	log       *zap.SugaredLogger

	mu      sync.Mutex
	limiter *rate.Limiter
	failed  *autherr.Error
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = log }
}

func New(runner gateway.Runner, inspector token.Inspector, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.TokenKey == "" {
		cfg.TokenKey = def.TokenKey
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.SignInTimeout <= 0 {
		cfg.SignInTimeout = def.SignInTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if cfg.SuccessMarker == "" {
		cfg.SuccessMarker = def.SuccessMarker
	}
	e := &Engine{runner: runner, inspector: inspector, cfg: cfg, clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(e)
	}
	e.log = system.LoggerOrDefault(e.log)
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	e.limiter = rate.NewLimiter(limit, 1)
	return e
}

// Failed returns the unrecoverable error once the engine has given up.
func (e *Engine) Failed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed == nil {
		return nil
	}
	return e.failed
}

// Recover runs one recovery attempt. It must only be called after an
// inspection reported the record as corrupted.
func (e *Engine) Recover(ctx context.Context) (out Outcome, err error) {
	ctx, span := telemetry.Start(ctx, "recovery.Recover")
	defer func() {
		span.SetAttributes(
			attribute.String("sessionctl.recovery.step", string(out.Step)),
			attribute.Bool("sessionctl.recovery.resolved", out.Resolved))
		telemetry.End(span, err)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failed != nil {
		return Outcome{Step: StepUnrecoverable}, e.failed
	}
	if !e.limiter.AllowN(e.clock.Now(), 1) {
		metrics.RecoveryOutcomes.WithLabelValues(string(StepThrottled), "skipped").Inc()
		return Outcome{Step: StepThrottled}, autherr.New(autherr.TokenCorruptionDetected,
			"token corruption recovery attempted too recently", nil)
	}
	metrics.RecoveryAttempts.Inc()
	log := system.LoggerFromContext(ctx, e.log).With("tokenKey", e.cfg.TokenKey)
	log.Warnw("Token record is corrupted, starting recovery")

	clearedBy := StepLogout
	insp, err := e.clearStep(ctx, log, StepLogout, []string{"logout"})
	if err != nil {
		return Outcome{Step: StepLogout}, err
	}
	if !insp.Cleared() {
		clearedBy = StepConfigDelete
		insp, err = e.clearStep(ctx, log, StepConfigDelete, []string{"config", "delete", e.cfg.TokenKey})
		if err != nil {
			return Outcome{Step: StepConfigDelete}, err
		}
	}
	if !insp.Cleared() {
		if e.cfg.NonInteractive {
			return Outcome{Step: StepUnrecoverable, Inspection: insp}, e.giveUp(log, "token record survived sign-out and deletion")
		}
		// login -f rewrites the record even when delete could not
		log.Warnw("Token record survived sign-out and deletion, trying a forced sign-in")
	} else if e.cfg.NonInteractive {
		log.Infow("Token record cleared, interactive sign-in disabled", "clearedBy", clearedBy)
		return Outcome{Resolved: true, Step: clearedBy, Inspection: insp},
			autherr.New(autherr.TokenAbsent, "token record cleared during recovery; sign-in required", nil)
	}

	insp, err = e.signIn(ctx, log)
	if err != nil {
		return Outcome{Step: StepSignIn}, err
	}
	if insp.Corrupted() {
		return Outcome{Step: StepUnrecoverable, Inspection: insp}, e.giveUp(log, "token record still corrupted after forced sign-in")
	}
	metrics.RecoveryOutcomes.WithLabelValues(string(StepSignIn), "resolved").Inc()
	log.Infow("Token corruption resolved", "status", insp.Status)
	return Outcome{Resolved: true, Step: StepSignIn, Inspection: insp}, nil
}

// clearStep runs a clearing command and re-inspects the record. A failing
// command is not fatal: the next step escalates.
func (e *Engine) clearStep(ctx context.Context, log *zap.SugaredLogger, step Step, args []string) (token.Inspection, error) {
	if _, err := e.runner.Run(ctx, gateway.Request{
		Name:    string(step),
		Args:    args,
		Timeout: e.cfg.CommandTimeout,
	}); err != nil {
		if ctx.Err() != nil {
			return token.Inspection{}, err
		}
		log.Warnw("Recovery command failed", "step", step, "error", err)
	}
	insp, err := e.inspector.Inspect(ctx)
	if err != nil {
		metrics.RecoveryOutcomes.WithLabelValues(string(step), "error").Inc()
		return token.Inspection{}, err
	}
	result := "not_cleared"
	if insp.Cleared() {
		result = "cleared"
	}
	metrics.RecoveryOutcomes.WithLabelValues(string(step), result).Inc()
	log.Infow("Recovery step finished", "step", step, "status", insp.Status)
	return insp, nil
}

func (e *Engine) signIn(ctx context.Context, log *zap.SugaredLogger) (token.Inspection, error) {
	log.Infow("Starting forced sign-in")
	if _, err := e.runner.Run(ctx, gateway.Request{
		Name:          string(StepSignIn),
		Args:          []string{"login", "-f"},
		Timeout:       e.cfg.SignInTimeout,
		SuccessMarker: e.cfg.SuccessMarker,
		Interactive:   true,
	}); err != nil {
		metrics.RecoveryOutcomes.WithLabelValues(string(StepSignIn), "error").Inc()
		return token.Inspection{}, err
	}
	if err := e.settle(ctx); err != nil {
		return token.Inspection{}, err
	}
	return e.inspector.Inspect(ctx)
}

func (e *Engine) settle(ctx context.Context) error {
	if e.cfg.SettleDelay == 0 {
		return nil
	}
	select {
	case <-e.clock.After(e.cfg.SettleDelay):
		return nil
	case <-ctx.Done():
		return autherr.New(autherr.ExternalToolTimeout, "cancelled while waiting for sign-in to settle", ctx.Err())
	}
}

func (e *Engine) giveUp(log *zap.SugaredLogger, reason string) error {
	e.failed = autherr.New(autherr.TokenCorruptionUnrecoverable, reason, nil).WithUserMessage(fmt.Sprintf(
		"The stored sign-in token is corrupted and could not be repaired automatically. "+
			"Run 'aio logout', then 'aio config delete %s', then 'sessionctl auth login --force'. "+
			"Restart sessionctl afterwards.", e.cfg.TokenKey))
	metrics.RecoveryOutcomes.WithLabelValues(string(StepUnrecoverable), "failed").Inc()
	log.Errorw("Token corruption is unrecoverable", "reason", reason)
	return e.failed
}
