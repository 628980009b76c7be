package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/sessionctl/pkg/metrics"
	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
	"github.com/telekom/sessionctl/pkg/sessionctl/cache"
	"github.com/telekom/sessionctl/pkg/sessionctl/entity"
	"github.com/telekom/sessionctl/pkg/sessionctl/gateway"
	"github.com/telekom/sessionctl/pkg/sessionctl/recovery"
	"github.com/telekom/sessionctl/pkg/sessionctl/token"
	"github.com/telekom/sessionctl/pkg/system"
	"github.com/telekom/sessionctl/pkg/telemetry"
)

const (
	DefaultWarningThreshold = 30 * time.Minute
	DefaultSignInTimeout    = 120 * time.Second
	DefaultLogoutTimeout    = 10 * time.Second

	// AuthStatusKey caches the last token inspection.
	AuthStatusKey = "auth:status"
)

type Config struct {
	// WarningThreshold is the remaining lifetime below which the session is
	// reported as expiring soon.
	WarningThreshold time.Duration
	SignInTimeout    time.Duration
	LogoutTimeout    time.Duration
	SuccessMarker    string
	// NonInteractive refuses to open an interactive sign-in.
	NonInteractive bool
}

func DefaultConfig() Config {
	return Config{
		WarningThreshold: DefaultWarningThreshold,
		SignInTimeout:    DefaultSignInTimeout,
		LogoutTimeout:    DefaultLogoutTimeout,
		SuccessMarker:    recovery.DefaultSuccessMarker,
	}
}

// Resolver is the entity lookup surface the Orchestrator needs.
type Resolver interface {
	Organizations(ctx context.Context, token string) ([]entity.Organization, error)
	Projects(ctx context.Context, token, orgID string) ([]entity.Project, error)
	Workspaces(ctx context.Context, token, orgID, projectID string) ([]entity.Workspace, error)
	Organization(ctx context.Context, token, id string) (entity.Organization, error)
	Project(ctx context.Context, token, orgID, id string) (entity.Project, error)
	Workspace(ctx context.Context, token, orgID, projectID, id string) (entity.Workspace, error)
}

// Recoverer repairs a corrupted token record.
type Recoverer interface {
	Recover(ctx context.Context) (recovery.Outcome, error)
}

type LoginOptions struct {
	// Force signs in again even if the current token is valid.
	Force          bool
	NonInteractive bool
}

// Orchestrator owns the AuthContext of one process.
type Orchestrator struct {
	runner    gateway.Runner
	inspector token.Inspector
	resolver  Resolver
	recoverer Recoverer
	store     SelectionStore
	cache     *cache.Cache
	cfg       Config
	clock     clock.PassiveClock
	log       *zap.SugaredLogger

	// authMu serializes sign-in, sign-out and recovery.
	authMu sync.Mutex

	mu sync.Mutex
	ac AuthContext
}

type Option func(*Orchestrator)

func WithRecoverer(r Recoverer) Option {
	return func(o *Orchestrator) { o.recoverer = r }
}

func WithSelectionStore(s SelectionStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithClock(c clock.PassiveClock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func New(runner gateway.Runner, inspector token.Inspector, resolver Resolver, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = def.WarningThreshold
	}
	if cfg.SignInTimeout <= 0 {
		cfg.SignInTimeout = def.SignInTimeout
	}
	if cfg.LogoutTimeout <= 0 {
		cfg.LogoutTimeout = def.LogoutTimeout
	}
	if cfg.SuccessMarker == "" {
		cfg.SuccessMarker = def.SuccessMarker
	}
	o := &Orchestrator{
		runner:    runner,
		inspector: inspector,
		resolver:  resolver,
		cfg:       cfg,
		clock:     clock.RealClock{},
		ac:        AuthContext{State: StateUnauthenticated},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = cache.New(cache.WithClock(o.clock))
	}
	o.log = system.LoggerOrDefault(o.log)
	return o
}

// State returns the current state without refreshing it.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ac.State
}

func (o *Orchestrator) snapshot() AuthContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ac.Clone()
}

// setLocked replaces the context and records the transition. Leaving the
// authenticated states drops every cached value. The caller holds o.mu.
func (o *Orchestrator) setLocked(next AuthContext) {
	prev := o.ac.State
	o.ac = next
	if !next.State.Authenticated() {
		o.cache.InvalidateAll()
	}
	if prev == next.State {
		return
	}
	metrics.SessionTransitions.WithLabelValues(string(prev), string(next.State)).Inc()
	o.log.Infow("Session state changed", "from", prev, "to", next.State)
	if next.State == StateTokenExpiringSoon {
		o.log.Warnw("Session token expires soon, sign in again to avoid interruptions",
			"expiresInMinutes", next.ExpiresInMinutes)
	}
}

// liveState returns the authenticated state matching c.
func (o *Orchestrator) liveState(c AuthContext) State {
	if c.Token != nil && !c.Token.ExpiresAt.IsZero() &&
		c.Token.ExpiresAt.Sub(o.clock.Now()) < o.cfg.WarningThreshold {
		return StateTokenExpiringSoon
	}
	if c.Organization != nil {
		return StateAuthenticatedWithOrg
	}
	return StateAuthenticatedNoOrg
}

func (o *Orchestrator) inspect(ctx context.Context, fresh bool) (token.Inspection, error) {
	if !fresh {
		if insp, ok := cache.Lookup[token.Inspection](o.cache, AuthStatusKey); ok {
			return insp, nil
		}
	}
	insp, err := o.inspector.Inspect(ctx)
	if err != nil {
		return token.Inspection{}, err
	}
	if !insp.Corrupted() {
		o.cache.Set(AuthStatusKey, insp, cache.ShortTTL)
	}
	return insp, nil
}

// repair runs recovery when insp shows corruption. signedIn reports that
// recovery already ran the forced interactive sign-in. The caller holds authMu.
func (o *Orchestrator) repair(ctx context.Context, insp token.Inspection) (_ token.Inspection, signedIn bool, _ error) {
	if !insp.Corrupted() {
		return insp, false, nil
	}
	if o.recoverer == nil {
		return insp, false, autherr.New(autherr.TokenCorruptionDetected, "token record is corrupted", nil)
	}
	o.cache.Invalidate(AuthStatusKey)
	out, err := o.recoverer.Recover(ctx)
	if err != nil {
		return insp, false, err
	}
	if !out.Inspection.Corrupted() {
		o.cache.Set(AuthStatusKey, out.Inspection, cache.ShortTTL)
	}
	return out.Inspection, out.Resolved && out.Step == recovery.StepSignIn, nil
}

// Login establishes a signed-in session. A valid token is reused unless
// opts.Force is set; otherwise the identity CLI's interactive sign-in runs.
// The token record is checked for corruption before and after signing in.
func (o *Orchestrator) Login(ctx context.Context, opts LoginOptions) (ac AuthContext, err error) {
	ctx, span := telemetry.Start(ctx, "session.Login",
		attribute.Bool("sessionctl.force", opts.Force),
		attribute.Bool("sessionctl.non_interactive", opts.NonInteractive || o.cfg.NonInteractive))
	defer func() {
		span.SetAttributes(attribute.String("sessionctl.state", string(ac.State)))
		telemetry.End(span, err)
	}()

	o.authMu.Lock()
	defer o.authMu.Unlock()
	log := system.LoggerFromContext(ctx, o.log)

	var recoveredBySignIn bool
	insp, err := o.inspect(ctx, true)
	if err == nil {
		insp, recoveredBySignIn, err = o.repair(ctx, insp)
	}
	if err != nil {
		return o.fail(err)
	}
	if insp.Valid && recoveredBySignIn {
		log.Debugw("Recovery already signed in, skipping the interactive sign-in")
		return o.signedIn(insp), nil
	}
	if insp.Valid && !opts.Force {
		log.Debugw("Reusing valid token", "expiresInMinutes", insp.ExpiresInMinutes)
		return o.signedIn(insp), nil
	}
	if opts.NonInteractive || o.cfg.NonInteractive {
		return o.fail(notSignedIn(insp, "interactive sign-in is disabled"))
	}

	args := []string{"login"}
	if opts.Force {
		args = append(args, "-f")
	}
	log.Infow("Starting interactive sign-in", "force", opts.Force)
	if _, err := o.runner.Run(ctx, gateway.Request{
		Name:          "login",
		Args:          args,
		Timeout:       o.cfg.SignInTimeout,
		SuccessMarker: o.cfg.SuccessMarker,
		Interactive:   true,
	}); err != nil {
		return o.fail(err)
	}

	insp, err = o.inspect(ctx, true)
	if err == nil {
		insp, _, err = o.repair(ctx, insp)
	}
	if err != nil {
		return o.fail(err)
	}
	if !insp.Valid {
		return o.fail(notSignedIn(insp, "sign-in finished without a valid token"))
	}
	return o.signedIn(insp), nil
}

func notSignedIn(insp token.Inspection, reason string) *autherr.Error {
	if insp.Status == token.StatusExpired {
		return autherr.New(autherr.TokenExpired, reason, nil)
	}
	return autherr.New(autherr.TokenAbsent, reason, nil)
}

// signedIn moves to an authenticated state and restores the selection.
func (o *Orchestrator) signedIn(insp token.Inspection) AuthContext {
	o.mu.Lock()
	defer o.mu.Unlock()

	var sel Selection
	if o.ac.State.Authenticated() && sameSubject(o.ac.Token, insp.Token) {
		sel = selectionOf(o.ac)
	} else {
		sel = o.loadSelection(insp.Token)
	}

	next := AuthContext{Token: insp.Token, ExpiresInMinutes: insp.ExpiresInMinutes}
	next.State = o.liveState(next)
	o.setLocked(next)

	if sel.OrgID != "" {
		next = o.ac.Clone()
		sel.apply(&next)
		next.State = o.liveState(next)
		o.setLocked(next)
	}
	return o.ac.Clone()
}

func sameSubject(a, b *token.Token) bool {
	if a == nil || b == nil || a.Subject == "" || b.Subject == "" {
		return true
	}
	return a.Subject == b.Subject
}

func (o *Orchestrator) loadSelection(tok *token.Token) Selection {
	if o.store == nil {
		return Selection{}
	}
	sel, err := o.store.LoadSelection()
	if err != nil {
		o.log.Warnw("Failed to load saved selection", "error", err)
		return Selection{}
	}
	if !sameSubject(&token.Token{Subject: sel.Subject}, tok) {
		o.log.Infow("Ignoring saved selection of another account", "savedSubject", sel.Subject)
		return Selection{}
	}
	return sel
}

func (o *Orchestrator) saveSelection(sel Selection) error {
	if o.store == nil {
		return nil
	}
	if err := o.store.SaveSelection(sel); err != nil {
		return fmt.Errorf("failed to persist selection: %w", err)
	}
	return nil
}

// fail records err and moves to the state its kind implies.
func (o *Orchestrator) fail(err error) (AuthContext, error) {
	ae := autherr.Wrap(err, autherr.ExternalToolError, "session operation failed")
	metrics.SessionErrors.WithLabelValues(string(ae.Kind)).Inc()

	o.mu.Lock()
	defer o.mu.Unlock()
	var next AuthContext
	switch ae.Kind {
	case autherr.TokenAbsent:
		next = AuthContext{State: StateUnauthenticated}
	case autherr.TokenExpired:
		next = o.ac.Clone()
		next.State = StateTokenExpired
		next.ExpiresInMinutes = 0
	default:
		next = AuthContext{State: StateAuthError}
	}
	next.Err = ae
	o.setLocked(next)
	o.log.Debugw("Session operation failed", "kind", ae.Kind, "error", ae)
	return o.ac.Clone(), ae
}

// absorb routes an error from a dependent component. Missing selections are
// the caller's problem and leave the state alone.
func (o *Orchestrator) absorb(err error) error {
	switch autherr.KindOf(err) {
	case autherr.NoOrganization, autherr.NoProject, autherr.NoWorkspace:
		return err
	}
	if IsUnauthorized(err) {
		return o.HandleDownstreamError(err)
	}
	_, err = o.fail(err)
	return err
}

// Context returns the current AuthContext, refreshing the token status from
// the cache or the token store. Calling it twice without an external change
// returns the same context.
func (o *Orchestrator) Context(ctx context.Context) (AuthContext, error) {
	if cur := o.snapshot(); !cur.State.Authenticated() {
		return cur, nil
	}
	insp, err := o.inspect(ctx, false)
	if err == nil && insp.Corrupted() {
		insp, err = o.repairSerialized(ctx)
	}
	if err != nil {
		return o.fail(err)
	}
	return o.refresh(insp), nil
}

func (o *Orchestrator) repairSerialized(ctx context.Context) (token.Inspection, error) {
	o.authMu.Lock()
	defer o.authMu.Unlock()
	insp, err := o.inspect(ctx, true)
	if err != nil {
		return insp, err
	}
	insp, _, err = o.repair(ctx, insp)
	return insp, err
}

func (o *Orchestrator) refresh(insp token.Inspection) AuthContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.ac.State.Authenticated() {
		return o.ac.Clone()
	}

	switch {
	case insp.Cleared():
		o.log.Infow("Token removed outside this process, session ended")
		metrics.SessionErrors.WithLabelValues(string(autherr.TokenAbsent)).Inc()
		o.setLocked(AuthContext{
			State: StateUnauthenticated,
			Err:   autherr.New(autherr.TokenAbsent, "signed out outside this process", nil),
		})
	case !insp.Valid:
		reason := "session token has expired"
		if insp.Status == token.StatusExpiryUnknown {
			reason = "session token has no readable expiry"
		}
		metrics.SessionErrors.WithLabelValues(string(autherr.TokenExpired)).Inc()
		next := o.ac.Clone()
		next.Token = insp.Token
		next.ExpiresInMinutes = 0
		next.State = StateTokenExpired
		next.Err = autherr.New(autherr.TokenExpired, reason, nil)
		o.setLocked(next)
	default:
		next := o.ac.Clone()
		if !sameSubject(next.Token, insp.Token) {
			o.log.Infow("A different account signed in, dropping selection")
			next.Organization, next.Project, next.Workspace = nil, nil, nil
			o.cache.InvalidatePrefix(entity.ProjectsPrefix)
			o.cache.InvalidatePrefix(entity.WorkspacesPrefix)
			o.cache.Invalidate(entity.OrganizationsKey)
		}
		next.Token = insp.Token
		next.ExpiresInMinutes = insp.ExpiresInMinutes
		next.State = o.liveState(next)
		o.setLocked(next)
	}
	return o.ac.Clone()
}

// Logout signs out through the identity CLI and resets the session. The local
// session is reset even when the external sign-out fails.
func (o *Orchestrator) Logout(ctx context.Context) (err error) {
	ctx, span := telemetry.Start(ctx, "session.Logout")
	defer func() { telemetry.End(span, err) }()

	o.authMu.Lock()
	defer o.authMu.Unlock()

	_, runErr := o.runner.Run(ctx, gateway.Request{
		Name:    "logout",
		Args:    []string{"logout"},
		Timeout: o.cfg.LogoutTimeout,
	})
	if runErr != nil {
		system.LoggerFromContext(ctx, o.log).Warnw("External sign-out failed", "error", runErr)
	}
	o.reset()
	if err := o.saveSelection(Selection{}); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// ClearContext drops the session and the saved selection without signing out
// of the identity CLI.
func (o *Orchestrator) ClearContext() error {
	o.reset()
	return o.saveSelection(Selection{})
}

func (o *Orchestrator) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setLocked(AuthContext{State: StateUnauthenticated})
}

// Run checks req against a fresh context and invokes op with it. An
// unauthorized error from op ends the session as expired.
func (o *Orchestrator) Run(ctx context.Context, req Requirements, op func(context.Context, AuthContext) error) error {
	cur, err := o.Context(ctx)
	if err != nil {
		return err
	}
	if err := req.Check(cur); err != nil {
		return err
	}
	if err := op(ctx, cur); err != nil {
		return o.HandleDownstreamError(err)
	}
	return nil
}

// HandleDownstreamError inspects an error returned by a call made with the
// session token. Unauthorized errors move the session to TOKEN_EXPIRED and
// are returned as a TOKEN_EXPIRED AuthError; other errors pass through.
func (o *Orchestrator) HandleDownstreamError(err error) error {
	if err == nil || !IsUnauthorized(err) {
		return err
	}
	ae := autherr.New(autherr.TokenExpired, "a request made with the session token was rejected", err)
	metrics.SessionErrors.WithLabelValues(string(ae.Kind)).Inc()

	o.mu.Lock()
	defer o.mu.Unlock()
	next := o.ac.Clone()
	next.State = StateTokenExpired
	next.ExpiresInMinutes = 0
	next.Err = ae
	o.setLocked(next)
	return ae
}

// IsUnauthorized reports whether err means the token was rejected.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	if autherr.IsKind(err, autherr.TokenExpired) {
		return true
	}
	var httpErr *entity.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusUnauthorized
	}
	if _, ok := autherr.As(err); ok {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized")
}
