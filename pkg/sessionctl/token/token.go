package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/sessionctl/pkg/metrics"
	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
	"github.com/telekom/sessionctl/pkg/sessionctl/gateway"
	"github.com/telekom/sessionctl/pkg/system"
)

const (
	DefaultKey       = "ims.contexts.cli.access_token"
	DefaultMinLength = 100
	DefaultTimeout   = 10 * time.Second

	// ExpirySentinel is the value the identity CLI leaves in the expiry field
	// while the record is uninitialized or half-written.
	ExpirySentinel int64 = 0
)

type Status string

const (
	StatusAbsent        Status = "absent"
	StatusValid         Status = "valid"
	StatusExpired       Status = "expired"
	StatusCorrupted     Status = "corrupted"
	StatusExpiryUnknown Status = "expiry-unknown"
)

// MissingExpiryPolicy decides how a plausible token without any expiry field
// is treated. An expiry field that is present and equal to the sentinel is
// always corruption; this policy only covers the field being absent.
type MissingExpiryPolicy string

const (
	MissingExpiryUnknown   MissingExpiryPolicy = "unknown"
	MissingExpiryCorrupted MissingExpiryPolicy = "corrupted"
)

// Token is one snapshot of the external token record.
type Token struct {
	Value     string    `json:"-" yaml:"-"`
	ExpiresAt time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	Subject   string    `json:"subject,omitempty" yaml:"subject,omitempty"`
}

// Masked returns a printable fingerprint of the token.
func (t Token) Masked() string {
	if len(t.Value) <= 8 {
		return strings.Repeat("*", len(t.Value))
	}
	return t.Value[:4] + "..." + t.Value[len(t.Value)-4:]
}

// Inspection is the result of reading the token record once.
type Inspection struct {
	Valid            bool   `json:"valid"`
	Token            *Token `json:"token,omitempty"`
	ExpiresInMinutes int    `json:"expiresInMinutes"`
	Status           Status `json:"status"`
}

func (i Inspection) Corrupted() bool { return i.Status == StatusCorrupted }

// Cleared reports whether the store holds no usable token at all.
func (i Inspection) Cleared() bool { return i.Status == StatusAbsent }

// Inspector reads the token record.
type Inspector interface {
	Inspect(ctx context.Context) (Inspection, error)
}

type Config struct {
	Key           string
	Timeout       time.Duration
	Retries       int
	MinLength     int
	MissingExpiry MissingExpiryPolicy
}

func DefaultConfig() Config {
	return Config{
		Key:           DefaultKey,
		Timeout:       DefaultTimeout,
		Retries:       1,
		MinLength:     DefaultMinLength,
		MissingExpiry: MissingExpiryUnknown,
	}
}

// Reader inspects the identity CLI's token record through the gateway.
type Reader struct {
	runner gateway.Runner
	cfg    Config
	clock  clock.PassiveClock
	log    *zap.SugaredLogger
}

var _ Inspector = (*Reader)(nil)

type Option func(*Reader)

func WithClock(c clock.PassiveClock) Option {
	return func(r *Reader) { r.clock = c }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *Reader) { r.log = log }
}

func NewReader(runner gateway.Runner, cfg Config, opts ...Option) *Reader {
	def := DefaultConfig()
	if cfg.Key == "" {
		cfg.Key = def.Key
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MissingExpiry == "" {
		cfg.MissingExpiry = def.MissingExpiry
	}
	r := &Reader{runner: runner, cfg: cfg, clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(r)
	}
	r.log = system.LoggerOrDefault(r.log)
	return r
}

// Key returns the config key holding the token record.
func (r *Reader) Key() string { return r.cfg.Key }

// Inspect reads the whole token record with a single structured query. Token
// and expiry are never read separately: two reads can straddle a write by the
// identity CLI and pair a fresh token with a stale or zeroed expiry.
func (r *Reader) Inspect(ctx context.Context) (Inspection, error) {
	res, err := r.runner.Run(ctx, gateway.Request{
		Name:    "config-get",
		Args:    []string{"config", "get", r.cfg.Key, "--json"},
		Timeout: r.cfg.Timeout,
		Retries: r.cfg.Retries,
	})
	if err != nil {
		return Inspection{}, err
	}
	rec, err := parseRecord(res.Stdout)
	if err != nil {
		return Inspection{}, autherr.New(autherr.ExternalToolError, "unreadable token record", err)
	}
	insp := r.evaluate(rec)
	metrics.TokenInspections.WithLabelValues(string(insp.Status)).Inc()
	system.LoggerFromContext(ctx, r.log).Debugw("Inspected token record",
		"status", insp.Status, "expiresInMinutes", insp.ExpiresInMinutes)
	return insp, nil
}

func (r *Reader) evaluate(rec record) Inspection {
	value := strings.TrimSpace(rec.token)
	if len(value) < r.cfg.MinLength {
		return Inspection{Status: StatusAbsent}
	}
	tok := &Token{Value: value, Subject: subjectFromJWT(value)}

	if !rec.hasExpiry {
		if r.cfg.MissingExpiry == MissingExpiryCorrupted {
			return Inspection{Token: tok, Status: StatusCorrupted}
		}
		return Inspection{Token: tok, Status: StatusExpiryUnknown}
	}
	if rec.expiryMs == ExpirySentinel {
		return Inspection{Token: tok, Status: StatusCorrupted}
	}

	tok.ExpiresAt = time.UnixMilli(rec.expiryMs)
	remaining := tok.ExpiresAt.Sub(r.clock.Now())
	if remaining <= 0 {
		return Inspection{Token: tok, Status: StatusExpired}
	}
	return Inspection{
		Valid:            true,
		Token:            tok,
		ExpiresInMinutes: int(remaining / time.Minute),
		Status:           StatusValid,
	}
}

type record struct {
	token     string
	hasExpiry bool
	expiryMs  int64
}

func parseRecord(out string) (record, error) {
	out = strings.TrimSpace(out)
	switch out {
	case "", "null", "undefined", "{}", `""`:
		return record{}, nil
	}

	// a bare JSON string is a token without an expiry record
	if strings.HasPrefix(out, `"`) {
		var s string
		if err := json.Unmarshal([]byte(out), &s); err != nil {
			return record{}, fmt.Errorf("failed to parse token string: %w", err)
		}
		return record{token: s}, nil
	}

	var raw struct {
		Token  *string         `json:"token"`
		Expiry json.RawMessage `json:"expiry"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(out)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return record{}, fmt.Errorf("failed to parse token record: %w", err)
	}
	rec := record{}
	if raw.Token != nil {
		rec.token = *raw.Token
	}
	ms, ok, err := parseExpiry(raw.Expiry)
	if err != nil {
		return record{}, err
	}
	rec.hasExpiry = ok
	rec.expiryMs = ms
	return rec, nil
}

func parseExpiry(raw json.RawMessage) (int64, bool, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false, nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return 0, false, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, true, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), true, nil
	}
	return 0, false, fmt.Errorf("unrecognized token expiry %q", s)
}

func subjectFromJWT(value string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err != nil {
		return ""
	}
	for _, key := range []string{"email", "preferred_username", "user_id", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
