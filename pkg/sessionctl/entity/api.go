package entity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
)

const (
	DefaultInitTimeout = 5 * time.Second
	defaultUserAgent   = "sessionctl"
)

// APILister lists entities through the accelerator REST service.
type APILister struct {
	http        *resty.Client
	initTimeout time.Duration
	probePath   string
}

var _ Accelerator = (*APILister)(nil)

type APIOption func(*APILister) error

func NewAPILister(baseURL string, opts ...APIOption) (*APILister, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("accelerator URL is required")
	}
	l := &APILister{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(DefaultListTimeout).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", defaultUserAgent),
		initTimeout: DefaultInitTimeout,
		probePath:   "/organizations",
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func WithAPIKey(key string) APIOption {
	return func(l *APILister) error {
		if key != "" {
			l.http.SetHeader("x-api-key", key)
		}
		return nil
	}
}

func WithRequestTimeout(d time.Duration) APIOption {
	return func(l *APILister) error {
		if d <= 0 {
			return fmt.Errorf("invalid request timeout %s", d)
		}
		l.http.SetTimeout(d)
		return nil
	}
}

func WithInitTimeout(d time.Duration) APIOption {
	return func(l *APILister) error {
		if d <= 0 {
			return fmt.Errorf("invalid init timeout %s", d)
		}
		l.initTimeout = d
		return nil
	}
}

func WithUserAgent(ua string) APIOption {
	return func(l *APILister) error {
		if ua != "" {
			l.http.SetHeader("User-Agent", ua)
		}
		return nil
	}
}

// WithProbePath sets the endpoint requested by Probe.
func WithProbePath(p string) APIOption {
	return func(l *APILister) error {
		l.probePath = "/" + strings.TrimLeft(p, "/")
		return nil
	}
}

// Probe checks that the service answers for token within the init timeout.
func (l *APILister) Probe(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, l.initTimeout)
	defer cancel()
	return l.get(ctx, token, l.probePath, nil, nil)
}

func (l *APILister) Organizations(ctx context.Context, token string) ([]Organization, error) {
	var orgs []Organization
	if err := l.get(ctx, token, "/organizations", nil, &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

func (l *APILister) Projects(ctx context.Context, token, orgID string) ([]Project, error) {
	var projects []Project
	params := map[string]string{"org": orgID}
	if err := l.get(ctx, token, "/organizations/{org}/projects", params, &projects); err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].OrgID == "" {
			projects[i].OrgID = orgID
		}
	}
	return projects, nil
}

func (l *APILister) Workspaces(ctx context.Context, token, orgID, projectID string) ([]Workspace, error) {
	var workspaces []Workspace
	params := map[string]string{"org": orgID, "project": projectID}
	if err := l.get(ctx, token, "/organizations/{org}/projects/{project}/workspaces", params, &workspaces); err != nil {
		return nil, err
	}
	for i := range workspaces {
		workspaces[i].OrgID = orgID
		workspaces[i].ProjectID = projectID
	}
	return workspaces, nil
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (l *APILister) get(ctx context.Context, token, endpoint string, params map[string]string, out any) error {
	var apiErr apiError
	req := l.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetError(&apiErr)
	if params != nil {
		req.SetPathParams(params)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Get(endpoint)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return autherr.New(autherr.NetworkError, "accelerator request timed out", err)
		}
		return autherr.New(autherr.NetworkError, "accelerator request failed", err)
	}
	if !resp.IsError() {
		return nil
	}

	msg := strings.TrimSpace(apiErr.Error)
	if msg == "" {
		msg = strings.TrimSpace(apiErr.Message)
	}
	if msg == "" {
		msg = resp.Status()
	}
	cause := &HTTPError{StatusCode: resp.StatusCode(), Message: msg}
	switch resp.StatusCode() {
	case http.StatusUnauthorized:
		return autherr.New(autherr.TokenExpired, "accelerator rejected the token", cause)
	case http.StatusForbidden:
		return autherr.New(autherr.PermissionDenied, "accelerator denied access", cause)
	default:
		return autherr.New(autherr.ExternalToolError, "accelerator request failed", cause)
	}
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}
