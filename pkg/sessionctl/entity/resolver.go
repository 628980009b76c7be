package entity

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/singleflight"

	"github.com/telekom/sessionctl/pkg/metrics"
	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
	"github.com/telekom/sessionctl/pkg/sessionctl/cache"
	"github.com/telekom/sessionctl/pkg/system"
	"github.com/telekom/sessionctl/pkg/telemetry"
)

// Resolver serves entity listings from the cache, fetching on a miss from the
// accelerator when available and from the identity CLI otherwise.
type Resolver struct {
	cli   Lister
	api   Accelerator
	cache *cache.Cache
	group singleflight.Group
	log   *zap.SugaredLogger
}

type Option func(*Resolver)

// WithAccelerator enables the accelerator backend.
func WithAccelerator(api Accelerator) Option {
	return func(r *Resolver) { r.api = api }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *Resolver) { r.log = log }
}

func NewResolver(cli Lister, c *cache.Cache, opts ...Option) *Resolver {
	r := &Resolver{cli: cli, cache: c}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.New()
	}
	r.log = system.LoggerOrDefault(r.log)
	return r
}

func (r *Resolver) Organizations(ctx context.Context, token string) ([]Organization, error) {
	return resolve(ctx, r, OrganizationsKey, "organization", token,
		func(ctx context.Context, l Lister) ([]Organization, error) { return l.Organizations(ctx, token) },
		compareOrganizations)
}

func (r *Resolver) Projects(ctx context.Context, token, orgID string) ([]Project, error) {
	if orgID == "" {
		return nil, autherr.New(autherr.NoOrganization, "projects requested without an organization", nil)
	}
	return resolve(ctx, r, ProjectsKey(orgID), "project", token,
		func(ctx context.Context, l Lister) ([]Project, error) { return l.Projects(ctx, token, orgID) },
		compareProjects)
}

func (r *Resolver) Workspaces(ctx context.Context, token, orgID, projectID string) ([]Workspace, error) {
	if orgID == "" {
		return nil, autherr.New(autherr.NoOrganization, "workspaces requested without an organization", nil)
	}
	if projectID == "" {
		return nil, autherr.New(autherr.NoProject, "workspaces requested without a project", nil)
	}
	return resolve(ctx, r, WorkspacesKey(orgID, projectID), "workspace", token,
		func(ctx context.Context, l Lister) ([]Workspace, error) {
			return l.Workspaces(ctx, token, orgID, projectID)
		},
		compareWorkspaces)
}

// Organization returns the organization with id, or NO_ORGANIZATION.
func (r *Resolver) Organization(ctx context.Context, token, id string) (Organization, error) {
	orgs, err := r.Organizations(ctx, token)
	if err != nil {
		return Organization{}, err
	}
	i := slices.IndexFunc(orgs, func(o Organization) bool { return o.ID == id })
	if i < 0 {
		return Organization{}, autherr.New(autherr.NoOrganization, fmt.Sprintf("organization %q not found", id), nil).
			WithUserMessage(fmt.Sprintf("Organization %q is not available to this account. Run 'sessionctl org list' to see the organizations you can select.", id))
	}
	return orgs[i], nil
}

func (r *Resolver) Project(ctx context.Context, token, orgID, id string) (Project, error) {
	projects, err := r.Projects(ctx, token, orgID)
	if err != nil {
		return Project{}, err
	}
	i := slices.IndexFunc(projects, func(p Project) bool { return p.ID == id })
	if i < 0 {
		return Project{}, autherr.New(autherr.NoProject, fmt.Sprintf("project %q not found in organization %q", id, orgID), nil).
			WithUserMessage(fmt.Sprintf("Project %q does not exist in the selected organization. Run 'sessionctl project list' to see the available projects.", id))
	}
	return projects[i], nil
}

func (r *Resolver) Workspace(ctx context.Context, token, orgID, projectID, id string) (Workspace, error) {
	workspaces, err := r.Workspaces(ctx, token, orgID, projectID)
	if err != nil {
		return Workspace{}, err
	}
	i := slices.IndexFunc(workspaces, func(w Workspace) bool { return w.ID == id })
	if i < 0 {
		return Workspace{}, autherr.New(autherr.NoWorkspace, fmt.Sprintf("workspace %q not found in project %q", id, projectID), nil).
			WithUserMessage(fmt.Sprintf("Workspace %q does not exist in the selected project. Run 'sessionctl workspace list' to see the available workspaces.", id))
	}
	return workspaces[i], nil
}

// resolve returns the cached listing for key or fetches it once, however many
// callers ask concurrently. Callers get their own copy of the slice.
func resolve[T any](
	ctx context.Context,
	r *Resolver,
	key, kind, token string,
	fetch func(context.Context, Lister) ([]T, error),
	compare func(a, b T) int,
) ([]T, error) {
	if items, ok := cache.Lookup[[]T](r.cache, key); ok {
		metrics.EntityFetches.WithLabelValues(kind, "cache").Inc()
		return slices.Clone(items), nil
	}
	// the shared fetch outlives any single caller; each caller still honors its own ctx
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		if items, ok := cache.Lookup[[]T](r.cache, key); ok {
			return items, nil
		}
		items, err := fetchWithFallback(fetchCtx, r, kind, token, fetch)
		if err != nil {
			return nil, err
		}
		slices.SortFunc(items, compare)
		r.cache.Set(key, items, cache.MediumTTL)
		return items, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			r.log.Debugw("Coalesced entity request", "key", key)
		}
		return slices.Clone(res.Val.([]T)), nil
	case <-ctx.Done():
		return nil, autherr.New(autherr.ExternalToolTimeout, fmt.Sprintf("%s listing was cancelled", kind), ctx.Err())
	}
}

func fetchWithFallback[T any](
	ctx context.Context,
	r *Resolver,
	kind, token string,
	fetch func(context.Context, Lister) ([]T, error),
) (items []T, err error) {
	ctx, span := telemetry.Start(ctx, "entity.Fetch", attribute.String("sessionctl.entity", kind))
	source := "cli"
	defer func() {
		span.SetAttributes(
			attribute.String("sessionctl.source", source),
			attribute.Int("sessionctl.count", len(items)))
		telemetry.End(span, err)
	}()

	if r.acceleratorAvailable(ctx, token) {
		items, err = fetch(ctx, r.api)
		if err == nil {
			source = "accelerator"
			metrics.EntityFetches.WithLabelValues(kind, source).Inc()
			return items, nil
		}
		if isAuthFailure(err) {
			source = "accelerator"
			return nil, err
		}
		r.log.Warnw("Accelerator listing failed, falling back to the identity CLI", "entity", kind, "error", err)
		metrics.AcceleratorFallbacks.WithLabelValues(kind).Inc()
		r.cache.Set(acceleratorKey, false, cache.LongTTL)
	}
	items, err = fetch(ctx, r.cli)
	if err != nil {
		return nil, err
	}
	metrics.EntityFetches.WithLabelValues(kind, source).Inc()
	return items, nil
}

// acceleratorAvailable runs the availability check at most once per long TTL.
func (r *Resolver) acceleratorAvailable(ctx context.Context, token string) bool {
	if r.api == nil {
		return false
	}
	if ok, cached := cache.Lookup[bool](r.cache, acceleratorKey); cached {
		return ok
	}
	v, _, _ := r.group.Do(acceleratorKey, func() (any, error) {
		if err := r.api.Probe(ctx, token); err != nil {
			r.log.Infow("Accelerator unavailable, using the identity CLI", "error", err)
			// a rejected token says nothing about the service itself
			if !isAuthFailure(err) {
				r.cache.Set(acceleratorKey, false, cache.LongTTL)
			}
			return false, nil
		}
		r.cache.Set(acceleratorKey, true, cache.LongTTL)
		return true, nil
	})
	return v.(bool)
}

func isAuthFailure(err error) bool {
	switch autherr.KindOf(err) {
	case autherr.TokenExpired, autherr.PermissionDenied:
		return true
	}
	return false
}
