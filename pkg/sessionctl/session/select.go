package session

import (
	"context"

	"github.com/telekom/sessionctl/pkg/sessionctl/entity"
)

// SelectOrganization selects the organization with id. Any project and
// workspace selection is cleared.
func (o *Orchestrator) SelectOrganization(ctx context.Context, id string) (AuthContext, error) {
	cur, err := o.Context(ctx)
	if err != nil {
		return cur, err
	}
	if err := RequireToken.Check(cur); err != nil {
		return cur, err
	}
	org, err := o.resolver.Organization(ctx, cur.AccessToken(), id)
	if err != nil {
		err = o.absorb(err)
		return o.snapshot(), err
	}
	return o.updateSelection(RequireToken, func(next *AuthContext) {
		next.Organization = &org
		next.Project, next.Workspace = nil, nil
	}, entity.ProjectsPrefix, entity.WorkspacesPrefix)
}

// SelectProject selects a project of the selected organization and clears the
// workspace selection.
func (o *Orchestrator) SelectProject(ctx context.Context, id string) (AuthContext, error) {
	cur, err := o.Context(ctx)
	if err != nil {
		return cur, err
	}
	if err := RequireOrg.Check(cur); err != nil {
		return cur, err
	}
	project, err := o.resolver.Project(ctx, cur.AccessToken(), cur.Organization.ID, id)
	if err != nil {
		err = o.absorb(err)
		return o.snapshot(), err
	}
	return o.updateSelection(RequireOrg, func(next *AuthContext) {
		next.Project = &project
		next.Workspace = nil
	}, entity.WorkspacesPrefix)
}

func (o *Orchestrator) SelectWorkspace(ctx context.Context, id string) (AuthContext, error) {
	cur, err := o.Context(ctx)
	if err != nil {
		return cur, err
	}
	if err := RequireProject.Check(cur); err != nil {
		return cur, err
	}
	workspace, err := o.resolver.Workspace(ctx, cur.AccessToken(), cur.Organization.ID, cur.Project.ID, id)
	if err != nil {
		err = o.absorb(err)
		return o.snapshot(), err
	}
	return o.updateSelection(RequireProject, func(next *AuthContext) {
		next.Workspace = &workspace
	})
}

// updateSelection applies change if the session still satisfies req, then
// drops the cache prefixes and persists the selection.
func (o *Orchestrator) updateSelection(req Requirements, change func(*AuthContext), invalidate ...string) (AuthContext, error) {
	o.mu.Lock()
	if err := req.Check(o.ac); err != nil {
		out := o.ac.Clone()
		o.mu.Unlock()
		return out, err
	}
	next := o.ac.Clone()
	change(&next)
	next.State = o.liveState(next)
	o.setLocked(next)
	out := o.ac.Clone()
	o.mu.Unlock()

	for _, prefix := range invalidate {
		o.cache.InvalidatePrefix(prefix)
	}
	return out, o.saveSelection(selectionOf(out))
}

// Organizations lists the organizations visible to the signed-in user.
func (o *Orchestrator) Organizations(ctx context.Context) ([]entity.Organization, error) {
	var orgs []entity.Organization
	err := o.list(ctx, RequireToken, func(ctx context.Context, c AuthContext) (err error) {
		orgs, err = o.resolver.Organizations(ctx, c.AccessToken())
		return err
	})
	return orgs, err
}

// Projects lists the projects of the selected organization.
func (o *Orchestrator) Projects(ctx context.Context) ([]entity.Project, error) {
	var projects []entity.Project
	err := o.list(ctx, RequireOrg, func(ctx context.Context, c AuthContext) (err error) {
		projects, err = o.resolver.Projects(ctx, c.AccessToken(), c.Organization.ID)
		return err
	})
	return projects, err
}

// Workspaces lists the workspaces of the selected project.
func (o *Orchestrator) Workspaces(ctx context.Context) ([]entity.Workspace, error) {
	var workspaces []entity.Workspace
	err := o.list(ctx, RequireProject, func(ctx context.Context, c AuthContext) (err error) {
		workspaces, err = o.resolver.Workspaces(ctx, c.AccessToken(), c.Organization.ID, c.Project.ID)
		return err
	})
	return workspaces, err
}

func (o *Orchestrator) list(ctx context.Context, req Requirements, fetch func(context.Context, AuthContext) error) error {
	cur, err := o.Context(ctx)
	if err != nil {
		return err
	}
	if err := req.Check(cur); err != nil {
		return err
	}
	if err := fetch(ctx, cur); err != nil {
		return o.absorb(err)
	}
	return nil
}
