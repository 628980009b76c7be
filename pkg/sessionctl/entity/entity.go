package entity

import (
	"cmp"
	"context"
	"strings"
)

type Organization struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Code string `json:"code,omitempty" yaml:"code,omitempty"`
}

type Project struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	OrgID string `json:"org_id" yaml:"orgId"`
}

type Workspace struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	OrgID     string `json:"org_id" yaml:"orgId"`
	ProjectID string `json:"project_id" yaml:"projectId"`
}

// Lister fetches entity listings from one backend.
type Lister interface {
	Organizations(ctx context.Context, token string) ([]Organization, error)
	Projects(ctx context.Context, token, orgID string) ([]Project, error)
	Workspaces(ctx context.Context, token, orgID, projectID string) ([]Workspace, error)
}

// Accelerator is a Lister that is checked for reachability before use.
type Accelerator interface {
	Lister
	Probe(ctx context.Context, token string) error
}

// Cache keys. Projects and workspaces are keyed by their parent ids.
const (
	OrganizationsKey = "orgs"
	ProjectsPrefix   = "projects:"
	WorkspacesPrefix = "workspaces:"
	acceleratorKey   = "accelerator:available"
)

func ProjectsKey(orgID string) string { return ProjectsPrefix + orgID }

func WorkspacesKey(orgID, projectID string) string {
	return WorkspacesPrefix + orgID + ":" + projectID
}

func byName(aName, aID, bName, bID string) int {
	return cmp.Or(
		strings.Compare(strings.ToLower(aName), strings.ToLower(bName)),
		strings.Compare(aID, bID),
	)
}

func compareOrganizations(a, b Organization) int { return byName(a.Name, a.ID, b.Name, b.ID) }
func compareProjects(a, b Project) int           { return byName(a.Name, a.ID, b.Name, b.ID) }
func compareWorkspaces(a, b Workspace) int       { return byName(a.Name, a.ID, b.Name, b.ID) }
