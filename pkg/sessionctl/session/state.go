package session

import (
	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
	"github.com/telekom/sessionctl/pkg/sessionctl/entity"
	"github.com/telekom/sessionctl/pkg/sessionctl/token"
)

type State string

const (
	StateUnauthenticated      State = "UNAUTHENTICATED"
	StateAuthenticatedNoOrg   State = "AUTHENTICATED_NO_ORG"
	StateAuthenticatedWithOrg State = "AUTHENTICATED_WITH_ORG"
	StateTokenExpiringSoon    State = "TOKEN_EXPIRING_SOON"
	StateTokenExpired         State = "TOKEN_EXPIRED"
	StateAuthError            State = "AUTH_ERROR"
)

// Authenticated reports whether the state carries a usable token.
func (s State) Authenticated() bool {
	switch s {
	case StateAuthenticatedNoOrg, StateAuthenticatedWithOrg, StateTokenExpiringSoon:
		return true
	}
	return false
}

// AuthContext is a snapshot of the session. Values handed out by the
// Orchestrator are copies and may be modified freely.
type AuthContext struct {
	State            State                `json:"state" yaml:"state"`
	Token            *token.Token         `json:"token,omitempty" yaml:"token,omitempty"`
	ExpiresInMinutes int                  `json:"expiresInMinutes" yaml:"expiresInMinutes"`
	Organization     *entity.Organization `json:"organization,omitempty" yaml:"organization,omitempty"`
	Project          *entity.Project      `json:"project,omitempty" yaml:"project,omitempty"`
	Workspace        *entity.Workspace    `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	// Err is set in the error states and after an external sign-out.
	Err *autherr.Error `json:"-" yaml:"-"`
}

// Clone returns a deep copy.
func (c AuthContext) Clone() AuthContext {
	out := c
	if c.Token != nil {
		t := *c.Token
		out.Token = &t
	}
	if c.Organization != nil {
		o := *c.Organization
		out.Organization = &o
	}
	if c.Project != nil {
		p := *c.Project
		out.Project = &p
	}
	if c.Workspace != nil {
		w := *c.Workspace
		out.Workspace = &w
	}
	if c.Err != nil {
		e := *c.Err
		out.Err = &e
	}
	return out
}

// AccessToken returns the raw token or "".
func (c AuthContext) AccessToken() string {
	if c.Token == nil {
		return ""
	}
	return c.Token.Value
}

// Requirements lists what an operation needs from the session. Each level
// implies the ones above it.
type Requirements struct {
	NeedsToken     bool
	NeedsOrg       bool
	NeedsProject   bool
	NeedsWorkspace bool
}

var (
	RequireToken     = Requirements{NeedsToken: true}
	RequireOrg       = Requirements{NeedsToken: true, NeedsOrg: true}
	RequireProject   = Requirements{NeedsToken: true, NeedsOrg: true, NeedsProject: true}
	RequireWorkspace = Requirements{NeedsToken: true, NeedsOrg: true, NeedsProject: true, NeedsWorkspace: true}
)

// Check returns the error an operation with requirements r would hit against c.
func (r Requirements) Check(c AuthContext) error {
	needsToken := r.NeedsToken || r.NeedsOrg || r.NeedsProject || r.NeedsWorkspace
	if needsToken && !c.State.Authenticated() {
		if c.Err != nil {
			return c.Err
		}
		switch c.State {
		case StateTokenExpired:
			return autherr.New(autherr.TokenExpired, "session token has expired", nil)
		default:
			return autherr.New(autherr.TokenAbsent, "not signed in", nil)
		}
	}
	if (r.NeedsOrg || r.NeedsProject || r.NeedsWorkspace) && c.Organization == nil {
		return autherr.New(autherr.NoOrganization, "no organization selected", nil)
	}
	if (r.NeedsProject || r.NeedsWorkspace) && c.Project == nil {
		return autherr.New(autherr.NoProject, "no project selected", nil)
	}
	if r.NeedsWorkspace && c.Workspace == nil {
		return autherr.New(autherr.NoWorkspace, "no workspace selected", nil)
	}
	return nil
}

// Selection is the persisted, non-secret part of a session.
type Selection struct {
	Subject       string `json:"subject,omitempty" yaml:"subject,omitempty"`
	OrgID         string `json:"orgId,omitempty" yaml:"orgId,omitempty"`
	OrgName       string `json:"orgName,omitempty" yaml:"orgName,omitempty"`
	ProjectID     string `json:"projectId,omitempty" yaml:"projectId,omitempty"`
	ProjectName   string `json:"projectName,omitempty" yaml:"projectName,omitempty"`
	WorkspaceID   string `json:"workspaceId,omitempty" yaml:"workspaceId,omitempty"`
	WorkspaceName string `json:"workspaceName,omitempty" yaml:"workspaceName,omitempty"`
}

func (s Selection) IsZero() bool { return s == Selection{} }

// SelectionStore persists the selection between processes.
type SelectionStore interface {
	LoadSelection() (Selection, error)
	SaveSelection(Selection) error
}

func selectionOf(c AuthContext) Selection {
	var s Selection
	if c.Token != nil {
		s.Subject = c.Token.Subject
	}
	if c.Organization != nil {
		s.OrgID, s.OrgName = c.Organization.ID, c.Organization.Name
	}
	if c.Project != nil {
		s.ProjectID, s.ProjectName = c.Project.ID, c.Project.Name
	}
	if c.Workspace != nil {
		s.WorkspaceID, s.WorkspaceName = c.Workspace.ID, c.Workspace.Name
	}
	return s
}

// apply copies the selection into c, keeping the parent chain intact.
func (s Selection) apply(c *AuthContext) {
	c.Organization, c.Project, c.Workspace = nil, nil, nil
	if s.OrgID == "" {
		return
	}
	c.Organization = &entity.Organization{ID: s.OrgID, Name: s.OrgName}
	if s.ProjectID == "" {
		return
	}
	c.Project = &entity.Project{ID: s.ProjectID, Name: s.ProjectName, OrgID: s.OrgID}
	if s.WorkspaceID == "" {
		return
	}
	c.Workspace = &entity.Workspace{ID: s.WorkspaceID, Name: s.WorkspaceName, OrgID: s.OrgID, ProjectID: s.ProjectID}
}
