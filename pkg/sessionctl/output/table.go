package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
	"github.com/telekom/sessionctl/pkg/sessionctl/entity"
	"github.com/telekom/sessionctl/pkg/sessionctl/session"
)

// StatusView is the printable form of a session snapshot. The token value
// itself is never part of it.
type StatusView struct {
	State            session.State `json:"state" yaml:"state"`
	Subject          string        `json:"subject,omitempty" yaml:"subject,omitempty"`
	Token            string        `json:"token,omitempty" yaml:"token,omitempty"`
	ExpiresAt        *time.Time    `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	ExpiresInMinutes int           `json:"expiresInMinutes" yaml:"expiresInMinutes"`
	Organization     string        `json:"organization,omitempty" yaml:"organization,omitempty"`
	OrganizationID   string        `json:"organizationId,omitempty" yaml:"organizationId,omitempty"`
	Project          string        `json:"project,omitempty" yaml:"project,omitempty"`
	ProjectID        string        `json:"projectId,omitempty" yaml:"projectId,omitempty"`
	Workspace        string        `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	WorkspaceID      string        `json:"workspaceId,omitempty" yaml:"workspaceId,omitempty"`
	Error            *ErrorView    `json:"error,omitempty" yaml:"error,omitempty"`
}

type ErrorView struct {
	Kind    autherr.Kind `json:"kind" yaml:"kind"`
	Message string       `json:"message" yaml:"message"`
}

func NewStatusView(ac session.AuthContext) StatusView {
	v := StatusView{State: ac.State, ExpiresInMinutes: ac.ExpiresInMinutes}
	if ac.Token != nil {
		v.Subject = ac.Token.Subject
		v.Token = ac.Token.Masked()
		if !ac.Token.ExpiresAt.IsZero() {
			t := ac.Token.ExpiresAt.UTC()
			v.ExpiresAt = &t
		}
	}
	if ac.Organization != nil {
		v.Organization, v.OrganizationID = ac.Organization.Name, ac.Organization.ID
	}
	if ac.Project != nil {
		v.Project, v.ProjectID = ac.Project.Name, ac.Project.ID
	}
	if ac.Workspace != nil {
		v.Workspace, v.WorkspaceID = ac.Workspace.Name, ac.Workspace.ID
	}
	if ac.Err != nil {
		v.Error = &ErrorView{Kind: ac.Err.Kind, Message: ac.Err.UserMessage}
	}
	return v
}

// WriteStatus prints a session snapshot as key/value lines.
func WriteStatus(w io.Writer, v StatusView) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	row := func(k, val string) { _, _ = fmt.Fprintf(tw, "%s:\t%s\n", k, val) }
	row("State", string(v.State))
	if v.Subject != "" {
		row("User", v.Subject)
	}
	if v.Token != "" {
		row("Token", v.Token)
	}
	if v.ExpiresAt != nil {
		row("Expires", fmt.Sprintf("%s (in %d min)", formatTime(*v.ExpiresAt), v.ExpiresInMinutes))
	}
	row("Organization", labelled(v.Organization, v.OrganizationID))
	row("Project", labelled(v.Project, v.ProjectID))
	row("Workspace", labelled(v.Workspace, v.WorkspaceID))
	if v.Error != nil {
		row("Error", v.Error.Message)
	}
	_ = tw.Flush()
}

// WriteSelection prints a saved selection without contacting anything.
func WriteSelection(w io.Writer, sel session.Selection) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	row := func(k, val string) { _, _ = fmt.Fprintf(tw, "%s:\t%s\n", k, val) }
	if sel.Subject != "" {
		row("User", sel.Subject)
	}
	row("Organization", labelled(sel.OrgName, sel.OrgID))
	row("Project", labelled(sel.ProjectName, sel.ProjectID))
	row("Workspace", labelled(sel.WorkspaceName, sel.WorkspaceID))
	_ = tw.Flush()
}

func WriteOrganizationTable(w io.Writer, orgs []entity.Organization) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME")
	for _, o := range orgs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", o.ID, o.Name)
	}
	_ = tw.Flush()
}

func WriteOrganizationTableWide(w io.Writer, orgs []entity.Organization) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tCODE")
	for _, o := range orgs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", o.ID, o.Name, dash(o.Code))
	}
	_ = tw.Flush()
}

func WriteProjectTable(w io.Writer, projects []entity.Project) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tTITLE")
	for _, p := range projects {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Name, dash(p.Title))
	}
	_ = tw.Flush()
}

func WriteProjectTableWide(w io.Writer, projects []entity.Project) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tTITLE\tORG")
	for _, p := range projects {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, dash(p.Title), p.OrgID)
	}
	_ = tw.Flush()
}

func WriteWorkspaceTable(w io.Writer, workspaces []entity.Workspace) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tTITLE")
	for _, ws := range workspaces {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", ws.ID, ws.Name, dash(ws.Title))
	}
	_ = tw.Flush()
}

func WriteWorkspaceTableWide(w io.Writer, workspaces []entity.Workspace) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tTITLE\tORG\tPROJECT")
	for _, ws := range workspaces {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ws.ID, ws.Name, dash(ws.Title), ws.OrgID, ws.ProjectID)
	}
	_ = tw.Flush()
}

func labelled(name, id string) string {
	switch {
	case id == "":
		return "-"
	case name == "" || name == id:
		return id
	default:
		return fmt.Sprintf("%s (%s)", name, id)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
