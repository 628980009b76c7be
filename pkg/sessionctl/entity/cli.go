package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
	"github.com/telekom/sessionctl/pkg/sessionctl/gateway"
)

const DefaultListTimeout = 30 * time.Second

// Commands holds the identity CLI argument templates for each listing.
// The placeholders {orgId} and {projectId} are substituted before the call.
type Commands struct {
	Organizations []string `yaml:"organizations,omitempty"`
	Projects      []string `yaml:"projects,omitempty"`
	Workspaces    []string `yaml:"workspaces,omitempty"`
}

func DefaultCommands() Commands {
	return Commands{
		Organizations: []string{"console", "org", "list", "--json"},
		Projects:      []string{"console", "project", "list", "--orgId", "{orgId}", "--json"},
		Workspaces:    []string{"console", "workspace", "list", "--orgId", "{orgId}", "--projectId", "{projectId}", "--json"},
	}
}

// CLILister lists entities through the identity CLI.
type CLILister struct {
	runner   gateway.Runner
	commands Commands
	timeout  time.Duration
}

var _ Lister = (*CLILister)(nil)

// NewCLILister returns a lister using runner. Empty templates and a
// non-positive timeout fall back to the defaults.
func NewCLILister(runner gateway.Runner, commands Commands, timeout time.Duration) *CLILister {
	def := DefaultCommands()
	if len(commands.Organizations) == 0 {
		commands.Organizations = def.Organizations
	}
	if len(commands.Projects) == 0 {
		commands.Projects = def.Projects
	}
	if len(commands.Workspaces) == 0 {
		commands.Workspaces = def.Workspaces
	}
	if timeout <= 0 {
		timeout = DefaultListTimeout
	}
	return &CLILister{runner: runner, commands: commands, timeout: timeout}
}

// The identity CLI reads the token from its own store, so the token argument
// is unused here.
func (l *CLILister) Organizations(ctx context.Context, _ string) ([]Organization, error) {
	var orgs []Organization
	if err := l.list(ctx, "org-list", l.commands.Organizations, nil, &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

func (l *CLILister) Projects(ctx context.Context, _ string, orgID string) ([]Project, error) {
	var projects []Project
	vars := map[string]string{"{orgId}": orgID}
	if err := l.list(ctx, "project-list", l.commands.Projects, vars, &projects); err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].OrgID == "" {
			projects[i].OrgID = orgID
		}
	}
	return projects, nil
}

func (l *CLILister) Workspaces(ctx context.Context, _ string, orgID, projectID string) ([]Workspace, error) {
	var workspaces []Workspace
	vars := map[string]string{"{orgId}": orgID, "{projectId}": projectID}
	if err := l.list(ctx, "workspace-list", l.commands.Workspaces, vars, &workspaces); err != nil {
		return nil, err
	}
	for i := range workspaces {
		workspaces[i].OrgID = orgID
		workspaces[i].ProjectID = projectID
	}
	return workspaces, nil
}

func (l *CLILister) list(ctx context.Context, name string, tmpl []string, vars map[string]string, out any) error {
	res, err := l.runner.Run(ctx, gateway.Request{
		Name:    name,
		Args:    expand(tmpl, vars),
		Timeout: l.timeout,
		Retries: 1,
	})
	if err != nil {
		return err
	}
	body := strings.TrimSpace(res.Stdout)
	if body == "" || body == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return autherr.New(autherr.ExternalToolError, fmt.Sprintf("%s returned unreadable output", name), err)
	}
	return nil
}

func expand(tmpl []string, vars map[string]string) []string {
	args := make([]string, len(tmpl))
	for i, a := range tmpl {
		for k, v := range vars {
			a = strings.ReplaceAll(a, k, v)
		}
		args[i] = a
	}
	return args
}
