package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/telekom/sessionctl/pkg/sessionctl/output"
	"github.com/telekom/sessionctl/pkg/sessionctl/session"
)

type sessionFunc func(ctx context.Context, rt *runtimeState, sess *session.Orchestrator, args []string) error

// withSession establishes the session before running fn.
func withSession(fn sessionFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := getRuntime(cmd)
		if err != nil {
			return err
		}
		ctx, sess, _, err := rt.establish(cmd.Context())
		if err != nil {
			return err
		}
		return fn(ctx, rt, sess, args)
	}
}

func NewOrgCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "org",
		Aliases: []string{"orgs", "organization"},
		Short:   "List and select organizations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the organizations of the signed-in account",
			RunE: withSession(func(ctx context.Context, rt *runtimeState, sess *session.Orchestrator, _ []string) error {
				orgs, err := sess.Organizations(ctx)
				if err != nil {
					return err
				}
				return writeList(rt, orgs, output.WriteOrganizationTable, output.WriteOrganizationTableWide)
			}),
		},
		&cobra.Command{
			Use:   "select ID",
			Short: "Select an organization, clearing project and workspace",
			Args:  cobra.ExactArgs(1),
			RunE: withSession(func(ctx context.Context, rt *runtimeState, sess *session.Orchestrator, args []string) error {
				ac, err := sess.SelectOrganization(ctx, args[0])
				if err != nil {
					return err
				}
				return rt.writeSelected("organization", ac.Organization.Name, ac.Organization.ID, ac)
			}),
		},
	)
	return cmd
}

func NewProjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects"},
		Short:   "List and select projects of the selected organization",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List projects of the selected organization",
			RunE: withSession(func(ctx context.Context, rt *runtimeState, sess *session.Orchestrator, _ []string) error {
				projects, err := sess.Projects(ctx)
				if err != nil {
					return err
				}
				return writeList(rt, projects, output.WriteProjectTable, output.WriteProjectTableWide)
			}),
		},
		&cobra.Command{
			Use:   "select ID",
			Short: "Select a project, clearing the workspace",
			Args:  cobra.ExactArgs(1),
			RunE: withSession(func(ctx context.Context, rt *runtimeState, sess *session.Orchestrator, args []string) error {
				ac, err := sess.SelectProject(ctx, args[0])
				if err != nil {
					return err
				}
				return rt.writeSelected("project", ac.Project.Name, ac.Project.ID, ac)
			}),
		},
	)
	return cmd
}

func NewWorkspaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"workspaces", "ws"},
		Short:   "List and select workspaces of the selected project",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List workspaces of the selected project",
			RunE: withSession(func(ctx context.Context, rt *runtimeState, sess *session.Orchestrator, _ []string) error {
				workspaces, err := sess.Workspaces(ctx)
				if err != nil {
					return err
				}
				return writeList(rt, workspaces, output.WriteWorkspaceTable, output.WriteWorkspaceTableWide)
			}),
		},
		&cobra.Command{
			Use:   "select ID",
			Short: "Select a workspace",
			Args:  cobra.ExactArgs(1),
			RunE: withSession(func(ctx context.Context, rt *runtimeState, sess *session.Orchestrator, args []string) error {
				ac, err := sess.SelectWorkspace(ctx, args[0])
				if err != nil {
					return err
				}
				return rt.writeSelected("workspace", ac.Workspace.Name, ac.Workspace.ID, ac)
			}),
		},
	)
	return cmd
}
