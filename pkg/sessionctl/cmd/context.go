package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/sessionctl/pkg/sessionctl/config"
	"github.com/telekom/sessionctl/pkg/sessionctl/output"
)

func NewContextCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Show or clear the saved organization, project and workspace",
	}
	cmd.AddCommand(newContextShowCommand(), newContextClearCommand())
	return cmd
}

func newContextShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the saved selection without contacting the identity CLI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			ctxCfg, err := rt.ResolveContext()
			if err != nil {
				return err
			}
			sel, err := config.NewSelectionStore(rt.configPathValue(), ctxCfg.Name).LoadSelection()
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			switch format {
			case output.FormatTable, output.FormatWide:
				output.WriteSelection(rt.Writer(), sel)
				return nil
			default:
				return output.WriteObject(rt.Writer(), format, sel)
			}
		},
	}
}

func newContextClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the selection while staying signed in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			sess, err := rt.Session()
			if err != nil {
				return err
			}
			if err := sess.ClearContext(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Selection cleared")
			return nil
		},
	}
}
