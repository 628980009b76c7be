package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/sessionctl/pkg/sessionctl/output"
	"github.com/telekom/sessionctl/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show sessionctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			if rt != nil {
				writer = rt.Writer()
			}
			switch outputFormat {
			case "":
				_, _ = fmt.Fprintln(writer, info.String())
				return nil
			default:
				format, err := output.ParseFormat(outputFormat)
				if err != nil {
					return err
				}
				return output.WriteObject(writer, format, info)
			}
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: json, yaml")
	return cmd
}
