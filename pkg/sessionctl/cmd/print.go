package cmd

import (
	"fmt"
	"io"

	"github.com/telekom/sessionctl/pkg/sessionctl/output"
	"github.com/telekom/sessionctl/pkg/sessionctl/session"
)

func (rt *runtimeState) writeStatus(ac session.AuthContext) error {
	format, err := rt.OutputFormat()
	if err != nil {
		return err
	}
	view := output.NewStatusView(ac)
	switch format {
	case output.FormatTable, output.FormatWide:
		output.WriteStatus(rt.Writer(), view)
		return nil
	default:
		return output.WriteObject(rt.Writer(), format, view)
	}
}

func writeList[T any](rt *runtimeState, items []T, table, wide func(io.Writer, []T)) error {
	format, err := rt.OutputFormat()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatTable:
		table(rt.Writer(), items)
		return nil
	case output.FormatWide:
		wide(rt.Writer(), items)
		return nil
	default:
		if items == nil {
			items = []T{}
		}
		return output.WriteObject(rt.Writer(), format, items)
	}
}

// writeSelected confirms a selection change. Structured formats print the
// whole status so scripts can pick the fields they need.
func (rt *runtimeState) writeSelected(kind, name, id string, ac session.AuthContext) error {
	format, err := rt.OutputFormat()
	if err != nil {
		return err
	}
	if format == output.FormatJSON || format == output.FormatYAML {
		return output.WriteObject(rt.Writer(), format, output.NewStatusView(ac))
	}
	_, _ = fmt.Fprintf(rt.Writer(), "Selected %s %s (%s)\n", kind, name, id)
	return nil
}
