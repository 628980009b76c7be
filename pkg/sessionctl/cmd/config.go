package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telekom/sessionctl/pkg/sessionctl/config"
	"github.com/telekom/sessionctl/pkg/sessionctl/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage sessionctl configuration",
	}
	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
		newConfigContextsCommand(),
		newConfigCurrentContextCommand(),
		newConfigUseContextCommand(),
		newConfigSetValueCommand(),
	)
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		contextName    string
		binary         string
		acceleratorURL string
		apiKeyEnv      string
		force          bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a sessionctl config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			if contextName == "" {
				contextName = config.DefaultContextName
			}
			cfg := config.DefaultConfig()
			cfg.CurrentContext = contextName
			ctx := config.Context{Name: contextName, Tool: config.Tool{Binary: binary}}
			if acceleratorURL != "" {
				ctx.Accelerator = &config.Accelerator{URL: acceleratorURL, APIKeyEnv: apiKeyEnv}
			}
			cfg.Contexts = []config.Context{ctx}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&contextName, "context-name", config.DefaultContextName, "Context name")
	cmd.Flags().StringVar(&binary, "binary", "", "Identity CLI executable (default \"aio\")")
	cmd.Flags().StringVar(&acceleratorURL, "accelerator-url", "", "Base URL of the entity listing service")
	cmd.Flags().StringVar(&apiKeyEnv, "api-key-env", "", "Environment variable holding the accelerator API key")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")
	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			if format != output.FormatJSON {
				format = output.FormatYAML
			}
			return output.WriteObject(rt.Writer(), format, rt.cfg)
		},
	}
}

func newConfigContextsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-contexts",
		Short: "List configured contexts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			current := rt.cfg.CurrentContextOrDefault()
			for _, ctx := range rt.cfg.Contexts {
				marker := " "
				if ctx.Name == current {
					marker = "*"
				}
				accelerator := "-"
				if ctx.Accelerator != nil && ctx.Accelerator.URL != "" {
					accelerator = ctx.Accelerator.URL
				}
				_, _ = fmt.Fprintf(rt.Writer(), "%s %s\t%s\t%s\n", marker, ctx.Name, ctx.BinaryOrDefault(), accelerator)
			}
			return nil
		},
	}
}

func newConfigCurrentContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current-context",
		Short: "Show the current context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), rt.cfg.CurrentContextOrDefault())
			return nil
		},
	}
}

func newConfigUseContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "use-context NAME",
		Aliases: []string{"use"},
		Short:   "Set the default context",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			name := args[0]
			if _, err := rt.cfg.FindContext(name); err != nil {
				return err
			}
			rt.cfg.CurrentContext = name
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "%s\n", name)
			return nil
		},
	}
}

func newConfigSetValueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value on the current context",
		Long: "Set a configuration value. Keys starting with settings. are global; all others " +
			"(tool.*, accelerator.*, timeouts.*, session.*, cache.*) apply to the current context.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			ctx, err := rt.ResolveContext()
			if err != nil {
				return err
			}
			if err := rt.cfg.SetValue(ctx, args[0], args[1]); err != nil {
				return err
			}
			return config.Save(rt.configPathValue(), rt.cfg)
		},
	}
}
