package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/telekom/sessionctl/pkg/metrics"
	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
	"github.com/telekom/sessionctl/pkg/sessionctl/config"
	"github.com/telekom/sessionctl/pkg/sessionctl/gateway"
	"github.com/telekom/sessionctl/pkg/sessionctl/output"
	"github.com/telekom/sessionctl/pkg/sessionctl/session"
	"github.com/telekom/sessionctl/pkg/system"
	"github.com/telekom/sessionctl/pkg/telemetry"
	"github.com/telekom/sessionctl/pkg/version"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	ErrorWriter  io.Writer
	// Runner replaces the identity CLI subprocess.
	Runner gateway.Runner
	// Logger replaces the process logger built from --verbose.
	Logger *zap.SugaredLogger
}

type runtimeState struct {
	configPath      string
	cfg             *config.Config
	contextOverride string
	outputFormat    string
	toolOverride    string
	nonInteractive  bool
	verbose         bool
	writer          io.Writer
	errWriter       io.Writer
	runner          gateway.Runner
	log             *zap.SugaredLogger
	correlationID   string
	sess            *session.Orchestrator
	span            trace.Span
	shutdownTracing telemetry.ShutdownFunc
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		ErrorWriter:  os.Stderr,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		writer:     cfg.OutputWriter,
		errWriter:  cfg.ErrorWriter,
		runner:     cfg.Runner,
		log:        cfg.Logger,
	}

	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Manage the identity CLI session, organization, project and workspace",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.contextOverride == "" {
				rt.contextOverride = os.Getenv("SESSIONCTL_CONTEXT")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("SESSIONCTL_OUTPUT")
			}
			if rt.toolOverride == "" {
				rt.toolOverride = os.Getenv("SESSIONCTL_TOOL")
			}
			if !rt.nonInteractive {
				rt.nonInteractive = strings.EqualFold(os.Getenv("SESSIONCTL_NON_INTERACTIVE"), "true")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("SESSIONCTL_VERBOSE"), "true")
			}
			if err := rt.setupLogger(); err != nil {
				return err
			}
			cmd.SetContext(system.ContextWithLogger(cmd.Context(), rt.log))

			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.LoadOrDefault(rt.configPath)
			if err != nil {
				return err
			}
			// config subcommands must stay usable to repair a broken file
			if !isConfigCommand(cmd) {
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid config %s: %w", rt.configPath, err)
				}
			}
			rt.cfg = cfg
			return rt.startTracing(cmd)
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.contextOverride, "context", "c", "", "Context name override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, wide, json, yaml")
	root.PersistentFlags().BoolVar(&rt.nonInteractive, "non-interactive", false, "Fail instead of opening an interactive sign-in")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging with correlation IDs")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewAuthCommand(),
		NewOrgCommand(),
		NewProjectCommand(),
		NewWorkspaceCommand(),
		NewContextCommand(),
		NewConfigCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

// Execute runs the command tree with args and returns the process exit code.
// Errors are reported with their user-facing message.
func Execute(cfg Config, args []string) int {
	root := NewRootCommand(cfg)
	root.SetArgs(args)
	err := root.Execute()

	rt, _ := getRuntime(root)
	if rt != nil {
		rt.endTracing(err)
		rt.flushMetrics()
	}
	if err == nil {
		return 0
	}
	errW := cfg.ErrorWriter
	if errW == nil {
		errW = os.Stderr
	}
	_, _ = fmt.Fprintf(errW, "Error: %s\n", autherr.UserMessage(err))
	if rt != nil && rt.verbose {
		_, _ = fmt.Fprintf(errW, "  detail: %v (correlation id %s)\n", err, rt.correlationID)
	}
	return 1
}

func isConfigCommand(cmd *cobra.Command) bool {
	return cmd.Parent() != nil && cmd.Parent().Name() == "config"
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) setupLogger() error {
	if rt.correlationID != "" {
		return nil
	}
	if rt.log == nil {
		zl, err := system.NewLogger(rt.verbose)
		if err != nil {
			return fmt.Errorf("failed to set up logger: %w", err)
		}
		zap.ReplaceGlobals(zl)
		rt.log = zl.Sugar()
	}
	rt.correlationID = uuid.NewString()
	rt.log = rt.log.With("cid", rt.correlationID)
	return nil
}

// startTracing initializes the tracer provider from the settings and opens the
// span covering the command.
func (rt *runtimeState) startTracing(cmd *cobra.Command) error {
	if rt.cfg == nil || !rt.cfg.Settings.Tracing.Enabled {
		return nil
	}
	opts := rt.cfg.Settings.TelemetryOptions(version.GetBuildInfo().Version)
	opts.Writer = rt.errWriter
	opts.Logger = rt.log
	_, shutdown, err := telemetry.Init(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	rt.shutdownTracing = shutdown
	ctx, span := telemetry.Start(cmd.Context(), cmd.CommandPath(),
		attribute.String("sessionctl.correlation_id", rt.correlationID),
		attribute.String("sessionctl.context", rt.ResolveContextName()))
	rt.span = span
	cmd.SetContext(ctx)
	return nil
}

func (rt *runtimeState) endTracing(err error) {
	if rt.span != nil {
		telemetry.End(rt.span, err)
		rt.span = nil
	}
	if rt.shutdownTracing == nil {
		return
	}
	if shutdownErr := rt.shutdownTracing(context.Background()); shutdownErr != nil {
		system.LoggerOrDefault(rt.log).Warnw("Failed to flush traces", "error", shutdownErr)
	}
	rt.shutdownTracing = nil
}

func (rt *runtimeState) flushMetrics() {
	if rt.cfg == nil || rt.cfg.Settings.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(rt.cfg.Settings.MetricsFile); err != nil {
		system.LoggerOrDefault(rt.log).Warnw("Failed to write metrics textfile", "path", rt.cfg.Settings.MetricsFile, "error", err)
	}
}

func (rt *runtimeState) ResolveContextName() string {
	if rt.contextOverride != "" {
		return rt.contextOverride
	}
	if rt.cfg != nil {
		return rt.cfg.CurrentContextOrDefault()
	}
	return ""
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	if rt.outputFormat != "" {
		return output.ParseFormat(rt.outputFormat)
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return output.ParseFormat(rt.cfg.Settings.OutputFormat)
	}
	return output.FormatTable, nil
}

func (rt *runtimeState) NonInteractive() bool {
	return rt.nonInteractive || (rt.cfg != nil && rt.cfg.Settings.NonInteractive)
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.LoadOrDefault(rt.configPathValue())
	if err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) ResolveContext() (*config.Context, error) {
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	name := rt.ResolveContextName()
	if name == "" {
		return nil, errors.New("no context configured")
	}
	return rt.cfg.FindContext(name)
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}
