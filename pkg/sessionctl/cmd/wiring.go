package cmd

import (
	"context"
	"os"

	"golang.org/x/exp/slices"

	"github.com/telekom/sessionctl/pkg/sessionctl/cache"
	"github.com/telekom/sessionctl/pkg/sessionctl/config"
	"github.com/telekom/sessionctl/pkg/sessionctl/entity"
	"github.com/telekom/sessionctl/pkg/sessionctl/gateway"
	"github.com/telekom/sessionctl/pkg/sessionctl/recovery"
	"github.com/telekom/sessionctl/pkg/sessionctl/session"
	"github.com/telekom/sessionctl/pkg/sessionctl/token"
	"github.com/telekom/sessionctl/pkg/system"
	"github.com/telekom/sessionctl/pkg/version"
)

// Session returns the orchestrator for the resolved context, building it on
// first use. Building it runs nothing external.
func (rt *runtimeState) Session() (*session.Orchestrator, error) {
	if rt.sess != nil {
		return rt.sess, nil
	}
	if err := rt.EnsureConfigLoaded(); err != nil {
		return nil, err
	}
	ctxCfg, err := rt.ResolveContext()
	if err != nil {
		return nil, err
	}
	runner, err := rt.buildRunner(ctxCfg)
	if err != nil {
		return nil, err
	}
	resolverCache := cache.New(cache.WithJitter(ctxCfg.CacheJitter()))
	reader := token.NewReader(runner, ctxCfg.TokenConfig(), token.WithLogger(rt.log))

	resolverOpts := []entity.Option{entity.WithLogger(rt.log)}
	if ctxCfg.Accelerator != nil && ctxCfg.Accelerator.URL != "" {
		api, err := buildAccelerator(ctxCfg)
		if err != nil {
			return nil, err
		}
		resolverOpts = append(resolverOpts, entity.WithAccelerator(api))
	}
	resolver := entity.NewResolver(
		entity.NewCLILister(runner, ctxCfg.Tool.Commands, ctxCfg.Timeouts.EntityList),
		resolverCache, resolverOpts...)

	nonInteractive := rt.NonInteractive()
	engine := recovery.New(runner, reader, ctxCfg.RecoveryConfig(nonInteractive), recovery.WithLogger(rt.log))

	rt.sess = session.New(runner, reader, resolver, ctxCfg.SessionConfig(nonInteractive),
		session.WithRecoverer(engine),
		session.WithSelectionStore(config.NewSelectionStore(rt.configPathValue(), ctxCfg.Name)),
		session.WithCache(resolverCache),
		session.WithLogger(rt.log),
	)
	return rt.sess, nil
}

func (rt *runtimeState) buildRunner(ctxCfg *config.Context) (gateway.Runner, error) {
	if rt.runner != nil {
		return rt.runner, nil
	}
	binary := ctxCfg.BinaryOrDefault()
	if rt.toolOverride != "" {
		binary = rt.toolOverride
	}
	opts := []gateway.Option{
		gateway.WithLogger(rt.log),
		// sign-in output goes to stderr so stdout stays machine-readable
		gateway.WithTerminal(os.Stdin, os.Stderr),
	}
	if len(ctxCfg.Tool.NoisePatterns) > 0 {
		patterns := append(slices.Clone(gateway.DefaultNoisePatterns), ctxCfg.Tool.NoisePatterns...)
		opts = append(opts, gateway.WithNoisePatterns(patterns))
	}
	return gateway.New(binary, opts...)
}

func buildAccelerator(ctxCfg *config.Context) (*entity.APILister, error) {
	opts := []entity.APIOption{
		entity.WithAPIKey(ctxCfg.AcceleratorAPIKey()),
		entity.WithUserAgent(version.UserAgent()),
	}
	if ctxCfg.Timeouts.EntityList > 0 {
		opts = append(opts, entity.WithRequestTimeout(ctxCfg.Timeouts.EntityList))
	}
	if ctxCfg.Timeouts.AcceleratorInit > 0 {
		opts = append(opts, entity.WithInitTimeout(ctxCfg.Timeouts.AcceleratorInit))
	}
	return entity.NewAPILister(ctxCfg.Accelerator.URL, opts...)
}

// establish signs the orchestrator in from the existing token without ever
// opening an interactive sign-in, and scopes the logger to the session.
func (rt *runtimeState) establish(ctx context.Context) (context.Context, *session.Orchestrator, session.AuthContext, error) {
	sess, err := rt.Session()
	if err != nil {
		return ctx, nil, session.AuthContext{}, err
	}
	ac, err := sess.Login(ctx, session.LoginOptions{NonInteractive: true})
	if err != nil {
		return ctx, sess, ac, err
	}
	return rt.withSessionLogger(ctx, ac), sess, ac, nil
}

func (rt *runtimeState) withSessionLogger(ctx context.Context, ac session.AuthContext) context.Context {
	var subject, orgID, projectID, workspaceID string
	if ac.Token != nil {
		subject = ac.Token.Subject
	}
	if ac.Organization != nil {
		orgID = ac.Organization.ID
	}
	if ac.Project != nil {
		projectID = ac.Project.ID
	}
	if ac.Workspace != nil {
		workspaceID = ac.Workspace.ID
	}
	log := system.EnrichLoggerWithSession(system.LoggerFromContext(ctx, rt.log), subject, orgID, projectID, workspaceID)
	return system.ContextWithLogger(ctx, log)
}
