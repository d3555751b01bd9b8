// Package cmd defines the CLI commands for the watchtower executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/competitor"
	"github.com/calvin1011/watchtower/internal/config"
	"github.com/calvin1011/watchtower/internal/digest"
	"github.com/calvin1011/watchtower/internal/intel"
	"github.com/calvin1011/watchtower/internal/pipeline"
	"github.com/calvin1011/watchtower/internal/server"
)

// skipApp marks commands that only need configuration.
const skipApp = "skip-app"

// ctxKey is the key type for values stored on the command context.
type ctxKey string

const (
	appKey ctxKey = "app"
	cfgKey ctxKey = "config"
)

// Runner runs the intel pipeline.
type Runner interface {
	RunAll(ctx context.Context, competitors []intel.Competitor) (pipeline.Summary, error)
}

// Digests builds and sends the weekly digest.
type Digests interface {
	Send(ctx context.Context, recipient string, sinceDays int) (intel.Digest, error)
	Preview(ctx context.Context, sinceDays int) (digest.Preview, error)
}

// App is what the commands need from the wired application. Tests swap in
// a fake through newApp.
type App interface {
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Runner() Runner
	Digests() Digests
	Registry() *competitor.Registry
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	a, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{a}, nil
}

type serverApp struct{ app *server.App }

func (s serverApp) Serve(ctx context.Context) error { return s.app.Run(ctx) }
func (s serverApp) Close(ctx context.Context) error { return s.app.Close(ctx) }
func (s serverApp) Logger() *zap.Logger             { return s.app.Logger() }
func (s serverApp) Runner() Runner                  { return s.app.Pipeline() }
func (s serverApp) Digests() Digests                { return s.app.Digest() }
func (s serverApp) Registry() *competitor.Registry  { return s.app.Registry() }

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "watchtower",
		Short: "Competitive intelligence collector and weekly digest.",
		Long: `watchtower collects competitor signals from blogs, reviews, job
postings and websites, classifies them with an LLM, stores them with
embeddings and emails a weekly digest grouped by threat level.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), cfgKey, &cfg)
			if cmd.Annotations[skipApp] != "true" {
				appInstance, err := newApp(ctx, &cfg)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml when present)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newDigestCmd())
	cmd.AddCommand(newCompetitorsCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() error {
	return newRootCmd().ExecuteContext(context.Background())
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// closeApp releases the app after a one-shot command.
func closeApp(ctx context.Context, a App) {
	if err := a.Close(ctx); err != nil {
		a.Logger().Warn("failed to close application", zap.Error(err))
	}
}
