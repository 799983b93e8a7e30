// Package cmd defines and implements the CLI commands for the evidence-crawler executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-crawler/internal/api"
	"github.com/JakeFAU/evidence-crawler/internal/app"
	"github.com/JakeFAU/evidence-crawler/internal/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what commands need from the application container. Tests inject a
// fake through newApp.
type App interface {
	Close() error
	Logger() *zap.Logger
	Config() config.Config
	Service() api.Service
}

type appAdapter struct {
	*app.App
}

func (a appAdapter) Service() api.Service {
	return a.App.Service()
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return appAdapter{App: a}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "evidence-crawler",
		Short: "Find pages about a topic and pull keyword evidence out of them.",
		Long: `evidence-crawler searches the sites configured for a category with the
given keywords, falls back to a site's own search page when needed, walks
sites from a start URL and extracts the paragraphs that mention a keyword.
Every command prints its report as JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "shutdown: %v\n", err)
				}
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); CRAWLER_* env vars override it")

	cmd.AddCommand(
		newCrawlCmd(),
		newSearchCmd(),
		newWalkCmd(),
		newExtractCmd(),
		newCategoriesCmd(),
		newServeCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
