// Package cli wires the cobra command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptforge/promptforge/internal/app"
	"github.com/promptforge/promptforge/internal/infrastructure/httpserver"
	"github.com/promptforge/promptforge/internal/version"
)

// Options holds CLI-level configuration.
type Options struct {
	Verbose bool
}

// NewRootCmd wires the cobra root command.
func NewRootCmd(opts Options) *cobra.Command {
	root := &cobra.Command{
		Use:   "promptforge",
		Short: "PromptForge - prompt refinement gateway",
		Long:  "PromptForge refines raw prompts through upstream LLM providers with quotas, caching and fallback.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newVersionCommand())
	return root
}

func newServeCommand(opts Options) *cobra.Command {
	var (
		addr       string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, err := app.BuildContainer(ctx, configPath, opts.Verbose)
			if err != nil {
				return err
			}
			if container.Sessions != nil {
				defer container.Sessions.Close()
			}

			cfg := container.Config
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if cfg.Credentials.GeminiAPIKey == "" && cfg.Credentials.GroqAPIKey == "" {
				container.Logger.Warn("no server API keys configured; only caller-supplied keys will work", nil)
			}

			server := &httpserver.Server{
				Gateway:          container.Gateway,
				Usage:            container.Usage,
				Logger:           container.Logger,
				AllowedOrigins:   cfg.Server.AllowedOrigins,
				RateLimitPerHour: cfg.Limits.RateLimitPerHour,
				Environment:      cfg.Server.Environment,
				Version:          version.Version,
			}

			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				container.Logger.Info("listening", map[string]interface{}{"addr": addr})
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&configPath, "config", "", "Config file path (default ~/.promptforge/config.yaml)")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("promptforge", version.Version)
		},
	}
}
