// Package cli provides the imposterd CLI commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/imposterd/imposterd/internal/storage"
	"github.com/imposterd/imposterd/pkg/config"
	"github.com/imposterd/imposterd/pkg/httpd"
	"github.com/imposterd/imposterd/pkg/imposter"
	"github.com/imposterd/imposterd/pkg/logging"
	"github.com/imposterd/imposterd/pkg/protocol"
	"github.com/imposterd/imposterd/pkg/tcp"
)

const stopTimeout = 10 * time.Second

// serveFlags holds all flags for the serve command.
type serveFlags struct {
	configPath     string
	logLevel       string
	logFormat      string
	recordRequests bool
	debug          bool
}

var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start imposters from a config file and serve until interrupted",
	Long: `Load imposter definitions from a YAML or JSON config file, bind
each one, and serve until SIGINT/SIGTERM.

The config file holds either a bare list of imposters or an object with
an "imposters" list.`,
	Example: `  # Start from a config file
  imposterd serve --config imposters.yaml

  # Record every request on every imposter
  imposterd serve --config imposters.yaml --record-requests

  # Debug mode: record which stub matched each request
  imposterd serve --config imposters.yaml --debug`,
	RunE: runServe,
}

func init() {
	f := &serveFlagVals

	serveCmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to imposter config file (YAML or JSON) [required]")
	serveCmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&f.logFormat, "log-format", "text", "Log format (text, json)")
	serveCmd.Flags().BoolVar(&f.recordRequests, "record-requests", false, "Force request recording on every imposter")
	serveCmd.Flags().BoolVar(&f.debug, "debug", false, "Record stub match history")
	_ = serveCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(serveCmd)
}

// defaultRegistry returns the factory registry with the built-in
// protocols.
func defaultRegistry() (*protocol.Registry, error) {
	registry := protocol.NewRegistry()
	if err := registry.Register(tcp.NewFactory()); err != nil {
		return nil, err
	}
	if err := registry.Register(httpd.NewFactory()); err != nil {
		return nil, err
	}
	return registry, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	f := &serveFlagVals

	level, err := logging.ParseLevel(f.logLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(f.logFormat)
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Level: level, Format: format})

	requests, err := config.LoadFile(f.configPath)
	if err != nil {
		return err
	}
	registry, err := defaultRegistry()
	if err != nil {
		return err
	}

	opts := config.Options{
		RecordRequests: f.recordRequests,
		RecordMatches:  f.debug,
	}

	repo := storage.NewRepository()
	ctx := cmd.Context()
	for _, req := range requests {
		factory, err := registry.Get(req.Protocol)
		if err != nil {
			return err
		}
		imp, err := imposter.Create(ctx, factory, req, log, opts)
		if err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			_ = repo.StopAll(stopCtx)
			cancel()
			return fmt.Errorf("failed to create %s imposter: %w", req.Protocol, err)
		}
		if err := repo.Add(imp); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			_ = imp.Stop(stopCtx)
			_ = repo.StopAll(stopCtx)
			cancel()
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s imposter listening on port %d\n", imp.Protocol(), imp.Port())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return repo.StopAll(stopCtx)
}
