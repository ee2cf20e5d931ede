package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/interpreter"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/ports"
	"github.com/cuemby/burrow/pkg/session"
	"github.com/cuemby/burrow/pkg/shim"
	"github.com/cuemby/burrow/pkg/version"
)

func main() {
	// Control children re-exec this binary; dispatch before cobra sees
	// the command line.
	if os.Getenv(shim.EnvFlag) == "1" {
		shim.New().Run()
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrowd",
	Short: "Burrow - in-container sandbox control plane",
	Long: `Burrow is the control-plane daemon that runs inside a code sandbox
container. It executes shell commands in isolated sessions, supervises
background processes, exposes and proxies TCP ports, and runs code in
pooled interpreter contexts, all over a JSON/SSE HTTP API.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		version.Version, version.Commit, version.BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sandbox control-plane daemon",
	Long: `Start the Burrow daemon: bring up the session registry, warm the
interpreter pools, and serve the HTTP API until interrupted or asked to
shut down via POST /api/shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		listenAddr, _ := cmd.Flags().GetString("listen")

		cfg := config.FromEnv()
		if err := cfg.LoadFile(configFile); err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		logger := log.WithComponent("daemon")
		logger.Info().
			Str("version", version.Version).
			Str("addr", cfg.ListenAddr).
			Msg("starting burrowd")

		metrics.SetVersion(version.Version)
		metrics.RegisterComponent("sessions", true, "")
		metrics.RegisterComponent("ports", true, "")
		metrics.RegisterComponent("interpreter", false, "warming up")

		sessions := session.NewRegistry(cfg)
		portRegistry := ports.NewRegistry()

		interp := interpreter.NewService(cfg.Interpreter, cfg.WorkspaceDir,
			interpreter.NewStdioManager(cfg.Interpreter, cfg.WorkspaceDir))
		go func() {
			interp.Warm(context.Background())
			metrics.UpdateComponent("interpreter", true, "")
		}()

		collector := metrics.NewCollector(sessions, portRegistry, interp)
		collector.Start()

		// Reclaim idle inactive ports on the janitor cadence.
		portJanitorStop := make(chan struct{})
		go func() {
			ticker := time.NewTicker(cfg.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					portRegistry.CleanupInactive(cfg.TempFileMaxAge)
				case <-portJanitorStop:
					return
				}
			}
		}()

		server := api.NewServer(cfg, sessions, portRegistry, interp)
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil {
				errCh <- fmt.Errorf("API server error: %w", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-server.ShutdownRequested():
			logger.Info().Msg("shutdown requested via API")
		case err := <-errCh:
			logger.Error().Err(err).Msg("server failed")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("server shutdown")
		}

		close(portJanitorStop)
		collector.Stop()
		interp.Shutdown()
		sessions.DestroyAll()

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "/etc/burrow/config.yaml", "Path to YAML config file")
	serveCmd.Flags().String("listen", "", "Listen address override (default from BURROW_LISTEN_ADDR)")
}
