// Command lattice-worker runs the WorkerLoop: it authenticates against a
// lattice-server, pulls commands, executes them against a local command
// registry, and reports status back. Grounded on the teacher's
// cmd/warren/main.go "worker start" subcommand shape (flags, signal-
// driven graceful shutdown), with the teacher's gRPC join-token dial
// replaced by the Carrier construction in pkg/worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lattice-fl/lattice/pkg/command/builtin"
	"github.com/lattice-fl/lattice/pkg/config"
	"github.com/lattice-fl/lattice/pkg/health"
	"github.com/lattice-fl/lattice/pkg/log"
	"github.com/lattice-fl/lattice/pkg/registry"
	"github.com/lattice-fl/lattice/pkg/worker"

	"github.com/lattice-fl/lattice/pkg/command"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lattice-worker",
	Short: "Worker process for a federated-learning coordination run",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("healthz-addr", "", "If set, serve /healthz on this address using the pull loop's liveness")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the server and execute dispatched commands until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWorkerConfig()
		if err != nil {
			return err
		}
		healthzAddr, _ := cmd.Flags().GetString("healthz-addr")
		return runWorker(cfg, healthzAddr)
	},
}

func runWorker(cfg config.WorkerConfig, healthzAddr string) error {
	commands := command.NewRegistry()
	builtin.Register(commands)

	carrier, err := buildCarrier(cfg)
	if err != nil {
		return err
	}

	loop := worker.NewLoop(worker.Config{
		Name:         cfg.Name,
		PingInterval: cfg.PingInterval,
		Allow:        cfg.Allow,
		Deny:         cfg.Deny,
	}, carrier, commands, registry.New(nil))

	loop.Start()
	defer loop.Stop()

	log.Logger.Info().Str("name", cfg.Name).Str("server", cfg.ServerURL).Msg("lattice-worker running")

	var healthSrv *http.Server
	if healthzAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/", health.NewServer(health.ReadinessCheck{
			Name: "pull-loop",
			Probe: func() (bool, string) {
				if loop.Liveness().Healthy(3 * cfg.PingInterval) {
					return true, "ok"
				}
				return false, "no successful pull within the liveness window"
			},
		}).Handler())
		healthSrv = &http.Server{Addr: healthzAddr, Handler: mux}
		go func() {
			if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Logger.Error().Err(err).Msg("healthz server error")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Logger.Info().Msg("shutting down")

	if healthSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthSrv.Shutdown(ctx)
	}
	return nil
}

func buildCarrier(cfg config.WorkerConfig) (worker.Carrier, error) {
	if !cfg.UseWSBroker {
		return worker.NewHTTPCarrier(cfg.ServerURL, cfg.Username, cfg.Password, nil), nil
	}

	httpBase := cfg.ServerURL
	bootstrap := worker.NewHTTPCarrier(httpBase, cfg.Username, cfg.Password, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	token, err := bootstrap.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("lattice-worker: authenticate for websocket dial: %w", err)
	}
	return worker.DialWSCarrier(cfg.ServerURL, token)
}
