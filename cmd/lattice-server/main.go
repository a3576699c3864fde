// Command lattice-server runs the coordination core's server process:
// the OperationManager, the node topology, the local user store, the
// blob store, and the HTTP carrier (plus an optional websocket broker)
// that expose them to workers. Grounded on the teacher's
// cmd/warren/main.go cobra command-tree shape (root command, persistent
// log flags, a "serve"-style long-running subcommand that blocks on an
// interrupt signal).
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lattice-fl/lattice/pkg/auth"
	"github.com/lattice-fl/lattice/pkg/blobstore"
	"github.com/lattice-fl/lattice/pkg/config"
	"github.com/lattice-fl/lattice/pkg/health"
	"github.com/lattice-fl/lattice/pkg/log"
	"github.com/lattice-fl/lattice/pkg/operation"
	"github.com/lattice-fl/lattice/pkg/registry"
	"github.com/lattice-fl/lattice/pkg/security"
	"github.com/lattice-fl/lattice/pkg/storage"
	"github.com/lattice-fl/lattice/pkg/topology"
	"github.com/lattice-fl/lattice/pkg/transport/httpcarrier"
	"github.com/lattice-fl/lattice/pkg/transport/wsbroker"
	"github.com/lattice-fl/lattice/pkg/watcher"
	"github.com/lattice-fl/lattice/pkg/watcher/standard"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lattice-server",
	Short: "Coordination-core server for federated-learning runs",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(usersHashPasswordCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server process and block until shutdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServerConfig()
		if err != nil {
			return err
		}
		return runServer(cfg)
	},
}

var usersHashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Bcrypt-hash a password for inclusion in a user config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := security.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

func runServer(cfg config.ServerConfig) error {
	if cfg.SigningKey == "" {
		return fmt.Errorf("lattice-server: LATTICE_SIGNING_KEY must be set")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("lattice-server: create data dir: %w", err)
	}

	topologyFile, err := config.LoadTopologyFile(cfg.TopologyFile)
	if err != nil {
		return err
	}
	userFile, err := config.LoadUserFile(cfg.UserFile)
	if err != nil {
		return err
	}

	pool := wireWatchers()

	topo := topology.New(pool, cfg.LivenessTimeout, cfg.SweepInterval)
	if err := config.ApplyTopologyFile(topo, topologyFile); err != nil {
		return err
	}

	authStore, err := auth.NewStore([]byte(cfg.SigningKey), cfg.TokenTTL, cfg.Simulation)
	if err != nil {
		return err
	}
	if err := config.ApplyUserFile(authStore, userFile); err != nil {
		return err
	}

	blobs, err := blobstore.Open(filepath.Join(cfg.DataDir, "blobs.db"))
	if err != nil {
		return fmt.Errorf("lattice-server: open blob store: %w", err)
	}
	defer blobs.Close()
	stopLeakSweep := blobs.StartLeakSweep(cfg.BlobLeakTTL, cfg.BlobSweepInterval)
	defer stopLeakSweep()

	persist, err := storage.Open(filepath.Join(cfg.DataDir, "lattice.db"))
	if err != nil {
		return fmt.Errorf("lattice-server: open persistence store: %w", err)
	}
	defer persist.Close()
	if err := persist.RestoreTopology(topo); err != nil {
		return fmt.Errorf("lattice-server: restore topology: %w", err)
	}
	if err := persist.RestoreUsers(authStore); err != nil {
		return fmt.Errorf("lattice-server: restore users: %w", err)
	}

	resources := registry.New(nil)
	mgr := operation.NewManager(topo, resources, nil, nil, nil)
	if err := mgr.InitOpen(); err != nil {
		return fmt.Errorf("lattice-server: init open distribution: %w", err)
	}

	topo.StartLivenessObserver()
	defer topo.Stop()

	httpSrv := httpcarrier.NewServer(mgr, authStore, blobs)

	var tlsConfig *tls.Config
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("lattice-server: load TLS certificate: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	healthSrv := health.NewServer(
		health.ReadinessCheck{Name: "topology", Probe: func() (bool, string) {
			if err := topo.Validate(); err != nil {
				return false, err.Error()
			}
			return true, "ok"
		}},
	)

	mux := http.NewServeMux()
	mux.Handle("/", httpSrv.Handler())
	mux.Handle("/healthz", healthSrv.Handler())
	mux.Handle("/readyz", healthSrv.Handler())
	if cfg.EnableWSBroker {
		broker := wsbroker.NewBroker(mgr, authStore, blobs)
		mux.Handle("/ws", broker.Handler())
	}

	combined := &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      mux,
		TLSConfig:    tlsConfig,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrs := make(chan error, 1)
	go func() {
		log.Logger.Info().Str("addr", cfg.BindAddr).Bool("tls", tlsConfig != nil).Msg("lattice-server listening")
		var err error
		if tlsConfig != nil {
			err = combined.ListenAndServeTLS("", "")
		} else {
			err = combined.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverErrs <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-serverErrs:
		return fmt.Errorf("lattice-server: %w", err)
	}

	if err := persist.SaveTopology(topo.Snapshot()); err != nil {
		log.Logger.Error().Err(err).Msg("failed to persist topology snapshot on shutdown")
	}
	if err := persist.SaveUsers(authStore.Users()); err != nil {
		log.Logger.Error().Err(err).Msg("failed to persist user table on shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return combined.Shutdown(ctx)
}

// wireWatchers registers the run-agnostic standard watchers: metric
// aggregation (per command/round/epoch/metric_type mean) and Prometheus
// forwarding. NewBestDetector and CheckpointSaver are deliberately not
// wired here since they require a run-specific criterion/split that this
// generic binary has no configuration surface for; an embedder that
// knows its own training criterion registers them directly against the
// same pool.
func wireWatchers() *watcher.Pool {
	pool := watcher.NewPool()
	pool.Add(standard.NewMetricAggregator(pool))
	pool.Add(standard.NewMetricCollector())
	return pool
}
