// Package config implements the ambient A3 component named in
// SPEC_FULL.md §2: an env-tag struct for process-level configuration
// (loaded with github.com/caarlos0/env/v11, the only pack repo —
// Freitascorp-devopsclaw — that loads config this way) plus two YAML
// file loaders for the topology and user config files named in spec
// §6, loaded with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerConfig is the lattice-server process's env/CLI-overridable
// configuration.
type ServerConfig struct {
	// BindAddr is the address the HTTP carrier (and, if enabled, the
	// websocket broker) listens on.
	BindAddr string `env:"LATTICE_BIND_ADDR" envDefault:":8443"`
	// DataDir holds the bbolt files for pkg/storage and pkg/blobstore.
	DataDir string `env:"LATTICE_DATA_DIR" envDefault:"./data"`
	// TopologyFile is the YAML file listing the node inventory, loaded
	// at startup via LoadTopologyFile.
	TopologyFile string `env:"LATTICE_TOPOLOGY_FILE" envDefault:"./topology.yaml"`
	// UserFile is the YAML file listing local users, loaded at startup
	// via LoadUserFile.
	UserFile string `env:"LATTICE_USER_FILE" envDefault:"./users.yaml"`
	// SigningKey is the HMAC key used to sign bearer tokens. Must be set
	// in production; a missing key fails startup rather than silently
	// using an empty one.
	SigningKey string `env:"LATTICE_SIGNING_KEY"`
	// TokenTTL is how long a minted bearer token remains valid. <=0
	// means tokens never expire.
	TokenTTL time.Duration `env:"LATTICE_TOKEN_TTL" envDefault:"24h"`
	// Simulation enables auto-creation of unknown client usernames on
	// first contact (spec §4.7). Must be false in production.
	Simulation bool `env:"LATTICE_SIMULATION" envDefault:"false"`
	// LivenessTimeout (T) is how long a client can go without an
	// authenticated request before the liveness observer marks it
	// offline.
	LivenessTimeout time.Duration `env:"LATTICE_LIVENESS_TIMEOUT" envDefault:"30s"`
	// SweepInterval (S) is how often the liveness observer scans for
	// stale clients.
	SweepInterval time.Duration `env:"LATTICE_SWEEP_INTERVAL" envDefault:"10s"`
	// TLSCertFile and TLSKeyFile, if both set, serve the HTTP carrier
	// over TLS. Left empty, the server serves plain HTTP (local
	// development only, per spec §6).
	TLSCertFile string `env:"LATTICE_TLS_CERT_FILE"`
	TLSKeyFile  string `env:"LATTICE_TLS_KEY_FILE"`
	// EnableWSBroker additionally mounts the websocket broker carrier
	// alongside the HTTP carrier.
	EnableWSBroker bool `env:"LATTICE_ENABLE_WS_BROKER" envDefault:"false"`
	// BlobLeakTTL is how long an uploaded blob may sit unfetched before
	// the blob store's leak sweep deletes it and counts it as leaked.
	BlobLeakTTL time.Duration `env:"LATTICE_BLOB_LEAK_TTL" envDefault:"1h"`
	// BlobSweepInterval is how often the blob store scans for leaked
	// blobs.
	BlobSweepInterval time.Duration `env:"LATTICE_BLOB_SWEEP_INTERVAL" envDefault:"5m"`
}

// LoadServerConfig parses ServerConfig from the process environment.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config: parse server config: %w", err)
	}
	return cfg, nil
}

// WorkerConfig is the lattice-worker process's env/CLI-overridable
// configuration.
type WorkerConfig struct {
	// Name identifies this worker to the server; must match a client
	// node name in the server's topology file.
	Name string `env:"LATTICE_WORKER_NAME,required"`
	// ServerURL is the base URL of the HTTP carrier (http(s)://host:port)
	// or, when UseWSBroker is set, the ws(s)://host:port URL of the
	// broker's connect endpoint.
	ServerURL string `env:"LATTICE_SERVER_URL,required"`
	// Username and Password authenticate against the server's /token
	// endpoint.
	Username string `env:"LATTICE_WORKER_USERNAME,required"`
	Password string `env:"LATTICE_WORKER_PASSWORD,required"`
	// PingInterval is how often the pull task polls for a command.
	PingInterval time.Duration `env:"LATTICE_PING_INTERVAL" envDefault:"5s"`
	// UseWSBroker selects the persistent websocket carrier instead of
	// the default request/reply HTTP carrier.
	UseWSBroker bool `env:"LATTICE_USE_WS_BROKER" envDefault:"false"`
	// Allow/Deny restrict which command datatypes this worker will
	// execute, as a comma-separated list.
	Allow []string `env:"LATTICE_ALLOW" envSeparator:","`
	Deny  []string `env:"LATTICE_DENY" envSeparator:","`
}

// LoadWorkerConfig parses WorkerConfig from the process environment.
func LoadWorkerConfig() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return WorkerConfig{}, fmt.Errorf("config: parse worker config: %w", err)
	}
	return cfg, nil
}
