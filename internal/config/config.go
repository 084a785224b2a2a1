// Package config holds the settings shared by roomd and rps. Every flag can
// also be set through an RPS_* environment variable or a .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DoyleJ11/rps-rooms/internal/store"
)

const EnvPrefix = "RPS"

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreNATS     = "nats"
	StoreRemote   = "remote"
)

type Config struct {
	Store        string
	PostgresURL  string
	NatsURL      string
	NatsBucket   string
	ServerURL    string
	Namespace    string
	Collection   string
	Bind         string
	Port         int
	Origins      []string
	IdentityFile string
	HTTPTimeout  time.Duration
	Verbose      bool
}

// LoadDotEnv reads .env files if present. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// StoreFlags registers the flags that pick and reach a backend.
func StoreFlags(fs *pflag.FlagSet, cfg *Config, defaultStore string) {
	fs.StringVarP(&cfg.Store, "store", "s", defaultStore, "room store: memory, postgres, nats or remote (env: RPS_STORE)")
	fs.StringVar(&cfg.PostgresURL, "postgres-url", "", "postgres connection string (env: RPS_POSTGRES_URL)")
	fs.StringVar(&cfg.NatsURL, "nats-url", "nats://127.0.0.1:4222", "nats server url (env: RPS_NATS_URL)")
	fs.StringVar(&cfg.NatsBucket, "nats-bucket", "rps_rooms", "jetstream key-value bucket (env: RPS_NATS_BUCKET)")
	fs.StringVar(&cfg.ServerURL, "server", "http://127.0.0.1:8080", "roomd base url for the remote store (env: RPS_SERVER)")
	fs.DurationVar(&cfg.HTTPTimeout, "http-timeout", 10*time.Second, "timeout for remote store writes (env: RPS_HTTP_TIMEOUT)")
	fs.StringVarP(&cfg.Namespace, "namespace", "n", "default", "application namespace rooms live under (env: RPS_NAMESPACE)")
	fs.StringVar(&cfg.Collection, "collection", store.DefaultCollection, "collection rooms live in (env: RPS_COLLECTION)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: RPS_VERBOSE)")
}

func ServerFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: RPS_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: RPS_PORT)")
	fs.StringSliceVar(&cfg.Origins, "origins", nil, "extra websocket origin patterns to accept (env: RPS_ORIGINS)")
}

func ClientFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.IdentityFile, "identity-file", "", "file holding this player's id (env: RPS_IDENTITY_FILE)")
}

// BindEnv lets RPS_* variables fill any flag not given on the command line.
func BindEnv(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

// Validate checks the fields the chosen backend needs. allowed lists the
// backends the calling binary supports.
func (c *Config) Validate(allowed ...string) error {
	if len(allowed) > 0 && !contains(allowed, c.Store) {
		return fmt.Errorf("unsupported store %q (want one of %s)", c.Store, strings.Join(allowed, ", "))
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresURL == "" {
			return errors.New("--postgres-url is required with --store postgres")
		}
	case StoreNATS:
		if c.NatsURL == "" {
			return errors.New("--nats-url is required with --store nats")
		}
	case StoreRemote:
		u, err := url.Parse(c.ServerURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid --server %q", c.ServerURL)
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if strings.TrimSpace(c.Namespace) == "" {
		return errors.New("--namespace must not be empty")
	}
	if c.Port != 0 && (c.Port < 1 || c.Port > 65535) {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("invalid --http-timeout %s", c.HTTPTimeout)
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
