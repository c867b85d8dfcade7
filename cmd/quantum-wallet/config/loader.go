package config

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/quantumauth-io/quantum-wallet/internal/backoff"
	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/networks"
	"github.com/quantumauth-io/quantum-wallet/internal/session"
	"github.com/quantumauth-io/quantum-wallet/internal/tabs"
	"github.com/quantumauth-io/quantum-wallet/internal/wallet"
)

//go:embed config.yaml
var EmbeddedConfigYAML []byte

const envPrefix = "QW"

const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type App struct {
	LocalHost        string
	Port             string
	DataDir          string
	TabID            string
	Signer           bool
	PasswordEnv      string
	LoopbackOnly     bool
	PairingTokenFile string
	AllowedOrigins   []string
}

type Storage struct {
	Backend  string
	RedisURL string
	Prefix   string
	Timeout  time.Duration
}

type Broadcast struct {
	Backend  string
	RedisURL string
	Channel  string
}

type Metrics struct {
	Enabled bool
}

type Config struct {
	App         App
	Storage     Storage
	Broadcast   Broadcast
	Retry       backoff.Config
	Tabs        tabs.Config
	Networks    networks.Config
	Session     session.Config
	Permissions wallet.PermissionsConfig
	Metrics     Metrics
}

// Load reads the embedded defaults, overlays the first config.yaml found in
// the usual directories and finally QW_* environment variables
// (QW_STORAGE_BACKEND=redis).
func Load() (*Config, error) {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		"./config",
		filepath.Join(home, ".quantumwallet"),
		"/etc/quantumwallet",
	}
	return parse(paths, EmbeddedConfigYAML)
}

func parse(paths []string, embedded []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(embedded)); err != nil {
		return nil, errors.Wrap(err, "read embedded config")
	}

	v.SetConfigName("config")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "merge config file")
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize canonicalizes chain ids and origins and checks the enumerated
// settings.
func (c *Config) Normalize() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	switch c.Storage.Backend {
	case BackendFile, BackendRedis, BackendMemory:
	default:
		return errors.Newf("invalid Storage.Backend %q (allowed: file, redis, memory)", c.Storage.Backend)
	}
	c.Broadcast.Backend = strings.ToLower(strings.TrimSpace(c.Broadcast.Backend))
	switch c.Broadcast.Backend {
	case BackendMemory, BackendRedis:
	default:
		return errors.Newf("invalid Broadcast.Backend %q (allowed: memory, redis)", c.Broadcast.Backend)
	}

	switch c.Session.Mode {
	case "", session.ModeSigned, session.ModeBasic:
	default:
		return errors.Newf("invalid Session.Mode %q (allowed: signed, basic)", c.Session.Mode)
	}
	if c.Session.Mode != session.ModeBasic && !c.App.Signer {
		return errors.New("Session.Mode signed needs App.Signer")
	}

	if c.Networks.DefaultChainID != "" {
		id, err := core.NormalizeChainID(c.Networks.DefaultChainID)
		if err != nil {
			return errors.Wrap(err, "Networks.DefaultChainID")
		}
		c.Networks.DefaultChainID = string(id)
	}

	seen := map[string]struct{}{}
	origins := make([]string, 0, len(c.App.AllowedOrigins))
	for _, raw := range c.App.AllowedOrigins {
		o := core.NormalizeOrigin(raw)
		if !strings.Contains(o, "://") {
			return errors.Newf("App.AllowedOrigins contains invalid origin %q", raw)
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		origins = append(origins, o)
	}
	c.App.AllowedOrigins = origins
	return nil
}

// Wallet returns the facade's share of the configuration.
func (c *Config) Wallet() wallet.Config {
	return wallet.Config{
		Retry:       c.Retry,
		Tabs:        c.Tabs,
		Networks:    c.Networks,
		Session:     c.Session,
		Permissions: c.Permissions,
	}
}
