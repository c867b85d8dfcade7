package setup

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/redis/go-redis/v9"

	clientconfig "github.com/quantumauth-io/quantum-wallet/cmd/quantum-wallet/config"
	"github.com/quantumauth-io/quantum-wallet/internal/broadcast"
	"github.com/quantumauth-io/quantum-wallet/internal/constants"
	"github.com/quantumauth-io/quantum-wallet/internal/ethwallet/userwallet"
	"github.com/quantumauth-io/quantum-wallet/internal/securefile"
	"github.com/quantumauth-io/quantum-wallet/internal/storage"
)

// closer collects cleanup functions and runs them in reverse order.
type closer []func() error

func (c *closer) add(f func() error) { *c = append(*c, f) }

func (c closer) close() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warn("cleanup failed", "error", err)
		}
	}
}

func dataDir(cfg *clientconfig.Config) (string, error) {
	dir := strings.TrimSpace(cfg.App.DataDir)
	if dir == "" {
		var err error
		if dir, err = securefile.DataDir(constants.AppName); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, constants.DirectoryPerm); err != nil {
		return "", errors.Wrapf(err, "create data dir %s", dir)
	}
	return dir, nil
}

// password reads the vault password from the configured environment
// variable, falling back to an interactive prompt.
func password(cfg *clientconfig.Config) ([]byte, error) {
	if name := strings.TrimSpace(cfg.App.PasswordEnv); name != "" {
		if pw := os.Getenv(name); pw != "" {
			return []byte(pw), nil
		}
	}
	if !interactive() {
		return nil, errors.Newf("no password: set %s or run interactively", cfg.App.PasswordEnv)
	}
	return PromptPassword("Wallet password: ")
}

func openStore(ctx context.Context, cfg *clientconfig.Config, dir string, pw []byte, cl *closer) (storage.Store, error) {
	var st storage.Store
	switch cfg.Storage.Backend {
	case clientconfig.BackendMemory:
		st = storage.NewMemoryStore()
	case clientconfig.BackendRedis:
		rs, err := storage.NewRedisStoreFromURL(ctx, cfg.Storage.RedisURL, cfg.Storage.Prefix)
		if err != nil {
			return nil, err
		}
		cl.add(rs.Close)
		st = rs
	default:
		st = storage.NewFileStore(filepath.Join(dir, constants.StoreFile), pw, securefile.Options{})
	}
	if cfg.Storage.Timeout > 0 {
		st = storage.WithTimeout(st, cfg.Storage.Timeout)
	}
	log.Info("storage ready", "backend", cfg.Storage.Backend)
	return st, nil
}

func openTransport(ctx context.Context, cfg *clientconfig.Config, cl *closer) (broadcast.Transport, error) {
	if cfg.Broadcast.Backend != clientconfig.BackendRedis {
		bus := broadcast.NewBus()
		cl.add(bus.Close)
		return broadcast.NewInProcess(bus, cfg.Broadcast.Channel), nil
	}

	opts, err := redis.ParseURL(cfg.Broadcast.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse broadcast redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping broadcast redis")
	}
	cl.add(client.Close)
	return broadcast.NewRedis(client, cfg.Broadcast.Channel)
}

// unlockSigner opens the local key vault, offering to create one on first
// run.
func unlockSigner(dir string, pw []byte) (*userwallet.Wallet, error) {
	vault := userwallet.NewStore(dir)
	if _, err := os.Stat(vault.Path); errors.Is(err, os.ErrNotExist) && interactive() {
		ok, err := promptYesNo("No wallet found. Create a new key? [y/N] ")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("wallet creation declined")
		}
	}
	w, err := vault.Ensure(pw)
	if err != nil {
		return nil, err
	}
	log.Info("signer unlocked", "address", w.Address().Hex())
	return w, nil
}
