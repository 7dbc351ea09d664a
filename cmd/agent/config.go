package main

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Chichichkin/forgelog/internal/engine"
	"github.com/Chichichkin/forgelog/internal/securestore"
)

const clientKeyItem = "client_key"

func bindConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return errors.WithStack(err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "failed to read config %s", path)
		}
	}
	return nil
}

// loadEngineConfig overlays the configured values on the defaults. Zero
// values keep the default.
func loadEngineConfig(v *viper.Viper) (engine.Config, error) {
	var loaded engine.Config
	if err := v.Unmarshal(&loaded); err != nil {
		return engine.Config{}, errors.Wrap(err, "failed to decode config")
	}

	cfg := engine.DefaultConfig()
	if loaded.Endpoint != "" {
		cfg.Endpoint = loaded.Endpoint
	}
	if loaded.ClientKey != "" {
		cfg.ClientKey = loaded.ClientKey
	}
	if loaded.BatchSize != 0 {
		cfg.BatchSize = loaded.BatchSize
	}
	if loaded.FlushInterval != 0 {
		cfg.FlushInterval = loaded.FlushInterval
	}
	if loaded.QueueCapacity != 0 {
		cfg.QueueCapacity = loaded.QueueCapacity
	}
	if loaded.HTTPTimeout != 0 {
		cfg.HTTPTimeout = loaded.HTTPTimeout
	}
	cfg.Gzip = loaded.Gzip
	return cfg, nil
}

// openStore opens the OS keyring, falling back to an in-memory store so the
// agent still runs (re-registering on every start) where no keyring exists.
func openStore(v *viper.Viper) securestore.Store {
	ring, err := securestore.OpenKeyring(securestore.KeyringConfig{
		Backends:     v.GetStringSlice("keyring-backend"),
		FileDir:      v.GetString("keyring-dir"),
		FilePassword: v.GetString("keyring-password"),
	})
	if err != nil {
		log.WithError(err).Warn("Keyring unavailable, device token will not survive restarts")
		return securestore.NewMemory()
	}
	return ring
}

// resolveClientKey returns the configured key, or the one generated on an
// earlier run, or a fresh one which is then persisted.
func resolveClientKey(store securestore.Store, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	stored, ok, err := store.Get(clientKeyItem)
	if err != nil {
		return "", err
	}
	if ok && len(stored) > 0 {
		return string(stored), nil
	}

	key := uuid.NewString()
	if err := store.Set(clientKeyItem, []byte(key)); err != nil {
		return "", err
	}
	log.Infof("Generated client key %s", key)
	return key, nil
}

func newEngine(v *viper.Viper, opts ...engine.Option) (*engine.Engine, error) {
	cfg, err := loadEngineConfig(v)
	if err != nil {
		return nil, err
	}

	store := openStore(v)
	if cfg.ClientKey, err = resolveClientKey(store, cfg.ClientKey); err != nil {
		return nil, err
	}

	opts = append([]engine.Option{
		engine.WithStore(store),
		engine.WithLogger(log.WithField("component", "engine")),
	}, opts...)
	return engine.New(cfg, opts...)
}
