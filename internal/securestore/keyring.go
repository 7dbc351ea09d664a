package securestore

import (
	"io/fs"

	"github.com/99designs/keyring"
	"github.com/pkg/errors"
)

const DefaultService = "Forge"

type KeyringConfig struct {
	Service string
	// Backends restricts the keyring backends tried, in order. Empty means
	// the platform defaults.
	Backends []string
	// FileDir and FilePassword configure the encrypted file backend.
	FileDir      string
	FilePassword string
}

// Keyring stores secrets in the OS keychain (or an encrypted file when no
// keychain is available).
type Keyring struct {
	ring keyring.Keyring
}

func OpenKeyring(cfg KeyringConfig) (*Keyring, error) {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	kcfg := keyring.Config{
		ServiceName:              cfg.Service,
		KeychainName:             cfg.Service,
		KeychainTrustApplication: true,
		FileDir:                  cfg.FileDir,
	}
	if cfg.FilePassword != "" {
		kcfg.FilePasswordFunc = keyring.FixedStringPrompt(cfg.FilePassword)
	}
	for _, b := range cfg.Backends {
		kcfg.AllowedBackends = append(kcfg.AllowedBackends, keyring.BackendType(b))
	}

	ring, err := keyring.Open(kcfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open keyring for service %s", cfg.Service)
	}
	return NewKeyring(ring), nil
}

func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

func (k *Keyring) Get(key string) ([]byte, bool, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &Error{Op: "get", Key: key, Err: err}
	}
	return item.Data, true, nil
}

func (k *Keyring) Set(key string, value []byte) error {
	item := keyring.Item{
		Key:   key,
		Data:  value,
		Label: key,
	}
	err := k.ring.Set(item)
	if err == nil {
		return nil
	}

	// Some backends refuse to overwrite an existing item. Replace it only
	// once a plain set has failed so the old value survives other failures.
	if _, getErr := k.ring.Get(key); getErr != nil {
		return &Error{Op: "set", Key: key, Err: err}
	}
	if err := k.Delete(key); err != nil {
		return err
	}
	if err := k.ring.Set(item); err != nil {
		return &Error{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (k *Keyring) Delete(key string) error {
	err := k.ring.Remove(key)
	if err == nil || errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return &Error{Op: "delete", Key: key, Err: err}
}
