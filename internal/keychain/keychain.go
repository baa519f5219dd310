// Package keychain stores model API keys in the OS credential store so they
// need not live in the environment.
package keychain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/99designs/keyring"

	"tableqa/internal/errs"
)

// ServiceName identifies the credential store namespace.
const ServiceName = "tableqa"

// Known secret names.
const (
	KeyAnthropic = "anthropic_api_key"
	KeyGoogle    = "google_api_key"
)

// Keys lists the secret names the auth command accepts.
var Keys = []string{KeyAnthropic, KeyGoogle}

// Manager serializes access to a keyring.
type Manager struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

// Open opens the platform keyring using native backends, with pass as the
// fallback on systems without a desktop secret service.
func Open() (*Manager, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
		},
		PassPrefix:    ServiceName,
		WinCredPrefix: ServiceName,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Config, "keychain", "no usable credential store", err)
	}
	return NewWithRing(ring), nil
}

// NewWithRing wraps an already opened keyring.
func NewWithRing(ring keyring.Keyring) *Manager {
	return &Manager{ring: ring}
}

// Set stores value under key.
func (m *Manager) Set(key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return errs.New(errs.Invalid, "keychain", "empty value for "+key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ring.Set(keyring.Item{Key: key, Data: []byte(value), Label: ServiceName + " " + key}); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Get returns the value under key, or a not_found error.
func (m *Manager) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, err := m.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", errs.New(errs.NotFound, "keychain", key+" is not stored")
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(item.Data), nil
}

// Delete removes key. Missing keys are not an error.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Resolve returns envValue when set, otherwise the stored secret, otherwise "".
func (m *Manager) Resolve(envValue, key string) string {
	if v := strings.TrimSpace(envValue); v != "" {
		return v
	}
	if m == nil {
		return ""
	}
	v, err := m.Get(key)
	if err != nil {
		return ""
	}
	return v
}

func validKey(key string) error {
	for _, k := range Keys {
		if k == key {
			return nil
		}
	}
	return errs.New(errs.Invalid, "keychain", fmt.Sprintf("unknown key %q (want one of %s)", key, strings.Join(Keys, ", ")))
}
