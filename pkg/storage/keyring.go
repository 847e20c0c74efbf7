package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zalando/go-keyring"

	"github.com/dshills/flowgraph/internal/ctxlog"
	"github.com/dshills/flowgraph/pkg/validation"
)

// ServiceName is the keyring service holding flowgraph credentials.
const ServiceName = "flowgraph"

// indexKey holds the JSON list of stored keys, since keyrings cannot enumerate.
const indexKey = "__flowgraph_index__"

// ErrCredentialNotFound is returned when no credential has the requested key.
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialStore keeps secrets such as executor API keys out of workflow
// documents.
type CredentialStore interface {
	Set(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
	// List returns the stored keys, never the values.
	List() ([]string, error)
}

// KeyringCredentialStore stores credentials in the system keyring (Keychain,
// Credential Manager or Secret Service).
type KeyringCredentialStore struct {
	service string
	logger  *slog.Logger
}

// NewKeyringCredentialStore returns a store for ServiceName. A nil logger
// discards index maintenance warnings.
func NewKeyringCredentialStore(logger *slog.Logger) *KeyringCredentialStore {
	if logger == nil {
		logger = ctxlog.Discard()
	}
	return &KeyringCredentialStore{service: ServiceName, logger: logger}
}

// Set stores value under key.
func (s *KeyringCredentialStore) Set(key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	// The credential is stored even if the index cannot be updated.
	if err := s.updateIndex(key, true); err != nil {
		s.logger.Warn("failed to update credential index", "key", key, "error", err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *KeyringCredentialStore) Get(key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	value, err := keyring.Get(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrCredentialNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to retrieve credential: %w", err)
	}
	return value, nil
}

// Delete removes key.
func (s *KeyringCredentialStore) Delete(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	err := keyring.Delete(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if err := s.updateIndex(key, false); err != nil {
		s.logger.Warn("failed to update credential index", "key", key, "error", err)
	}
	return nil
}

// List returns the stored keys in sorted order.
func (s *KeyringCredentialStore) List() ([]string, error) {
	raw, err := keyring.Get(s.service, indexKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve credential index: %w", err)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("failed to parse credential index: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *KeyringCredentialStore) updateIndex(key string, present bool) error {
	keys, err := s.List()
	if err != nil {
		return err
	}

	next := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		if k != key {
			next = append(next, k)
		}
	}
	if present {
		next = append(next, key)
	}
	sort.Strings(next)

	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return keyring.Set(s.service, indexKey, string(raw))
}

func checkKey(key string) error {
	if key == "" {
		return fmt.Errorf("credential key cannot be empty")
	}
	if key == indexKey {
		return fmt.Errorf("credential key %q is reserved", key)
	}
	if !validation.ValidIdentifier(key) {
		return fmt.Errorf("invalid credential key %q (use letters, digits, '-' and '_')", key)
	}
	return nil
}
