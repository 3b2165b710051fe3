package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const secretService = "tagask"

// ErrSecretNotFound is returned when a secret is absent from the store.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore reads and writes secrets outside the plain config file.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// fileSecrets keeps secrets in a 0600 JSON file shaped
// {"service": {"account": "value"}}.
type fileSecrets struct {
	path string
}

// NewSecretStore returns the store at $XDG_DATA_HOME/tagask/secrets.json.
func NewSecretStore() SecretStore {
	return fileSecrets{path: filepath.Join(defaultDataDir(), "secrets.json")}
}

func (f fileSecrets) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	if secrets == nil {
		secrets = map[string]map[string]string{}
	}
	return secrets, nil
}

func (f fileSecrets) Get(service, account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", service, account, ErrSecretNotFound)
	}
	return val, nil
}

func (f fileSecrets) Set(service, account, value string) error {
	secrets, err := f.read()
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

func applySecrets(cfg *Config, store SecretStore) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if cur, _ := s.extract(*cfg).(string); cur != "" {
			continue
		}
		if v, err := store.Get(secretService, s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// APIToken returns the bearer token protecting the HTTP API. An explicit
// TAGASK_API_TOKEN wins; otherwise a token is read from the secret store,
// and generated and saved there on first use.
func APIToken(cfg Config, store SecretStore) (string, error) {
	if cfg.Server.APIToken != "" {
		return cfg.Server.APIToken, nil
	}
	if v, err := store.Get(secretService, "server.api_token"); err == nil && v != "" {
		return v, nil
	} else if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return "", err
	}
	token := strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
	if err := store.Set(secretService, "server.api_token", token); err != nil {
		return "", fmt.Errorf("saving API token: %w", err)
	}
	return token, nil
}

// SetSecret stores a secret config key in the secret store.
func SetSecret(store SecretStore, key, value string) error {
	for _, s := range specs {
		if s.key == key {
			if !s.secret {
				return fmt.Errorf("%q is not a secret; use config set", key)
			}
			return store.Set(secretService, key, value)
		}
	}
	return fmt.Errorf("unknown config key: %q", key)
}
