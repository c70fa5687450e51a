package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ErrSecretNotFound is returned when a secret store has no value for a key.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves secrets by key.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from process environment variables.
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	if v, err := s.Get(ctx, key); err == nil {
		return v
	}
	return def
}

// Secret keys consulted by LoadSecretsFromEnv.
const (
	SecretSQLDSN        = "STATSBRIDGE_SQL_DSN"
	SecretRedisPassword = "STATSBRIDGE_REDIS_PASSWORD"
	SecretAPIKeys       = "STATSBRIDGE_API_KEYS"
)

// LoadSecretsFromEnv fills backend credentials and API keys from store.
// Values already present in cfg are only replaced when the store has one.
func LoadSecretsFromEnv(ctx context.Context, cfg *Config, store SecretStore) {
	if store == nil {
		store = NewEnvironmentSecretStore()
	}
	cfg.Backend.SQL.DSN = store.GetWithDefault(ctx, SecretSQLDSN, cfg.Backend.SQL.DSN)
	cfg.Backend.Redis.Password = store.GetWithDefault(ctx, SecretRedisPassword, cfg.Backend.Redis.Password)
	if raw, err := store.Get(ctx, SecretAPIKeys); err == nil {
		var keys []string
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		cfg.Security.APIKeys = keys
	}
}

// LoadDotEnv loads .env style files into the environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}
