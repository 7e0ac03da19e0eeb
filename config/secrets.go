package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// Secret providers
const (
	SecretsEnv   = "env"
	SecretsVault = "vault"
	SecretsAWS   = "aws"
)

// Keys looked up in the secret provider
const (
	SecretKeySession     = "session_secret"
	SecretKeyDatabaseURI = "database_uri"
)

// ErrSecretNotFound is returned when the provider has no value for a key
var ErrSecretNotFound = errors.New("secret not found")

// VaultConfig locates the KV secret holding the server's secrets
type VaultConfig struct {
	Address string        `mapstructure:"address"`
	Token   string        `mapstructure:"token"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AWSSecretsConfig locates the Secrets Manager secret holding the server's secrets
type AWSSecretsConfig struct {
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	// Endpoint overrides the service endpoint, for local stacks
	Endpoint string `mapstructure:"endpoint"`
}

// SecretsConfig selects where the session secret and database URI come from.
// With the env provider they are read from the environment like any other key.
type SecretsConfig struct {
	Provider string           `mapstructure:"provider" validate:"omitempty,oneof=env vault aws"`
	Vault    VaultConfig      `mapstructure:"vault"`
	AWS      AWSSecretsConfig `mapstructure:"aws"`
}

// SecretManager interface for retrieving secrets
type SecretManager interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// VaultSecretManager retrieves secrets from HashiCorp Vault
type VaultSecretManager struct {
	path   string
	client *api.Client
}

// NewVaultSecretManager creates a Vault client. The token falls back to
// VAULT_TOKEN, which the client reads itself.
func NewVaultSecretManager(cfg VaultConfig) (*VaultSecretManager, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	address := cfg.Address
	if address == "" {
		address = api.DefaultConfig().Address
	}

	client, err := api.NewClient(&api.Config{
		Address: address,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	path := cfg.Path
	if path == "" {
		path = "secret/webserver"
	}
	return &VaultSecretManager{path: path, client: client}, nil
}

// GetSecret reads key from the configured path. Both KV v1 and KV v2
// response shapes are accepted.
func (v *VaultSecretManager) GetSecret(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: nothing stored at Vault path %s", ErrSecretNotFound, v.path)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not in Vault secret %s", ErrSecretNotFound, key, v.path)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return strValue, nil
}

// AWSSecretManager retrieves secrets from AWS Secrets Manager
type AWSSecretManager struct {
	secretID string
	client   *secretsmanager.SecretsManager
}

// NewAWSSecretManager creates a Secrets Manager client. Without static keys
// the default credential chain is used.
func NewAWSSecretManager(cfg AWSSecretsConfig) (*AWSSecretManager, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	secretID := cfg.SecretID
	if secretID == "" {
		secretID = "webserver/secrets"
	}
	return &AWSSecretManager{secretID: secretID, client: secretsmanager.New(sess)}, nil
}

// GetSecret reads key from the JSON document stored in the secret
func (a *AWSSecretManager) GetSecret(ctx context.Context, key string) (string, error) {
	result, err := a.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret from AWS: %w", err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("%w: secret %s has no string value", ErrSecretNotFound, a.secretID)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return "", fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}

	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not in AWS secret %s", ErrSecretNotFound, key, a.secretID)
	}
	return value, nil
}

// NewSecretManager creates the secret manager for the configured provider.
// The env provider returns nil: its values are already in the config.
func NewSecretManager(cfg SecretsConfig) (SecretManager, error) {
	switch cfg.Provider {
	case "", SecretsEnv:
		return nil, nil
	case SecretsVault:
		return NewVaultSecretManager(cfg.Vault)
	case SecretsAWS:
		return NewAWSSecretManager(cfg.AWS)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Provider)
	}
}

// LoadSecrets fills the session secret, and the database URI when present,
// from the configured provider
func LoadSecrets(ctx context.Context, cfg *Config) error {
	manager, err := NewSecretManager(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	if manager == nil {
		return nil
	}

	secret, err := manager.GetSecret(ctx, SecretKeySession)
	if err != nil {
		return fmt.Errorf("failed to load session secret: %w", err)
	}
	cfg.Session.Secret = secret

	uri, err := manager.GetSecret(ctx, SecretKeyDatabaseURI)
	switch {
	case err == nil:
		cfg.MongoDB.URI = uri
	case errors.Is(err, ErrSecretNotFound):
		// optional, keep the configured URI
	default:
		return fmt.Errorf("failed to load database URI: %w", err)
	}

	return nil
}
