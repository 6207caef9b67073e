// Package vault stores per-user brokerage credentials in HashiCorp Vault
// (KV v2). With Vault disabled the client degrades to an in-memory map so
// development and tests need no Vault process.
package vault

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Config holds Vault connection settings.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // e.g. "secret"
	SecretPath string `json:"secret_path"` // e.g. "kingsick/users"
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// BrokerCredentials is one user's KIS OpenAPI credential set.
type BrokerCredentials struct {
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"`
	AccountNo string `json:"account_no"`
	Sandbox   bool   `json:"sandbox"`
}

// Client wraps the Vault API client with a read-through credential cache.
type Client struct {
	client *api.Client
	config Config

	mu    sync.RWMutex
	cache map[int64]*BrokerCredentials
}

// NewClient creates a Vault client. With cfg.Enabled false the client is
// memory-only.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{config: cfg, cache: make(map[int64]*BrokerCredentials)}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("configuring vault TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// StoreCredentials writes a user's brokerage credentials.
func (c *Client) StoreCredentials(ctx context.Context, userID int64, creds BrokerCredentials) error {
	if c.config.Enabled {
		payload := map[string]any{
			"data": map[string]any{
				"app_key":    creds.AppKey,
				"app_secret": creds.AppSecret,
				"account_no": creds.AccountNo,
				"sandbox":    creds.Sandbox,
			},
		}
		if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(userID), payload); err != nil {
			return fmt.Errorf("storing credentials for user %d: %w", userID, err)
		}
	}

	c.mu.Lock()
	copied := creds
	c.cache[userID] = &copied
	c.mu.Unlock()
	return nil
}

// GetCredentials reads a user's brokerage credentials, preferring the cache.
func (c *Client) GetCredentials(ctx context.Context, userID int64) (*BrokerCredentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[userID]; ok {
		c.mu.RUnlock()
		copied := *cached
		return &copied, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("no credentials for user %d and vault is disabled", userID)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(userID))
	if err != nil {
		return nil, fmt.Errorf("reading credentials for user %d: %w", userID, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no credentials stored for user %d", userID)
	}

	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("malformed secret for user %d", userID)
	}

	creds := &BrokerCredentials{
		AppKey:    getString(data, "app_key"),
		AppSecret: getString(data, "app_secret"),
		AccountNo: getString(data, "account_no"),
		Sandbox:   getBool(data, "sandbox"),
	}

	c.mu.Lock()
	c.cache[userID] = creds
	c.mu.Unlock()

	copied := *creds
	return &copied, nil
}

// DeleteCredentials removes a user's credentials.
func (c *Client) DeleteCredentials(ctx context.Context, userID int64) error {
	c.mu.Lock()
	delete(c.cache, userID)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(userID)); err != nil {
		return fmt.Errorf("deleting credentials for user %d: %w", userID, err)
	}
	return nil
}

// InvalidateUser drops a user's cached credentials, forcing a Vault re-read.
func (c *Client) InvalidateUser(userID int64) {
	c.mu.Lock()
	delete(c.cache, userID)
	c.mu.Unlock()
}

// IsEnabled reports whether a real Vault backend is in use.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection. Always healthy in memory-only mode.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(userID int64) string {
	return fmt.Sprintf("%s/data/%s/%d/kis", c.config.MountPath, c.config.SecretPath, userID)
}

func (c *Client) metadataPath(userID int64) string {
	return fmt.Sprintf("%s/metadata/%s/%d/kis", c.config.MountPath, c.config.SecretPath, userID)
}

func getString(data map[string]any, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

func getBool(data map[string]any, key string) bool {
	switch v := data[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}
