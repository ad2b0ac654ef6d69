// Package vault resolves venue credentials from HashiCorp Vault with an
// environment-variable fallback when Vault is disabled.
package vault

import (
	"context"
	"fmt"
	"sync"

	"hyperliquid-copy-bot/config"

	"github.com/hashicorp/vault/api"
)

// VenueCredentials holds the venue API credentials for the operator account.
type VenueCredentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// Client wraps the HashiCorp Vault client. When Vault is disabled the client
// serves the credentials carried in the venue config.
type Client struct {
	client   *api.Client
	cfg      config.VaultConfig
	fallback VenueCredentials

	mu     sync.RWMutex
	cached *VenueCredentials
}

// NewClient creates a Vault client. With Vault disabled, env-sourced
// credentials are used directly.
func NewClient(cfg config.VaultConfig, fallback VenueCredentials) (*Client, error) {
	c := &Client{cfg: cfg, fallback: fallback}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// VenueCredentials returns the venue credentials, reading Vault once and
// caching the result for the process lifetime.
func (c *Client) VenueCredentials(ctx context.Context) (*VenueCredentials, error) {
	c.mu.RLock()
	if c.cached != nil {
		defer c.mu.RUnlock()
		return c.cached, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil {
		return c.cached, nil
	}

	if !c.cfg.Enabled {
		c.cached = &VenueCredentials{APIKey: c.fallback.APIKey, APISecret: c.fallback.APISecret}
		return c.cached, nil
	}

	secret, err := c.client.KVv2(c.cfg.MountPath).Get(ctx, c.cfg.SecretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read venue credentials from vault: %w", err)
	}

	creds := &VenueCredentials{}
	if v, ok := secret.Data["api_key"].(string); ok {
		creds.APIKey = v
	}
	if v, ok := secret.Data["api_secret"].(string); ok {
		creds.APISecret = v
	}
	if creds.APISecret == "" {
		return nil, fmt.Errorf("vault secret %s/%s is missing api_secret", c.cfg.MountPath, c.cfg.SecretPath)
	}

	c.cached = creds
	return creds, nil
}
