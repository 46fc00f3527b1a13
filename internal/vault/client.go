// Package vault reads third-party service credentials (market data API key,
// bot token) from HashiCorp Vault, with an in-memory store for development
// setups that run without Vault.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Secret names the credentials this service reads
const (
	SecretMarketData = "marketdata"
	SecretBot        = "bot"
)

// Config holds Vault connection settings
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string
	TLSEnabled bool
	CACert     string
}

// Credential is one stored secret
type Credential struct {
	Token string `json:"token"`
	Extra string `json:"extra,omitempty"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config Config

	mu    sync.RWMutex
	cache map[string]*Credential
}

// NewClient creates a Vault client. With Vault disabled the client serves
// only what was stored through it in-process.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{config: cfg, cache: make(map[string]*Credential)}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("vault: configuring TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("vault: creating client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// StoreCredential writes a credential under the given name
func (c *Client) StoreCredential(ctx context.Context, name string, cred Credential) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[name] = &cred
		c.mu.Unlock()
		return nil
	}

	payload := map[string]any{
		"data": map[string]any{
			"token": cred.Token,
			"extra": cred.Extra,
		},
	}
	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(name), payload); err != nil {
		return fmt.Errorf("vault: storing %s: %w", name, err)
	}

	c.mu.Lock()
	c.cache[name] = &cred
	c.mu.Unlock()
	return nil
}

// GetCredential reads a credential, preferring the in-process cache
func (c *Client) GetCredential(ctx context.Context, name string) (*Credential, error) {
	c.mu.RLock()
	cached := c.cache[name]
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	if !c.config.Enabled {
		return nil, fmt.Errorf("vault: credential %s not found", name)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(name))
	if err != nil {
		return nil, fmt.Errorf("vault: reading %s: %w", name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault: credential %s not found", name)
	}

	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("vault: unexpected secret format for %s", name)
	}

	cred := &Credential{}
	if v, ok := data["token"].(string); ok {
		cred.Token = v
	}
	if v, ok := data["extra"].(string); ok {
		cred.Extra = v
	}

	c.mu.Lock()
	c.cache[name] = cred
	c.mu.Unlock()
	return cred, nil
}

func (c *Client) secretPath(name string) string {
	mount := c.config.MountPath
	if mount == "" {
		mount = "secret"
	}
	return fmt.Sprintf("%s/data/tbot/%s", mount, name)
}
