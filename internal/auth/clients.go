package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sungwon/govnotify/internal/config"
)

// ErrUnknownKey is returned when no configured client matches an API key.
var ErrUnknownKey = errors.New("unknown API key")

// Client is an authenticated machine client of the API.
type Client struct {
	Name     string
	SenderID uuid.UUID
}

type clientEntry struct {
	client  Client
	keyHash string
}

// Clients verifies API keys against the bcrypt hashes of the configured
// clients. Verified keys are remembered by digest so bcrypt runs once per
// key and process.
type Clients struct {
	entries []clientEntry

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]Client
}

// NewClients builds the client table from configuration.
func NewClients(cfgs []config.APIClientConfig) (*Clients, error) {
	c := &Clients{verified: make(map[[sha256.Size]byte]Client)}
	for i, cfg := range cfgs {
		if cfg.Name == "" || cfg.KeyHash == "" {
			return nil, fmt.Errorf("api client %d: name and key_hash are required", i)
		}
		senderID, err := uuid.Parse(cfg.SenderID)
		if err != nil {
			return nil, fmt.Errorf("api client %q: invalid sender_id: %w", cfg.Name, err)
		}
		c.entries = append(c.entries, clientEntry{
			client:  Client{Name: cfg.Name, SenderID: senderID},
			keyHash: cfg.KeyHash,
		})
	}
	return c, nil
}

// Len returns the number of configured clients.
func (c *Clients) Len() int {
	return len(c.entries)
}

// Lookup returns the client owning apiKey.
func (c *Clients) Lookup(_ context.Context, apiKey string) (Client, error) {
	digest := sha256.Sum256([]byte(apiKey))

	c.mu.RLock()
	client, ok := c.verified[digest]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}

	for _, e := range c.entries {
		if VerifyKey(e.keyHash, apiKey) == nil {
			c.mu.Lock()
			c.verified[digest] = e.client
			c.mu.Unlock()
			return e.client, nil
		}
	}
	return Client{}, ErrUnknownKey
}
