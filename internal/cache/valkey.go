package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Valkey implements Cache on a Valkey (Redis-compatible) server.
type Valkey struct {
	client valkey.Client
	prefix string
}

// NewValkey connects to addr. Keys are stored under prefix.
func NewValkey(addr, prefix string) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &Valkey{client: client, prefix: prefix}, nil
}

// Get retrieves a value by key.
func (c *Valkey) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(c.prefix+key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Set stores a value. A non-positive ttl keeps the key until evicted.
func (c *Valkey) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	set := c.client.B().Set().Key(c.prefix + key).Value(valkey.BinaryString(value))
	if ttl > 0 {
		return c.client.Do(ctx, set.Ex(expiry(ttl)).Build()).Error()
	}
	return c.client.Do(ctx, set.Build()).Error()
}

// expiry rounds ttl up to whole seconds. EX truncates, and EX 0 is rejected.
func expiry(ttl time.Duration) time.Duration {
	if ttl < time.Second {
		return time.Second
	}
	return (ttl + time.Second - 1).Truncate(time.Second)
}

// Close releases the client.
func (c *Valkey) Close() {
	c.client.Close()
}
