// Package connection holds the remote connection parameters shared by every
// protocol call, together with the single reusable HTTP client.
//
// Readers take a snapshot under a shared lock and release it before touching
// the network. Writers replace the whole Settings value under the exclusive
// lock, so a reader sees either the previous generation or the next one and
// never a host from one and a port from the other.
package connection

import (
	"net/http"
	"sync"
)

// Config guards the current Settings generation and owns the transport.
type Config struct {
	mu         sync.RWMutex
	settings   Settings
	generation uint64

	client *http.Client
}

// Option customizes Config construction.
type Option func(*Config)

// WithTransport overrides the default HTTP client. The client must be safe for
// concurrent use; the standard library client is.
func WithTransport(client *http.Client) Option {
	return func(c *Config) {
		if client != nil {
			c.client = client
		}
	}
}

// New builds a Config seeded with the provided settings.
func New(settings Settings, opts ...Option) *Config {
	c := &Config{
		settings:   settings.Normalized(),
		generation: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.client == nil {
		c.client = newClient()
	}
	return c
}

// NewDefault builds a Config with DefaultSettings.
func NewDefault(opts ...Option) *Config {
	return New(DefaultSettings(), opts...)
}

// Snapshot returns a copy of the current settings.
func (c *Config) Snapshot() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Generation reports how many times settings have been published, starting at 1.
func (c *Config) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Apply publishes a complete new settings generation and returns its number.
func (c *Config) Apply(settings Settings) uint64 {
	settings = settings.Normalized()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = settings
	c.generation++
	return c.generation
}

// Update edits a copy of the current settings and publishes the result as one
// generation. fn runs while the exclusive lock is held and must not block.
func (c *Config) Update(fn func(*Settings)) Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.settings
	if fn != nil {
		fn(&next)
	}
	c.settings = next.Normalized()
	c.generation++
	return c.settings
}

// Transport returns the shared HTTP client.
func (c *Config) Transport() *http.Client {
	return c.client
}

func newClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	// Per-call deadlines come from the request context.
	return &http.Client{Transport: transport}
}
