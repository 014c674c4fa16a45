package connection

import (
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHost is the loopback name used when no host override is provided.
	DefaultHost = "localhost"
	// DefaultDirectPort is the default port of the direct evaluation endpoint.
	DefaultDirectPort = 7869
	// DefaultManagementPort is the default port of the block/module management endpoint.
	DefaultManagementPort = 8080
	// DefaultScheme is the URL scheme used for both endpoints.
	DefaultScheme = "http"
	// DefaultTimeout bounds every protocol call.
	DefaultTimeout = 10 * time.Second
)

// Endpoint is a host/port pair for one remote service.
type Endpoint struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// Address returns the endpoint in host:port form.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Settings is one complete generation of connection parameters. It is a plain
// value: readers hold a copy, writers publish a new one through Config.
type Settings struct {
	Scheme     string
	Direct     Endpoint
	Management Endpoint
	Timeout    time.Duration
}

// DefaultSettings returns the settings used at process start.
func DefaultSettings() Settings {
	return Settings{
		Scheme:     DefaultScheme,
		Direct:     Endpoint{Host: DefaultHost, Port: DefaultDirectPort},
		Management: Endpoint{Host: DefaultHost, Port: DefaultManagementPort},
		Timeout:    DefaultTimeout,
	}
}

// DirectURL builds the URL for a route on the direct evaluation endpoint.
func (s Settings) DirectURL(route string) string {
	return s.url(s.Direct, route)
}

// ManagementURL builds the URL for a route on the management endpoint.
func (s Settings) ManagementURL(route string) string {
	return s.url(s.Management, route)
}

func (s Settings) url(ep Endpoint, route string) string {
	return s.Scheme + "://" + ep.Address() + "/" + strings.TrimLeft(route, "/")
}

// Normalized fills blank fields with defaults. Ports are left alone; range
// checks belong to whoever edits the settings.
func (s Settings) Normalized() Settings {
	s.Scheme = strings.ToLower(strings.TrimSpace(s.Scheme))
	if s.Scheme == "" {
		s.Scheme = DefaultScheme
	}
	s.Direct.Host = strings.TrimSpace(s.Direct.Host)
	if s.Direct.Host == "" {
		s.Direct.Host = DefaultHost
	}
	s.Management.Host = strings.TrimSpace(s.Management.Host)
	if s.Management.Host == "" {
		s.Management.Host = DefaultHost
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	return s
}
