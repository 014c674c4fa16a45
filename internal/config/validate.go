package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/streamline/internal/connection"
)

// Port ranges enforced for edits. The management endpoint is restricted to
// the range its server is allowed to bind.
const (
	MinDirectPort     = 1
	MaxDirectPort     = 65535
	MinManagementPort = 1000
	MaxManagementPort = 10000
)

// ValidatePort checks port against an inclusive range.
func ValidatePort(field string, port, min, max int) error {
	if port < min || port > max {
		return fmt.Errorf("config: %s port %d out of range %d-%d", field, port, min, max)
	}
	return nil
}

// ValidateSettings is the gate every edit passes before being published.
func ValidateSettings(s connection.Settings) error {
	switch strings.ToLower(strings.TrimSpace(s.Scheme)) {
	case "http", "https":
	default:
		return fmt.Errorf("config: scheme must be 'http' or 'https', got %q", s.Scheme)
	}
	if strings.TrimSpace(s.Direct.Host) == "" {
		return fmt.Errorf("config: direct host is required")
	}
	if strings.TrimSpace(s.Management.Host) == "" {
		return fmt.Errorf("config: management host is required")
	}
	if err := ValidatePort("direct", s.Direct.Port, MinDirectPort, MaxDirectPort); err != nil {
		return err
	}
	if err := ValidatePort("management", s.Management.Port, MinManagementPort, MaxManagementPort); err != nil {
		return err
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive")
	}
	return nil
}

// applyEnvOverrides layers STREAMLINE_* variables over the file values.
// Unparseable values are ignored.
func (pc *ProjectConfig) applyEnvOverrides() {
	if pc == nil {
		return
	}
	if host := strings.TrimSpace(os.Getenv("STREAMLINE_DIRECT_HOST")); host != "" {
		pc.Direct.Host = host
	}
	if port, ok := envPort("STREAMLINE_DIRECT_PORT", MinDirectPort, MaxDirectPort); ok {
		pc.Direct.Port = port
	}
	if host := strings.TrimSpace(os.Getenv("STREAMLINE_MANAGEMENT_HOST")); host != "" {
		pc.Management.Host = host
	}
	if port, ok := envPort("STREAMLINE_MANAGEMENT_PORT", MinManagementPort, MaxManagementPort); ok {
		pc.Management.Port = port
	}
	if value := strings.TrimSpace(os.Getenv("STREAMLINE_TIMEOUT")); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			pc.Timeout = d.String()
		}
	}
}

func envPort(key string, min, max int) (int, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, false
	}
	port, err := strconv.Atoi(value)
	if err != nil || ValidatePort(key, port, min, max) != nil {
		return 0, false
	}
	return port, true
}
