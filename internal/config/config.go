package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config holds the proxy2vpn settings.
type Config struct {
	// Document settings
	ComposeFile string

	// Catalog settings
	CacheDir        string
	ServerListURL   string
	CatalogTTLHours int

	// Runtime settings
	DockerNetwork       string
	MaxConcurrentStarts int

	// Port settings
	ControlPortBase  int
	ControlPortRange int
}

// Load reads the global config (~/.proxy2vpn/config), then the per-project
// override (./.proxy2vpn.config), on top of the defaults.
func Load() (*Config, error) {
	cfg := &Config{
		// Set defaults
		ComposeFile:         "compose.yaml",
		ServerListURL:       "https://raw.githubusercontent.com/qdm12/gluetun/master/internal/storage/servers.json",
		CatalogTTLHours:     24,
		DockerNetwork:       "proxy2vpn_network",
		MaxConcurrentStarts: 5,
		ControlPortBase:     31000,
		ControlPortRange:    1000,
	}

	home, err := os.UserHomeDir()
	if err == nil {
		cfg.CacheDir = filepath.Join(home, ".proxy2vpn", "cache")
		globalConfigPath := filepath.Join(home, ".proxy2vpn", "config")
		if _, err := os.Stat(globalConfigPath); err == nil {
			if err := loadConfigFile(globalConfigPath, cfg); err != nil {
				return nil, fmt.Errorf("failed to load global config: %w", err)
			}
		}
	}

	// Per-project overrides have the highest priority
	if _, err := os.Stat(".proxy2vpn.config"); err == nil {
		if err := loadConfigFile(".proxy2vpn.config", cfg); err != nil {
			return nil, fmt.Errorf("failed to load .proxy2vpn.config: %w", err)
		}
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile parses a bash-style config file
func loadConfigFile(filename string, cfg *Config) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	// Regex to match KEY="value" or KEY=value
	re := regexp.MustCompile(`^([A-Z_]+)=(.*)$`)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		matches := re.FindStringSubmatch(line)
		if matches == nil {
			continue
		}

		key := matches[1]
		value := strings.Trim(matches[2], `"'`)

		switch key {
		case "COMPOSE_FILE":
			cfg.ComposeFile = value
		case "CACHE_DIR":
			cfg.CacheDir = value
		case "SERVER_LIST_URL":
			cfg.ServerListURL = value
		case "CATALOG_TTL_HOURS":
			_, _ = fmt.Sscanf(value, "%d", &cfg.CatalogTTLHours)
		case "DOCKER_NETWORK":
			cfg.DockerNetwork = value
		case "MAX_CONCURRENT_STARTS":
			_, _ = fmt.Sscanf(value, "%d", &cfg.MaxConcurrentStarts)
		case "CONTROL_PORT_BASE":
			_, _ = fmt.Sscanf(value, "%d", &cfg.ControlPortBase)
		case "CONTROL_PORT_RANGE":
			_, _ = fmt.Sscanf(value, "%d", &cfg.ControlPortRange)
		}
	}

	return scanner.Err()
}

// expandPaths expands tildes in file paths.
func (c *Config) expandPaths() error {
	for _, path := range []*string{&c.ComposeFile, &c.CacheDir} {
		if !strings.HasPrefix(*path, "~") {
			continue
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to expand ~ in %s: %w", *path, err)
		}
		*path = strings.Replace(*path, "~", home, 1)
	}
	return nil
}

// Validate checks the numeric settings are usable.
func (c *Config) Validate() error {
	if c.ComposeFile == "" {
		return fmt.Errorf("COMPOSE_FILE must not be empty")
	}
	if c.MaxConcurrentStarts < 1 {
		return fmt.Errorf("MAX_CONCURRENT_STARTS must be at least 1, got %d", c.MaxConcurrentStarts)
	}
	if c.CatalogTTLHours < 1 {
		return fmt.Errorf("CATALOG_TTL_HOURS must be at least 1, got %d", c.CatalogTTLHours)
	}
	if c.ControlPortBase < 1024 || c.ControlPortBase > 65535 {
		return fmt.Errorf("CONTROL_PORT_BASE must be between 1024 and 65535, got %d", c.ControlPortBase)
	}
	if c.ControlPortRange < 1 || c.ControlPortBase+c.ControlPortRange-1 > 65535 {
		return fmt.Errorf("CONTROL_PORT_RANGE %d does not fit above base %d", c.ControlPortRange, c.ControlPortBase)
	}
	return nil
}
