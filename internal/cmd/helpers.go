package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/proxy2vpn/proxy2vpn/internal/catalog"
	"github.com/proxy2vpn/proxy2vpn/internal/compose"
	"github.com/proxy2vpn/proxy2vpn/internal/config"
	"github.com/proxy2vpn/proxy2vpn/internal/fleet"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*compose.Store, error) {
	store, err := compose.Load(cfg.ComposeFile, compose.Options{
		ControlPortBase:  cfg.ControlPortBase,
		ControlPortRange: cfg.ControlPortRange,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load compose document: %w", err)
	}
	return store, nil
}

func openCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	cat, err := catalog.Open(cfg.CacheDir, cfg.ServerListURL, time.Duration(cfg.CatalogTTLHours)*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("failed to open server catalog: %w", err)
	}
	return cat, nil
}

// parseKeyValues parses repeated KEY=value flags.
func parseKeyValues(items []string) (map[string]string, error) {
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected KEY=value, got %q", item)
		}
		out[k] = v
	}
	return out, nil
}

// parseCapacities parses repeated name=slots flags, preserving declaration
// order.
func parseCapacities(items []string) ([]fleet.Capacity, error) {
	out := make([]fleet.Capacity, 0, len(items))
	for _, item := range items {
		name, slots, ok := strings.Cut(item, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected profile=slots, got %q", item)
		}
		n, err := strconv.Atoi(slots)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("profile %q needs a positive slot count, got %q", name, slots)
		}
		out = append(out, fleet.Capacity{Profile: name, Slots: n})
	}
	return out, nil
}
