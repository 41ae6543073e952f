package config

import (
	"fmt"
	"os"

	"github.com/apthunt/harvester/models"
	"github.com/goccy/go-yaml"
)

// Pools holds the identity rotation material loaded from pools.yaml.
// Missing sections keep the built-in defaults.
type Pools struct {
	UserAgents []WeightedUserAgent `yaml:"user_agents"`
	Referers   []string            `yaml:"referers"`
	Proxies    []string            `yaml:"proxies"`
	Viewports  []models.Viewport   `yaml:"viewports"`
	Timezones  []string            `yaml:"timezones"`
	// Block markers supplement (not replace) the defaults.
	BlockMarkers []string `yaml:"block_markers"`
}

// LoadPools reads an identity pools file. A missing file is not an
// error; it returns empty pools so defaults apply.
func LoadPools(path string) (*Pools, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Pools{}, nil
		}
		return nil, fmt.Errorf("read pools file: %w", err)
	}

	var pools Pools
	if err := yaml.Unmarshal(raw, &pools); err != nil {
		return nil, fmt.Errorf("parse pools file: %w", err)
	}
	return &pools, nil
}

// Apply folds loaded pools into the configuration.
func (p *Pools) Apply(cfg *Config) {
	if len(p.UserAgents) > 0 {
		cfg.UserAgents = p.UserAgents
	}
	if len(p.Referers) > 0 {
		cfg.Referers = p.Referers
	}
	if len(p.Proxies) > 0 {
		cfg.Proxies = p.Proxies
	}
	cfg.BlockMarkers = append(cfg.BlockMarkers, p.BlockMarkers...)
}

// DefaultViewports are used when the pools file supplies none.
var DefaultViewports = []models.Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1536, Height: 864},
	{Width: 1440, Height: 900},
	{Width: 1366, Height: 768},
}

// DefaultTimezones are used when the pools file supplies none.
var DefaultTimezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Los_Angeles",
}

// Viewports returns the loaded pool or the defaults.
func (p *Pools) ViewportPool() []models.Viewport {
	if len(p.Viewports) > 0 {
		return p.Viewports
	}
	return DefaultViewports
}

// TimezonePool returns the loaded pool or the defaults.
func (p *Pools) TimezonePool() []string {
	if len(p.Timezones) > 0 {
		return p.Timezones
	}
	return DefaultTimezones
}
