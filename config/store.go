package config

import (
	"fmt"

	"github.com/kilianp07/lifespan/core/factory"
)

// StoreConfig selects the scenario store backend.
type StoreConfig struct {
	Type string         `json:"type"`
	Conf map[string]any `json:"conf"`
}

// Module returns the factory configuration of the backend.
func (c StoreConfig) Module() factory.ModuleConfig {
	return factory.ModuleConfig{Type: c.Type, Conf: c.Conf}
}

// SetDefaults uses the in-memory backend when none is configured.
func (c *StoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "memory"
	}
}

// Validate checks backend specific fields.
func (c StoreConfig) Validate() error {
	if c.Type == "sqlite" {
		if p, _ := c.Conf["path"].(string); p == "" {
			return fmt.Errorf("sqlite store requires conf.path")
		}
	}
	return nil
}
