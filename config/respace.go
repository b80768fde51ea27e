package config

import (
	"fmt"

	"github.com/kilianp07/lifespan/core/lifetime"
)

// RespaceConfig holds the settings of a respacing run.
type RespaceConfig struct {
	// DampingFactor scales the last known value when linear extrapolation
	// would flip a non-negative series negative.
	DampingFactor *float64 `json:"damping_factor"`
	// Preserve keeps observations outside the operating window.
	Preserve bool `json:"preserve"`
	// Boundary is the retirement tie-break policy: "expiry" or "strict".
	// With lifetimes that do not land on a period boundary, "expiry" keeps
	// the period in which the lifetime runs out, so the last activity year
	// may lie past the lifetime. "strict" stops at the last year whose
	// cumulative duration stays within it.
	Boundary string `json:"boundary"`
	// Workers bounds the number of nodes processed concurrently.
	Workers int `json:"workers"`
	// Check runs the consistency validator on two-axis results.
	Check *bool `json:"validate"`
	// Parameters lists the parameter tables respaced per run.
	Parameters        []string `json:"parameters"`
	LifetimeParameter string   `json:"lifetime_parameter"`
}

// SetDefaults applies sane defaults.
func (c *RespaceConfig) SetDefaults() {
	if c.DampingFactor == nil {
		d := 0.5
		c.DampingFactor = &d
	}
	if c.Boundary == "" {
		c.Boundary = lifetime.Expiry.String()
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Check == nil {
		v := true
		c.Check = &v
	}
	if c.LifetimeParameter == "" {
		c.LifetimeParameter = "technical_lifetime"
	}
}

// Damping returns the configured damping factor.
func (c RespaceConfig) Damping() float64 {
	if c.DampingFactor == nil {
		return 0.5
	}
	return *c.DampingFactor
}

// ValidateGrids reports whether two-axis results are validated.
func (c RespaceConfig) ValidateGrids() bool {
	return c.Check == nil || *c.Check
}

// Validate checks value ranges.
func (c RespaceConfig) Validate() error {
	if d := c.Damping(); d < 0 || d > 1 {
		return fmt.Errorf("damping_factor %v outside [0,1]", d)
	}
	if _, err := lifetime.ParseBoundary(c.Boundary); err != nil {
		return err
	}
	for _, p := range c.Parameters {
		if p == c.LifetimeParameter {
			return fmt.Errorf("parameter %s is the lifetime table", p)
		}
	}
	return nil
}
