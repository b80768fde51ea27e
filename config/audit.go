package config

import "fmt"

// AuditConfig defines the run audit log and its rotation. An empty Path
// disables auditing.
type AuditConfig struct {
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies rotation defaults when auditing is enabled.
func (c *AuditConfig) SetDefaults() {
	if c.Path == "" {
		return
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 3
	}
}

// Validate checks rotation settings.
func (c AuditConfig) Validate() error {
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("rotation settings must be non-negative")
	}
	return nil
}
