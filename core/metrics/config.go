package metrics

import "github.com/kilianp07/lifespan/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// Textfile, when set, receives the Prometheus registry in the textfile
	// collector format at the end of each run.
	Textfile string `json:"textfile"`
}
