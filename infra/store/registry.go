package store

import (
	"context"
	"fmt"

	"github.com/kilianp07/lifespan/core/factory"
	"github.com/kilianp07/lifespan/core/model"
	corestore "github.com/kilianp07/lifespan/core/store"
)

// Admin seeds a scenario. Both built-in backends implement it.
type Admin interface {
	corestore.Store
	SetHorizon(ctx context.Context, years []int, durations map[int]int) error
	DefineParameter(ctx context.Context, schema model.Schema) error
	SetValidPairs(ctx context.Context, node, tech string, pairs []model.Pair) error
	Seed(ctx context.Context, name string, rows []model.Row) error
}

var backends = factory.NewRegistry[corestore.Store]()

// init registers the built-in backends.
func init() {
	_ = backends.Register("memory", func(map[string]any) (corestore.Store, error) {
		return NewMemoryStore(), nil
	})
	_ = backends.Register("sqlite", func(conf map[string]any) (corestore.Store, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" {
			return nil, fmt.Errorf("sqlite store: path is required")
		}
		return NewSQLiteStore(c.Path)
	})
}

// Register adds a custom backend.
func Register(name string, f factory.Factory[corestore.Store]) error {
	return backends.Register(name, f)
}

// Open instantiates the backend selected by cfg.
func Open(cfg factory.ModuleConfig) (corestore.Store, error) {
	return backends.Create(cfg)
}
