// Package factory instantiates pluggable backends (stores, metrics sinks)
// from configuration. A backend is selected by a type string and receives a
// map of raw settings which it decodes into its own typed struct:
//
//	reg := factory.NewRegistry[store.Store]()
//	reg.Register("sqlite", func(conf map[string]any) (store.Store, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return OpenSQLite(c.Path)
//	})
//	st, err := reg.Create(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "scenario.db"}})
package factory
