// Package store persists the Homeworks device registry in SQLite.
//
// The store holds the configured CCO relay outputs and dimmer zones. On
// startup the registry is loaded and registered with the derivation
// engine; edits made through the HTTP API are written back here so they
// survive restarts.
//
// Devices defined in config.yaml are seeded into the store on first run
// and are matched by address, so repeated startups do not duplicate them.
//
// Usage:
//
//	st := store.New(db)
//	devices, err := st.ListCCO(ctx)
//	for _, d := range devices {
//	    engine.RegisterCCO(d)
//	}
package store
