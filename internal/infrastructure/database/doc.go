// Package database provides SQLite connectivity for the Homeworks device
// registry.
//
// This package manages:
//   - Database connection with WAL mode for concurrent reads
//   - Forward-only schema migrations embedded into the binary
//   - Connection lifecycle and health checks
//
// Security considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only: new columns must be NULLABLE or have
// DEFAULT values, and columns are never dropped or renamed.
package database
