// Package database provides the SQLite store behind presence history.
//
// It manages the connection (WAL mode, busy timeout, single writer) and
// applies the schema registered by the migrations package. Each
// YYYYMMDD_HHMMSS_name.up.sql may have a matching .down.sql; a Migrator
// applies them oldest first and reverts them newest first, one
// transaction per migration, so a failure leaves earlier ones committed.
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// "pipresencemon db" exposes Status, Up and Down for operators.
//
// The database file is created with mode 0600.
package database
