// Package database provides SQLite connectivity for Solar Controller Core.
//
// This package manages:
//   - Opening the database with foreign keys, busy timeout and optional WAL
//   - Versioned schema migrations read from an fs.FS
//   - Scoped transactions via WithTx
//   - Fixed-width UTC timestamp encoding (FormatTime, ParseTime)
//
// The pool is limited to one connection. Code running inside WithTx must use
// the transaction handle exclusively.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
