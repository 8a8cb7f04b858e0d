// Package database provides the SQLite store backing event history.
//
// It opens the database in WAL mode so history reads do not block the
// single writer, and applies embedded schema migrations on startup:
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
// Migration files live in the migrations package and are named
// <version>_<name>.up.sql with a matching .down.sql. Migrations are
// additive-only; new columns must be nullable or carry a default.
package database
