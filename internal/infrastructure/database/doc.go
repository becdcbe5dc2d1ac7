// Package database owns the SQLite file behind the relay's run history.
//
// Open configures go-sqlite3 for a single writer (one pooled connection,
// immediate transactions, optional WAL) and restricts the file to its
// owner, since runs record the profiled command line. Migrations are read
// from any fs.FS; the migrations package embeds the production set.
//
// Migration files are named YYYYMMDD_HHMMSS_name.up.sql with an optional
// matching .down.sql. Keep them additive: new columns must be nullable or
// carry a default.
package database
