// Package dbmigrations exposes the embedded SQL migrations for the ledger schema.
package dbmigrations

import "embed"

// Files contains the SQL migrations bundled into the binaries.
//
//go:embed *.sql
var Files embed.FS
