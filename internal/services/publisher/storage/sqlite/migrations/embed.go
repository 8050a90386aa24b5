package migrations

import "embed"

// FS contains embedded SQLite migrations for publisher storage.
//
//go:embed *.sql
var FS embed.FS
