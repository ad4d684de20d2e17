package migrations

import "embed"

// FS contains embedded PostgreSQL migrations for the event store.
//
//go:embed *.sql
var FS embed.FS
