package migrations

import "embed"

// FS содержит встроенные миграции SQLite
//
//go:embed *.sql
var FS embed.FS
