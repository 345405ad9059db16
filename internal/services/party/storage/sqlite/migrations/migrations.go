// Package migrations embeds the character store schema files.
package migrations

import "embed"

// FS holds the embedded SQL migrations.
//
//go:embed *.sql
var FS embed.FS
