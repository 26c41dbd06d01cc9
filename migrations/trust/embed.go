// Package migrations embeds the goose SQL migration files for the trust
// store so the daemon binary carries its schema with no external files to
// deploy.
package migrations

import "embed"

//go:embed all:*.sql
var FS embed.FS
