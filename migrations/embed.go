// Package migrations holds the schema, applied by `theatre-scheduler migrate up`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
