// Package migrations embeds the SQL schema so the binaries can apply it
// without files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
