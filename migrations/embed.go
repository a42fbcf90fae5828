// Package migrations embeds the SQL schema for the purchase archive.
package migrations

import "embed"

// FS holds every up migration, applied in file name order.
//
//go:embed *.up.sql
var FS embed.FS
