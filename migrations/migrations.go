// Package migrations ships the goose-annotated SQL schema applied by database.Migrate.
package migrations

import "embed"

// FS holds the versioned *.sql files, named <version>_<name>.sql.
//
//go:embed *.sql
var FS embed.FS
