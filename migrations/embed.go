package migrations

import "embed"

// FS holds the per-dialect schema migrations (sqlite/, postgres/).
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
