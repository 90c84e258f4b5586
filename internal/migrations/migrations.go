package migrations

import _ "embed"

//go:embed schema.sql
var initialSchema string

// GetInitialSchema returns the initial database schema. The schema is
// embedded so the binary carries it regardless of working directory.
func GetInitialSchema() string {
	return initialSchema
}
