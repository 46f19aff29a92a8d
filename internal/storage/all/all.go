// Package all registers every storage backend.
package all

import (
	_ "spotlx/internal/storage/mssql"
	_ "spotlx/internal/storage/postgres"
	_ "spotlx/internal/storage/sqlite"
)
