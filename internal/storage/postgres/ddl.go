package postgres

import (
	"fmt"
	"strings"

	"spotlx/internal/storage"
)

// statisticsTarget is the per-column sample size used before index builds.
const statisticsTarget = 1000

// textSearchConfig is the configuration of full-text indexes.
const textSearchConfig = "english"

// pgIdent double-quotes an identifier, doubling embedded quotes.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// pgColumnType maps a logical column type to Postgres.
func pgColumnType(c storage.ColumnSpec) (string, error) {
	switch c.Type {
	case storage.ColumnVarchar:
		if c.Length <= 0 {
			return "", fmt.Errorf("column %s: varchar needs a length", c.Name)
		}
		return fmt.Sprintf("VARCHAR(%d)", c.Length), nil
	case storage.ColumnText:
		return "TEXT", nil
	case storage.ColumnTimestamp:
		return "TIMESTAMP WITH TIME ZONE", nil
	case storage.ColumnFloat:
		return "DOUBLE PRECISION", nil
	default:
		return "", fmt.Errorf("column %s: unsupported type %d", c.Name, c.Type)
	}
}

// buildCreateTableSQL renders the DDL of a fact table.
//
// Why this exists:
//   - It is pure and deterministic, so quoting and types can be unit tested
//     without a database.
func buildCreateTableSQL(table string, columns []storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("postgres: table name is empty")
	}
	if len(columns) == 0 {
		return "", errNoColumns
	}
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		typ, err := pgColumnType(c)
		if err != nil {
			return "", fmt.Errorf("postgres: table %s: %w", table, err)
		}
		def := pgIdent(c.Name) + " " + typ
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, pgIdent(table), strings.Join(defs, ", ")), nil
}

func indexKeyPart(c storage.IndexColumn) string {
	if c.Lower {
		return "lower(" + pgIdent(c.Name) + ")"
	}
	return pgIdent(c.Name)
}

// buildIndexSQL renders one catalog entry.
//
//   - btree:     CREATE INDEX IF NOT EXISTS "n" ON "t" ("a", lower("b"))
//   - fulltext:  ... USING GIN (to_tsvector('english', "a"))
//   - spatial:   ... USING GIST (ST_SetSRID(ST_MakePoint("lon", "lat"), 4326))
func buildIndexSQL(table string, idx storage.IndexSpec) (string, bool) {
	if idx.Name == "" || len(idx.Columns) == 0 {
		return "", false
	}
	head := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s`, pgIdent(idx.Name), pgIdent(table))

	switch idx.Kind {
	case storage.IndexBTree:
		parts := make([]string, len(idx.Columns))
		for i, c := range idx.Columns {
			parts[i] = indexKeyPart(c)
		}
		return head + " (" + strings.Join(parts, ", ") + ")", true

	case storage.IndexFullText:
		doc := pgIdent(idx.Columns[0].Name)
		if len(idx.Columns) > 1 {
			parts := make([]string, len(idx.Columns))
			for i, c := range idx.Columns {
				parts[i] = fmt.Sprintf("coalesce(%s, '')", pgIdent(c.Name))
			}
			doc = strings.Join(parts, " || ' ' || ")
		}
		return fmt.Sprintf("%s USING GIN (to_tsvector('%s', %s))", head, textSearchConfig, doc), true

	case storage.IndexSpatial:
		if len(idx.Columns) != 2 {
			return "", false
		}
		// key parts are (longitude, latitude)
		return fmt.Sprintf("%s USING GIST (ST_SetSRID(ST_MakePoint(%s, %s), 4326))",
			head, pgIdent(idx.Columns[0].Name), pgIdent(idx.Columns[1].Name)), true
	}
	return "", false
}

func buildStatisticsSQL(table string, columns []string) []string {
	out := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		out = append(out, fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN %s SET STATISTICS %d`,
			pgIdent(table), pgIdent(c), statisticsTarget))
	}
	return append(out, `VACUUM ANALYZE `+pgIdent(table))
}
