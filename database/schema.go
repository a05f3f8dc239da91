package database

import (
	"fmt"

	"github.com/lib/pq"

	"content-regions/config"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id          BIGSERIAL PRIMARY KEY,
	parent_type TEXT        NOT NULL,
	parent_id   TEXT        NOT NULL,
	region      TEXT        NOT NULL,
	position    INTEGER     NOT NULL,
	kind        TEXT        NOT NULL,
	payload     JSONB       NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	modified_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (parent_type, parent_id, region, position);
`

// Positions are allowed to dip to zero mid transaction while a region is
// compacted, so there is no CHECK on position.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_type TEXT    NOT NULL,
	parent_id   TEXT    NOT NULL,
	region      TEXT    NOT NULL,
	position    INTEGER NOT NULL,
	kind        TEXT    NOT NULL,
	payload     TEXT    NOT NULL DEFAULT '{}',
	created_at  INTEGER NOT NULL,
	modified_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (parent_type, parent_id, region, position);
`

// quoteTable quotes a configurable table name. The quoting rules are shared
// by PostgreSQL and SQLite.
func quoteTable(table string) string {
	return pq.QuoteIdentifier(table)
}

func indexName(table string) string {
	return pq.QuoteIdentifier(table + "_parent_region_idx")
}

// Schema returns the DDL creating the chunk table for the given driver
func Schema(driver, table string) (string, error) {
	switch driver {
	case config.DriverPostgres:
		return fmt.Sprintf(postgresSchema, quoteTable(table), indexName(table)), nil
	case config.DriverSQLite:
		return fmt.Sprintf(sqliteSchema, quoteTable(table), indexName(table)), nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}
