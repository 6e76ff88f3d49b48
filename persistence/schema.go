package persistence

import (
	"context"
	"fmt"
	"strings"
)

// SQLiteSchema creates the retail tables and the key counter used with
// keyalloc.SQLiteSequenceQuery. It is applied for local runs and tests.
var SQLiteSchema = []string{
	`CREATE TABLE IF NOT EXISTS pkgenerator (v INTEGER NOT NULL)`,
	`INSERT INTO pkgenerator (v) SELECT 0 WHERE NOT EXISTS (SELECT 1 FROM pkgenerator)`,
	`CREATE TABLE IF NOT EXISTS bttlrs (` + uploadableColumns + `,
		name TEXT NOT NULL UNIQUE)`,
	`CREATE TABLE IF NOT EXISTS bttlrbrchs (` + uploadableColumns + `,
		name TEXT NOT NULL UNIQUE)`,
	`CREATE TABLE IF NOT EXISTS dstbdstrcts (` + uploadableColumns + `,
		name TEXT NOT NULL, id INTEGER NOT NULL UNIQUE, cd TEXT)`,
	`CREATE TABLE IF NOT EXISTS stores (` + uploadableColumns + `,
		name TEXT NOT NULL, id INTEGER NOT NULL UNIQUE,
		address TEXT, city TEXT, state TEXT, zip TEXT)`,
	`CREATE TABLE IF NOT EXISTS prdctctgrs (` + uploadableColumns + `,
		name TEXT NOT NULL, id INTEGER NOT NULL UNIQUE)`,
	`CREATE TABLE IF NOT EXISTS bttlrstobttlrbrchs (` + uploadableColumns + `,
		bottler INTEGER NOT NULL REFERENCES bttlrs(primarykey),
		bottlerbranch INTEGER NOT NULL REFERENCES bttlrbrchs(primarykey),
		UNIQUE (bottler, bottlerbranch))`,
	`CREATE TABLE IF NOT EXISTS bttlrbrchstostores (` + uploadableColumns + `,
		bottlerbranch INTEGER NOT NULL REFERENCES bttlrbrchs(primarykey),
		store INTEGER NOT NULL REFERENCES stores(primarykey),
		UNIQUE (bottlerbranch, store))`,
	`CREATE TABLE IF NOT EXISTS dstbdstrctstostores (` + uploadableColumns + `,
		distributordistrict INTEGER NOT NULL REFERENCES dstbdstrcts(primarykey),
		store INTEGER NOT NULL REFERENCES stores(primarykey),
		UNIQUE (distributordistrict, store))`,
}

const uploadableColumns = `
		primarykey INTEGER PRIMARY KEY,
		metaflags INTEGER NOT NULL DEFAULT 0,
		timecreated TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		timelastuploaded TIMESTAMP`

// ApplySchema runs every statement of schema on q
func ApplySchema(ctx context.Context, q Querier, schema []string) error {
	for _, stmt := range schema {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
