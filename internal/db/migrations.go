package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// flybyStreamColumns were added to activities_flyby in version 2.
var flybyStreamColumns = []string{"cadence", "speed", "power"}

// columnExists checks whether a column exists on a table
func (db *DB) columnExists(table, column string) (bool, error) {
	if db.dialect == DialectPostgres {
		var count int
		err := db.queryRow(`SELECT COUNT(*) FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?`,
			table, column).Scan(&count)
		return count > 0, err
	}

	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}

	return false, rows.Err()
}

// GetSchemaVersion returns the current schema version from the database
func (db *DB) GetSchemaVersion() (int, error) {
	var version string
	err := db.queryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err != nil {
		// No row yet, or the table does not exist: pre-migration.
		return 0, nil
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", version, err)
	}
	return v, nil
}

// setSchemaVersionInternal sets schema version without acquiring lock
func (db *DB) setSchemaVersionInternal(version int) error {
	_, err := db.exec(`INSERT INTO schema_info (key, value) VALUES ('version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, strconv.Itoa(version))
	return err
}

// RunMigrations runs any pending database migrations
func (db *DB) RunMigrations() (int, error) {
	// Quick check without lock - if already at current version, skip
	currentVersion, _ := db.GetSchemaVersion()
	if currentVersion >= SchemaVersion {
		return 0, nil
	}

	var migrationsRun int
	err := db.withWriteLock(func() error {
		var err error
		migrationsRun, err = db.runMigrationsInternal()
		return err
	})
	return migrationsRun, err
}

// runMigrationsInternal runs migrations without acquiring lock
func (db *DB) runMigrationsInternal() (int, error) {
	if err := db.execScript(schema); err != nil {
		return 0, fmt.Errorf("create schema: %w", err)
	}

	currentVersion, err := db.GetSchemaVersion()
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	if currentVersion == 0 {
		currentVersion = 1
	}

	migrationsRun := 0
	for _, migration := range Migrations {
		if migration.Version <= currentVersion {
			continue
		}
		if migration.Version == 2 {
			for _, col := range flybyStreamColumns {
				exists, err := db.columnExists("activities_flyby", col)
				if err != nil {
					return migrationsRun, fmt.Errorf("check column %s: %w", col, err)
				}
				if exists {
					continue
				}
				stmt := fmt.Sprintf("ALTER TABLE activities_flyby ADD COLUMN %s {{real}}", col)
				if err := db.execScript(stmt); err != nil {
					return migrationsRun, fmt.Errorf("migration 2 (add %s): %w", col, err)
				}
			}
		} else if migration.SQL != "" {
			if err := db.execScript(migration.SQL); err != nil {
				return migrationsRun, fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
			}
		}
		if err := db.setSchemaVersionInternal(migration.Version); err != nil {
			return migrationsRun, fmt.Errorf("set version %d: %w", migration.Version, err)
		}
		migrationsRun++
	}

	if err := db.setSchemaVersionInternal(SchemaVersion); err != nil {
		return migrationsRun, fmt.Errorf("set version %d: %w", SchemaVersion, err)
	}
	return migrationsRun, nil
}

// execScript runs a DDL template one statement at a time.
func (db *DB) execScript(tmpl string) error {
	for _, stmt := range strings.Split(db.dialect.ddl(tmpl), ";") {
		if strings.TrimSpace(stripComments(stmt)) == "" {
			continue
		}
		if _, err := db.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func stripComments(stmt string) string {
	var b strings.Builder
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
