package counter

import (
	"database/sql"

	"github.com/HerbHall/tally/pkg/plugin"
)

// migrations returns the counter module's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create delta journal",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS counter_deltas (
						id           INTEGER PRIMARY KEY AUTOINCREMENT,
						session_id   TEXT NOT NULL,
						value        REAL NOT NULL,
						baseline     REAL NOT NULL DEFAULT 0,
						action       TEXT NOT NULL,
						category_id  INTEGER,
						estimate     REAL NOT NULL DEFAULT 0,
						score        REAL,
						total        REAL NOT NULL DEFAULT 0,
						created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_counter_deltas_created ON counter_deltas(created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_counter_deltas_session ON counter_deltas(session_id)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
