package control

import (
	"database/sql"

	"github.com/HerbHall/relayscan/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create action log",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS control_action_logs (
						id         TEXT PRIMARY KEY,
						device_id  TEXT NOT NULL,
						action     TEXT NOT NULL,
						payload    TEXT,
						result     TEXT,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_control_action_logs_device ON control_action_logs(device_id, created_at)`,
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
