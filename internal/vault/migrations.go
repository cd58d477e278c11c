package vault

import (
	"database/sql"

	"github.com/HerbHall/relayscan/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create vault master and secret tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS vault_master (
						id          INTEGER PRIMARY KEY CHECK (id = 1),
						salt        BLOB NOT NULL,
						check_blob  BLOB NOT NULL,
						created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE IF NOT EXISTS vault_secrets (
						owner_id    TEXT PRIMARY KEY,
						wrapped_key BLOB NOT NULL,
						ciphertext  BLOB NOT NULL,
						updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
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
