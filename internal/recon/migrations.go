package recon

import (
	"database/sql"

	"github.com/HerbHall/relayscan/pkg/plugin"
)

// migrations returns the Recon module's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create customers, devices, scan runs and snapshots",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE recon_customers (
						id          TEXT PRIMARY KEY,
						name        TEXT NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						subnet      TEXT NOT NULL DEFAULT '',
						contact     TEXT NOT NULL DEFAULT '',
						wifi_ssid   TEXT NOT NULL DEFAULT '',
						created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE recon_devices (
						id                TEXT PRIMARY KEY,
						customer_id       TEXT NOT NULL REFERENCES recon_customers(id) ON DELETE CASCADE,
						device_identifier TEXT NOT NULL,
						mac               TEXT NOT NULL DEFAULT '',
						model             TEXT NOT NULL DEFAULT '',
						hostname          TEXT NOT NULL DEFAULT '',
						last_ip           TEXT NOT NULL DEFAULT '',
						firmware_version  TEXT NOT NULL DEFAULT '',
						wifi_ssid         TEXT NOT NULL DEFAULT '',
						rssi              INTEGER,
						install_date      DATETIME,
						uptime_seconds    INTEGER,
						status            TEXT NOT NULL DEFAULT 'online',
						last_seen         DATETIME,
						last_snapshot_id  TEXT NOT NULL DEFAULT '',
						app               TEXT NOT NULL DEFAULT '',
						generation        TEXT NOT NULL DEFAULT '',
						created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (customer_id, device_identifier)
					)`,
					`CREATE INDEX idx_recon_devices_mac ON recon_devices(customer_id, mac)`,
					`CREATE TABLE recon_scan_runs (
						id            TEXT PRIMARY KEY,
						customer_id   TEXT NOT NULL REFERENCES recon_customers(id) ON DELETE CASCADE,
						started_at    DATETIME NOT NULL,
						completed_at  DATETIME,
						total_devices INTEGER NOT NULL DEFAULT 0,
						notes         TEXT NOT NULL DEFAULT '',
						status        TEXT NOT NULL DEFAULT 'running',
						error_msg     TEXT NOT NULL DEFAULT ''
					)`,
					`CREATE INDEX idx_recon_scan_runs_customer ON recon_scan_runs(customer_id, started_at)`,
					`CREATE TABLE recon_snapshots (
						id                TEXT PRIMARY KEY,
						scan_run_id       TEXT NOT NULL REFERENCES recon_scan_runs(id) ON DELETE CASCADE,
						customer_id       TEXT NOT NULL,
						device_id         TEXT,
						device_identifier TEXT NOT NULL,
						ip                TEXT NOT NULL DEFAULT '',
						mac               TEXT NOT NULL DEFAULT '',
						hostname          TEXT NOT NULL DEFAULT '',
						model             TEXT NOT NULL DEFAULT '',
						firmware_version  TEXT NOT NULL DEFAULT '',
						wifi_ssid         TEXT NOT NULL DEFAULT '',
						rssi              INTEGER,
						install_date      DATETIME,
						uptime_seconds    INTEGER,
						app               TEXT NOT NULL DEFAULT '',
						generation        TEXT NOT NULL DEFAULT '',
						is_online         INTEGER NOT NULL,
						diff_status       TEXT NOT NULL,
						raw_payload       TEXT NOT NULL DEFAULT '{}',
						created_at        DATETIME NOT NULL
					)`,
					`CREATE INDEX idx_recon_snapshots_identity ON recon_snapshots(customer_id, device_identifier, created_at)`,
					`CREATE INDEX idx_recon_snapshots_mac ON recon_snapshots(customer_id, mac, created_at)`,
					`CREATE INDEX idx_recon_snapshots_run ON recon_snapshots(scan_run_id)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version:     2,
			Description: "create recon_settings key/value table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS recon_settings (
					key        TEXT PRIMARY KEY,
					value      TEXT NOT NULL,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`)
				return err
			},
		},
	}
}
