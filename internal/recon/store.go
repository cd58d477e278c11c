package recon

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/relayscan/pkg/models"
	"github.com/google/uuid"
)

// querier is the subset of *sql.DB and *sql.Tx the store needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ReconStore provides database operations for the Recon module.
type ReconStore struct {
	db *sql.DB
	q  querier
}

// NewReconStore creates a new ReconStore backed by the given database.
func NewReconStore(db *sql.DB) *ReconStore {
	return &ReconStore{db: db, q: db}
}

// WithTx runs fn against a store bound to a single transaction. The
// transaction commits when fn returns nil.
func (s *ReconStore) WithTx(ctx context.Context, fn func(tx *ReconStore) error) error {
	if s.db == nil {
		// Already inside a transaction.
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&ReconStore{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- Customers ---

// CreateCustomer inserts c, assigning an ID when empty.
func (s *ReconStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO recon_customers (id, name, description, subnet, contact, wifi_ssid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, c.Subnet, c.Contact, c.WifiSSID, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

// GetCustomer returns a customer by ID, or models.ErrNotFound.
func (s *ReconStore) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var c models.Customer
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, description, subnet, contact, wifi_ssid, created_at, updated_at
		FROM recon_customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Description, &c.Subnet, &c.Contact, &c.WifiSSID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

// ListCustomers returns all customers ordered by name.
func (s *ReconStore) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, description, subnet, contact, wifi_ssid, created_at, updated_at
		FROM recon_customers ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var out []models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Subnet, &c.Contact, &c.WifiSSID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan customer row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCustomer overwrites the editable fields of c.
func (s *ReconStore) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx, `
		UPDATE recon_customers SET name = ?, description = ?, subnet = ?, contact = ?, wifi_ssid = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Description, c.Subnet, c.Contact, c.WifiSSID, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	return expectRow(res, "customer", c.ID)
}

// DeleteCustomer removes a customer together with its devices, runs and
// snapshots.
func (s *ReconStore) DeleteCustomer(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *ReconStore) error {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM recon_snapshots WHERE customer_id = ?`, id); err != nil {
			return fmt.Errorf("delete customer snapshots: %w", err)
		}
		res, err := tx.q.ExecContext(ctx, `DELETE FROM recon_customers WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete customer: %w", err)
		}
		return expectRow(res, "customer", id)
	})
}

// --- Devices ---

const deviceColumns = `id, customer_id, device_identifier, mac, model, hostname, last_ip,
	firmware_version, wifi_ssid, rssi, install_date, uptime_seconds, status, last_seen,
	last_snapshot_id, app, generation, created_at, updated_at`

// DeviceUpsert carries one observation of a device.
type DeviceUpsert struct {
	Attributes  models.Attributes
	InstallDate *time.Time
	Status      models.DeviceStatus
	SeenAt      time.Time
}

// ListDevices returns a customer's devices in creation order.
func (s *ReconStore) ListDevices(ctx context.Context, customerID string) ([]models.Device, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM recon_devices WHERE customer_id = ? ORDER BY created_at, rowid`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// GetDevice returns a device by ID, or models.ErrNotFound.
func (s *ReconStore) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	d, err := scanDevice(s.q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM recon_devices WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s: %w", id, models.ErrNotFound)
	}
	return d, err
}

// FindDeviceByIP returns the customer's device last seen at ip, or
// models.ErrNotFound.
func (s *ReconStore) FindDeviceByIP(ctx context.Context, customerID, ip string) (*models.Device, error) {
	d, err := scanDevice(s.q.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM recon_devices WHERE customer_id = ? AND last_ip = ?
		ORDER BY last_seen DESC LIMIT 1`, customerID, ip))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device at %s: %w", ip, models.ErrNotFound)
	}
	return d, err
}

// FindDeviceByAnyIP returns the most recently seen device at ip across all
// customers, or models.ErrNotFound.
func (s *ReconStore) FindDeviceByAnyIP(ctx context.Context, ip string) (*models.Device, error) {
	d, err := scanDevice(s.q.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM recon_devices WHERE last_ip = ?
		ORDER BY last_seen DESC LIMIT 1`, ip))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device at %s: %w", ip, models.ErrNotFound)
	}
	return d, err
}

// UpsertDevice records an observation for a customer. It matches an
// existing device by MAC (case-insensitive) first, then by identifier, and
// inserts when neither matches. A matched device takes the observed
// identifier and, when one is reported, the MAC, so identity drift is
// followed.
func (s *ReconStore) UpsertDevice(ctx context.Context, customerID string, in DeviceUpsert) (dev *models.Device, created bool, err error) {
	a := in.Attributes
	existing, err := s.matchDevice(ctx, customerID, a.MAC, a.DeviceIdentifier)
	if err != nil {
		return nil, false, err
	}
	now := time.Now().UTC()
	seen := in.SeenAt.UTC()

	if existing != nil {
		install := in.InstallDate
		if install == nil {
			install = existing.InstallDate
		}
		// A result without a MAC never clears the stored one.
		mac := a.MAC
		if strings.TrimSpace(mac) == "" {
			mac = existing.MAC
		}
		_, err = s.q.ExecContext(ctx, `
			UPDATE recon_devices SET
				device_identifier = ?, mac = ?, model = ?, hostname = ?, last_ip = ?,
				firmware_version = ?, wifi_ssid = ?, rssi = ?, install_date = ?, uptime_seconds = ?,
				status = ?, last_seen = ?, app = ?, generation = ?, updated_at = ?
			WHERE id = ?`,
			a.DeviceIdentifier, mac, a.Model, a.Hostname, a.IP,
			a.FirmwareVersion, a.WifiSSID, nullInt(a.RSSI), nullTime(install), nullInt64(a.UptimeSeconds),
			string(in.Status), seen, a.App, a.Generation, now,
			existing.ID,
		)
		if err != nil {
			return nil, false, fmt.Errorf("update device: %w", err)
		}
		dev, err = s.GetDevice(ctx, existing.ID)
		return dev, false, err
	}

	id := uuid.New().String()
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO recon_devices (
			id, customer_id, device_identifier, mac, model, hostname, last_ip,
			firmware_version, wifi_ssid, rssi, install_date, uptime_seconds,
			status, last_seen, app, generation, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, customerID, a.DeviceIdentifier, a.MAC, a.Model, a.Hostname, a.IP,
		a.FirmwareVersion, a.WifiSSID, nullInt(a.RSSI), nullTime(in.InstallDate), nullInt64(a.UptimeSeconds),
		string(in.Status), seen, a.App, a.Generation, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert device: %w", err)
	}
	dev, err = s.GetDevice(ctx, id)
	return dev, true, err
}

func (s *ReconStore) matchDevice(ctx context.Context, customerID, mac, identifier string) (*models.Device, error) {
	if mac != "" {
		d, err := scanDevice(s.q.QueryRowContext(ctx,
			`SELECT `+deviceColumns+` FROM recon_devices WHERE customer_id = ? AND lower(mac) = ? LIMIT 1`,
			customerID, strings.ToLower(mac)))
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	d, err := scanDevice(s.q.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM recon_devices WHERE customer_id = ? AND device_identifier = ?`,
		customerID, identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// SetDeviceLastSnapshot points a device at its newest snapshot and records
// the status and signal strength observed with it.
func (s *ReconStore) SetDeviceLastSnapshot(ctx context.Context, deviceID, snapshotID string, status models.DeviceStatus, rssi *int) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE recon_devices SET last_snapshot_id = ?, status = ?, rssi = ?, updated_at = ?
		WHERE id = ?`,
		snapshotID, string(status), nullInt(rssi), time.Now().UTC(), deviceID,
	)
	if err != nil {
		return fmt.Errorf("set device last snapshot: %w", err)
	}
	return expectRow(res, "device", deviceID)
}

// DeleteDevice removes a device. Its snapshots stay in the history with
// the device reference cleared.
func (s *ReconStore) DeleteDevice(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *ReconStore) error {
		if _, err := tx.q.ExecContext(ctx, `UPDATE recon_snapshots SET device_id = NULL WHERE device_id = ?`, id); err != nil {
			return fmt.Errorf("detach snapshots: %w", err)
		}
		res, err := tx.q.ExecContext(ctx, `DELETE FROM recon_devices WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete device: %w", err)
		}
		return expectRow(res, "device", id)
	})
}

// --- Snapshots ---

const snapshotColumns = `id, scan_run_id, device_id, device_identifier, ip, mac, hostname, model,
	firmware_version, wifi_ssid, rssi, install_date, uptime_seconds, app, generation,
	is_online, diff_status, raw_payload, created_at`

// GetLatestSnapshot returns the customer's most recent snapshot for the
// device, looked up by MAC first and identifier second, or nil when the
// device has none.
func (s *ReconStore) GetLatestSnapshot(ctx context.Context, customerID, identifier, mac string) (*models.Snapshot, error) {
	if mac != "" {
		snap, err := scanSnapshot(s.q.QueryRowContext(ctx,
			`SELECT `+snapshotColumns+` FROM recon_snapshots
			WHERE customer_id = ? AND lower(mac) = ?
			ORDER BY created_at DESC, rowid DESC LIMIT 1`,
			customerID, strings.ToLower(mac)))
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	if identifier == "" {
		return nil, nil
	}
	snap, err := scanSnapshot(s.q.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM recon_snapshots
		WHERE customer_id = ? AND device_identifier = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		customerID, identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return snap, err
}

// CreateSnapshot appends a snapshot, assigning its ID and creation time.
func (s *ReconStore) CreateSnapshot(ctx context.Context, customerID string, snap *models.Snapshot) error {
	snap.ID = uuid.New().String()
	snap.CreatedAt = time.Now().UTC()
	raw := snap.RawPayload
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var deviceID any
	if snap.DeviceID != "" {
		deviceID = snap.DeviceID
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO recon_snapshots (
			id, scan_run_id, customer_id, device_id, device_identifier, ip, mac, hostname, model,
			firmware_version, wifi_ssid, rssi, install_date, uptime_seconds, app, generation,
			is_online, diff_status, raw_payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.ScanRunID, customerID, deviceID, snap.DeviceIdentifier, snap.IP, snap.MAC, snap.Hostname, snap.Model,
		snap.FirmwareVersion, snap.WifiSSID, nullInt(snap.RSSI), nullTime(snap.InstallDate), nullInt64(snap.UptimeSeconds),
		snap.App, snap.Generation, snap.IsOnline, string(snap.DiffStatus), string(raw), snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the snapshots of one scan run in creation order.
func (s *ReconStore) ListSnapshots(ctx context.Context, scanRunID string) ([]models.Snapshot, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM recon_snapshots WHERE scan_run_id = ? ORDER BY created_at, rowid`,
		scanRunID,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// DeviceHistory returns a device's snapshots, newest first.
func (s *ReconStore) DeviceHistory(ctx context.Context, deviceID string, limit int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM recon_snapshots WHERE device_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("device history: %w", err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// --- Scan runs ---

const scanRunColumns = `id, customer_id, started_at, completed_at, total_devices, notes, status, error_msg`

// CreateScanRun opens a scan run for a customer.
func (s *ReconStore) CreateScanRun(ctx context.Context, customerID string, startedAt time.Time) (*models.ScanRun, error) {
	run := &models.ScanRun{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		StartedAt:  startedAt.UTC(),
		Status:     models.ScanStatusRunning,
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO recon_scan_runs (id, customer_id, started_at, status) VALUES (?, ?, ?, ?)`,
		run.ID, run.CustomerID, run.StartedAt, string(run.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("insert scan run: %w", err)
	}
	return run, nil
}

// CompleteScanRun closes a running scan run and returns its final state.
func (s *ReconStore) CompleteScanRun(ctx context.Context, id string, completedAt time.Time, totalDevices int, notes string) (*models.ScanRun, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE recon_scan_runs SET completed_at = ?, total_devices = ?, notes = ?, status = ?
		WHERE id = ? AND status = ?`,
		completedAt.UTC(), totalDevices, notes, string(models.ScanStatusCompleted),
		id, string(models.ScanStatusRunning),
	)
	if err != nil {
		return nil, fmt.Errorf("complete scan run: %w", err)
	}
	if err := expectRow(res, "running scan run", id); err != nil {
		return nil, err
	}
	return s.GetScanRun(ctx, id)
}

// FailScanRun closes a scan run as failed with the given reason.
func (s *ReconStore) FailScanRun(ctx context.Context, id, reason string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE recon_scan_runs SET completed_at = ?, status = ?, error_msg = ?
		WHERE id = ?`,
		time.Now().UTC(), string(models.ScanStatusFailed), reason, id,
	)
	if err != nil {
		return fmt.Errorf("fail scan run: %w", err)
	}
	return nil
}

// GetScanRun returns a scan run by ID, or models.ErrNotFound.
func (s *ReconStore) GetScanRun(ctx context.Context, id string) (*models.ScanRun, error) {
	run, err := scanScanRun(s.q.QueryRowContext(ctx, `SELECT `+scanRunColumns+` FROM recon_scan_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan run %s: %w", id, models.ErrNotFound)
	}
	return run, err
}

// ListScanRuns returns a customer's scan runs, newest first. An empty
// customerID lists runs for every customer.
func (s *ReconStore) ListScanRuns(ctx context.Context, customerID string, limit, offset int) ([]models.ScanRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if customerID == "" {
		rows, err = s.q.QueryContext(ctx,
			`SELECT `+scanRunColumns+` FROM recon_scan_runs ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`,
			limit, offset)
	} else {
		rows, err = s.q.QueryContext(ctx,
			`SELECT `+scanRunColumns+` FROM recon_scan_runs WHERE customer_id = ?
			ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`,
			customerID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list scan runs: %w", err)
	}
	defer rows.Close()

	var out []models.ScanRun
	for rows.Next() {
		run, err := scanScanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// DeleteScanRun removes a scan run and its snapshots. Devices whose last
// snapshot belonged to the run keep a dangling reference until the next scan.
func (s *ReconStore) DeleteScanRun(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *ReconStore) error {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM recon_snapshots WHERE scan_run_id = ?`, id); err != nil {
			return fmt.Errorf("delete run snapshots: %w", err)
		}
		res, err := tx.q.ExecContext(ctx, `DELETE FROM recon_scan_runs WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete scan run: %w", err)
		}
		return expectRow(res, "scan run", id)
	})
}

// --- Settings ---

// GetSetting returns the value stored under key. ok is false when unset.
func (s *ReconStore) GetSetting(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.q.QueryRowContext(ctx, `SELECT value FROM recon_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores value under key.
func (s *ReconStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO recon_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// --- Row scanning ---

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var (
		d        models.Device
		status   string
		rssi     sql.NullInt64
		uptime   sql.NullInt64
		install  sql.NullTime
		lastSeen sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.CustomerID, &d.DeviceIdentifier, &d.MAC, &d.Model, &d.Hostname, &d.LastIP,
		&d.FirmwareVersion, &d.WifiSSID, &rssi, &install, &uptime, &status, &lastSeen,
		&d.LastSnapshotID, &d.App, &d.Generation, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan device row: %w", err)
	}
	d.Status = models.DeviceStatus(status)
	d.RSSI = intPtr(rssi)
	d.UptimeSeconds = int64Ptr(uptime)
	d.InstallDate = timePtr(install)
	d.LastSeen = timePtr(lastSeen)
	return &d, nil
}

func scanSnapshot(row rowScanner) (*models.Snapshot, error) {
	var (
		s        models.Snapshot
		deviceID sql.NullString
		rssi     sql.NullInt64
		uptime   sql.NullInt64
		install  sql.NullTime
		diff     string
		raw      string
	)
	err := row.Scan(
		&s.ID, &s.ScanRunID, &deviceID, &s.DeviceIdentifier, &s.IP, &s.MAC, &s.Hostname, &s.Model,
		&s.FirmwareVersion, &s.WifiSSID, &rssi, &install, &uptime, &s.App, &s.Generation,
		&s.IsOnline, &diff, &raw, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan snapshot row: %w", err)
	}
	s.DeviceID = deviceID.String
	s.RSSI = intPtr(rssi)
	s.UptimeSeconds = int64Ptr(uptime)
	s.InstallDate = timePtr(install)
	s.DiffStatus = models.DiffStatus(diff)
	s.RawPayload = json.RawMessage(raw)
	return &s, nil
}

func scanScanRun(row rowScanner) (*models.ScanRun, error) {
	var (
		r         models.ScanRun
		completed sql.NullTime
		status    string
	)
	err := row.Scan(&r.ID, &r.CustomerID, &r.StartedAt, &completed, &r.TotalDevices, &r.Notes, &status, &r.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	r.CompletedAt = timePtr(completed)
	r.Status = models.ScanStatus(status)
	return &r, nil
}

func expectRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, models.ErrNotFound)
	}
	return nil
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
