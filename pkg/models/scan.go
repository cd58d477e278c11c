package models

import (
	"encoding/json"
	"time"
)

// DiffStatus classifies a snapshot relative to the device's previous one.
type DiffStatus string

const (
	DiffNew       DiffStatus = "new"
	DiffChanged   DiffStatus = "changed"
	DiffUnchanged DiffStatus = "unchanged"
	DiffOffline   DiffStatus = "offline"
)

// ScanStatus is the lifecycle state of a persisted scan run.
type ScanStatus string

const (
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// ScanRun is one execution of the reconciliation orchestrator.
type ScanRun struct {
	ID           string     `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	CustomerID   string     `json:"customer_id" example:"cust-01"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	TotalDevices int        `json:"total_devices" example:"12"`
	Notes        string     `json:"notes,omitempty"`
	Status       ScanStatus `json:"status" example:"completed"`
	Error        string     `json:"error,omitempty"`
}

// Snapshot is an append-only record of one device's observed attributes
// during one scan run. RawPayload is a JSON object that always carries a
// "diffNote" member.
type Snapshot struct {
	ID               string          `json:"id"`
	ScanRunID        string          `json:"scan_run_id"`
	DeviceID         string          `json:"device_id,omitempty"`
	DeviceIdentifier string          `json:"device_identifier"`
	IP               string          `json:"ip,omitempty"`
	MAC              string          `json:"mac,omitempty"`
	Hostname         string          `json:"hostname,omitempty"`
	Model            string          `json:"model,omitempty"`
	FirmwareVersion  string          `json:"firmware_version,omitempty"`
	WifiSSID         string          `json:"wifi_ssid,omitempty"`
	RSSI             *int            `json:"rssi,omitempty"`
	InstallDate      *time.Time      `json:"install_date,omitempty"`
	UptimeSeconds    *int64          `json:"uptime_seconds,omitempty"`
	App              string          `json:"app,omitempty"`
	Generation       string          `json:"generation,omitempty"`
	IsOnline         bool            `json:"is_online"`
	DiffStatus       DiffStatus      `json:"diff_status" example:"changed"`
	RawPayload       json.RawMessage `json:"raw_payload,omitempty" swaggertype:"object"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Attributes returns the snapshot's observed attributes in probe form.
func (s *Snapshot) Attributes() Attributes {
	return Attributes{
		IP:               s.IP,
		DeviceIdentifier: s.DeviceIdentifier,
		MAC:              s.MAC,
		Model:            s.Model,
		Hostname:         s.Hostname,
		FirmwareVersion:  s.FirmwareVersion,
		WifiSSID:         s.WifiSSID,
		RSSI:             s.RSSI,
		UptimeSeconds:    s.UptimeSeconds,
		App:              s.App,
		Generation:       s.Generation,
	}
}

// DeviceOutcome summarizes what one scan concluded about one device.
type DeviceOutcome struct {
	DeviceID         string     `json:"device_id"`
	DeviceIdentifier string     `json:"device_identifier"`
	DiffStatus       DiffStatus `json:"diff_status" example:"new"`
	DiffNote         string     `json:"diff_note" example:"New device detected"`
	IsOnline         bool       `json:"is_online"`
	IP               string     `json:"ip,omitempty"`
	FirmwareVersion  string     `json:"firmware_version,omitempty"`
	InstallDate      *time.Time `json:"install_date,omitempty"`
	SnapshotID       string     `json:"snapshot_id"`
	App              string     `json:"app,omitempty"`
	Generation       string     `json:"generation,omitempty"`
	RSSI             *int       `json:"rssi,omitempty"`
}
