package models

import "time"

// DeviceStatus represents the last observed reachability of a device.
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
)

// Generation tags for the two device protocol dialects.
const (
	GenerationLegacy = "1"
	GenerationRPC    = "2"
)

// Device is a relay controller known to belong to a customer. Identity is
// (CustomerID, DeviceIdentifier); MAC is a secondary resolution key.
type Device struct {
	ID               string       `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	CustomerID       string       `json:"customer_id" example:"cust-01"`
	DeviceIdentifier string       `json:"device_identifier" example:"shellyplus1pm-a8032ab12345"`
	MAC              string       `json:"mac,omitempty" example:"a8:03:2a:b1:23:45"`
	Model            string       `json:"model,omitempty" example:"SNSW-001P16EU"`
	Hostname         string       `json:"hostname,omitempty" example:"kitchen-relay"`
	LastIP           string       `json:"last_ip,omitempty" example:"192.168.1.42"`
	FirmwareVersion  string       `json:"firmware_version,omitempty" example:"1.4.4"`
	WifiSSID         string       `json:"wifi_ssid,omitempty" example:"site-iot"`
	RSSI             *int         `json:"rssi,omitempty" example:"-61"`
	InstallDate      *time.Time   `json:"install_date,omitempty"`
	UptimeSeconds    *int64       `json:"uptime_seconds,omitempty" example:"86400"`
	Status           DeviceStatus `json:"status" example:"online"`
	LastSeen         *time.Time   `json:"last_seen,omitempty"`
	LastSnapshotID   string       `json:"last_snapshot_id,omitempty"`
	App              string       `json:"app,omitempty" example:"Plus1PM"`
	Generation       string       `json:"generation,omitempty" example:"2"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Attributes returns the device's last-known attributes in probe form.
func (d *Device) Attributes() Attributes {
	return Attributes{
		IP:               d.LastIP,
		DeviceIdentifier: d.DeviceIdentifier,
		MAC:              d.MAC,
		Model:            d.Model,
		Hostname:         d.Hostname,
		FirmwareVersion:  d.FirmwareVersion,
		WifiSSID:         d.WifiSSID,
		RSSI:             d.RSSI,
		UptimeSeconds:    d.UptimeSeconds,
		App:              d.App,
		Generation:       d.Generation,
	}
}
