// Package testutil holds fixture builders shared by package tests.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/relayscan/pkg/models"
)

// NewCustomer returns a Customer with sensible defaults. The ID is left
// empty so stores assign their own.
func NewCustomer(opts ...func(*models.Customer)) *models.Customer {
	c := &models.Customer{
		Name:     "Harbor Cafe",
		Subnet:   "192.168.1.0/24",
		WifiSSID: "site-iot",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithName sets the customer name.
func WithName(name string) func(*models.Customer) {
	return func(c *models.Customer) { c.Name = name }
}

// WithSubnet sets the customer subnet.
func WithSubnet(subnet string) func(*models.Customer) {
	return func(c *models.Customer) { c.Subnet = subnet }
}

// NewRelay returns the attributes a second-generation relay reports when
// probed. Hostname mirrors the identifier.
func NewRelay(identifier string, opts ...func(*models.Attributes)) models.Attributes {
	a := models.Attributes{
		DeviceIdentifier: identifier,
		Model:            "SNSW-001P16EU",
		Hostname:         identifier,
		WifiSSID:         "site-iot",
		App:              "Plus1PM",
		Generation:       models.GenerationRPC,
		Raw:              json.RawMessage(`{"info":{"id":"` + identifier + `"},"status":{}}`),
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// WithMAC sets the reported MAC address.
func WithMAC(mac string) func(*models.Attributes) {
	return func(a *models.Attributes) { a.MAC = mac }
}

// WithFirmware sets the reported firmware version.
func WithFirmware(fw string) func(*models.Attributes) {
	return func(a *models.Attributes) { a.FirmwareVersion = fw }
}

// WithRSSI sets the reported signal strength.
func WithRSSI(rssi int) func(*models.Attributes) {
	return func(a *models.Attributes) { a.RSSI = &rssi }
}

// WithLegacy marks the relay as a first-generation device.
func WithLegacy() func(*models.Attributes) {
	return func(a *models.Attributes) {
		a.Generation = models.GenerationLegacy
		a.App = ""
		a.Model = "SHSW-1"
	}
}

// NewDevice returns a known online Device owned by customerID.
func NewDevice(customerID string, opts ...func(*models.Device)) models.Device {
	now := time.Now().UTC()
	d := models.Device{
		ID:               uuid.New().String(),
		CustomerID:       customerID,
		DeviceIdentifier: "shellyplus1pm-a8032ab12345",
		MAC:              "a8:03:2a:b1:23:45",
		Model:            "SNSW-001P16EU",
		LastIP:           "192.168.1.42",
		FirmwareVersion:  "1.4.4",
		Status:           models.DeviceStatusOnline,
		Generation:       models.GenerationRPC,
		LastSeen:         &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithLastIP sets the device's last known address.
func WithLastIP(ip string) func(*models.Device) {
	return func(d *models.Device) { d.LastIP = ip }
}

// WithStatus sets the device status.
func WithStatus(s models.DeviceStatus) func(*models.Device) {
	return func(d *models.Device) { d.Status = s }
}
