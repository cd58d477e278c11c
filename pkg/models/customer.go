package models

import (
	"encoding/json"
	"time"
)

// Customer owns a set of devices and the subnet they live on.
type Customer struct {
	ID          string    `json:"id" example:"cust-01"`
	Name        string    `json:"name" example:"Harbor Cafe"`
	Description string    `json:"description,omitempty"`
	Subnet      string    `json:"subnet,omitempty" example:"192.168.1.0/24"`
	Contact     string    `json:"contact,omitempty"`
	WifiSSID    string    `json:"wifi_ssid,omitempty" example:"site-iot"`
	HasSecrets  bool      `json:"has_device_credentials"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ActionLog records one device-control call against a known device.
type ActionLog struct {
	ID        string          `json:"id"`
	DeviceID  string          `json:"device_id"`
	Action    string          `json:"action" example:"reboot"`
	Payload   json.RawMessage `json:"payload,omitempty" swaggertype:"object"`
	Result    json.RawMessage `json:"result,omitempty" swaggertype:"object"`
	CreatedAt time.Time       `json:"created_at"`
}
