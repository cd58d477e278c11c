package models

import "encoding/json"

// Credentials carries optional HTTP Basic auth for device requests.
// Auth is only sent when both fields are non-empty.
type Credentials struct {
	Username string `json:"username,omitempty" example:"admin"`
	Password string `json:"password,omitempty" example:"secret"`
}

// Present reports whether the credentials should be sent.
func (c Credentials) Present() bool {
	return c.Username != "" && c.Password != ""
}

// Attributes is the normalized attribute set both protocol dialects map into.
type Attributes struct {
	IP               string          `json:"ip"`
	DeviceIdentifier string          `json:"device_identifier"`
	MAC              string          `json:"mac,omitempty"`
	Model            string          `json:"model,omitempty"`
	Hostname         string          `json:"hostname,omitempty"`
	FirmwareVersion  string          `json:"firmware_version,omitempty"`
	WifiSSID         string          `json:"wifi_ssid,omitempty"`
	RSSI             *int            `json:"rssi,omitempty"`
	UptimeSeconds    *int64          `json:"uptime_seconds,omitempty"`
	App              string          `json:"app,omitempty"`
	Generation       string          `json:"generation,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty" swaggertype:"object"`
}

// ProbeResult is the outcome of probing one IP address. Attributes are only
// meaningful when Online is true; Reason and Err explain an offline result.
type ProbeResult struct {
	IP         string     `json:"ip"`
	Online     bool       `json:"online"`
	Reason     string     `json:"reason,omitempty"`
	Attributes Attributes `json:"attributes"`
	Err        error      `json:"-"`
}
