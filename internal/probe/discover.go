package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/HerbHall/relayscan/pkg/models"
	"github.com/buger/jsonparser"
	"go.uber.org/zap"
)

// Discovery endpoints per dialect.
const (
	pathRPCDeviceInfo = "/rpc/Shelly.GetDeviceInfo"
	pathRPCStatus     = "/rpc/Shelly.GetStatus"
	pathLegacyInfo    = "/shelly"
	pathLegacyStatus  = "/status"
)

// Probe determines whether a supported device answers at t.IP. It tries the
// RPC dialect first and falls back to the legacy dialect on any failure
// except a timeout. Probe never returns an error: failures become offline
// results carrying the reason.
func (c *Client) Probe(ctx context.Context, t Target) models.ProbeResult {
	attrs, err := c.probeRPC(ctx, t)
	if err == nil {
		return models.ProbeResult{IP: t.IP, Online: true, Attributes: attrs}
	}
	if IsTimeout(err) {
		return offline(t.IP, err)
	}
	c.logger.Debug("rpc dialect failed, trying legacy",
		zap.String("ip", t.IP),
		zap.Error(err),
	)

	attrs, err = c.probeLegacy(ctx, t)
	if err != nil {
		return offline(t.IP, err)
	}
	return models.ProbeResult{IP: t.IP, Online: true, Attributes: attrs}
}

func (c *Client) probeRPC(ctx context.Context, t Target) (models.Attributes, error) {
	info, err := c.getJSON(ctx, t, http.MethodGet, pathRPCDeviceInfo, nil)
	if err != nil {
		return models.Attributes{}, err
	}
	status, err := c.getJSON(ctx, t, http.MethodGet, pathRPCStatus, nil)
	if err != nil {
		return models.Attributes{}, err
	}
	return normalizeRPC(t.IP, info, status), nil
}

func (c *Client) probeLegacy(ctx context.Context, t Target) (models.Attributes, error) {
	info, err := c.getJSON(ctx, t, http.MethodGet, pathLegacyInfo, nil)
	if err != nil {
		return models.Attributes{}, err
	}
	status, err := c.getJSON(ctx, t, http.MethodGet, pathLegacyStatus, nil)
	if err != nil {
		return models.Attributes{}, err
	}
	return normalizeLegacy(t.IP, info, status), nil
}

func offline(ip string, err error) models.ProbeResult {
	reason := err.Error()
	if IsTimeout(err) {
		reason = "timeout: " + reason
	} else {
		err = fmt.Errorf("%w: %w", models.ErrProbeProtocol, err)
	}
	return models.ProbeResult{IP: ip, Online: false, Reason: reason, Err: err}
}

// normalizeRPC maps a generation-2 device-info and status pair into the
// common attribute set. Each attribute takes the first non-empty field in
// its fallback list.
func normalizeRPC(ip string, info, status []byte) models.Attributes {
	return models.Attributes{
		IP:               ip,
		DeviceIdentifier: firstString(info, ip, path("sys", "device", "id"), path("id"), path("sys", "id")),
		MAC:              firstString(info, "", path("sys", "device", "mac"), path("mac")),
		Model:            firstString(info, "", path("app"), path("model"), path("sys", "device", "model")),
		Hostname:         firstString(info, "", path("name"), path("sys", "device", "hostname"), path("sys", "device", "id")),
		FirmwareVersion:  firstString(info, "", path("ver"), path("fw_id")),
		WifiSSID:         firstString(status, "", path("wifi", "ssid"), path("wifi", "sta", "ssid")),
		RSSI:             firstInt(status, path("wifi", "rssi"), path("wifi", "sta", "rssi")),
		UptimeSeconds:    firstUptime(status, path("sys", "uptime"), path("uptime")),
		App:              firstString(info, "", path("app"), path("sys", "device", "type")),
		Generation:       firstPresent(info, models.GenerationRPC, path("gen"), path("sys", "device", "gen")),
		Raw:              rawPayload(info, status),
	}
}

// normalizeLegacy maps a generation-1 info and status pair into the common
// attribute set. The generation tag is always "1".
func normalizeLegacy(ip string, info, status []byte) models.Attributes {
	return models.Attributes{
		IP:               ip,
		DeviceIdentifier: firstString(info, ip, path("id"), path("mac")),
		MAC:              firstString(info, "", path("mac")),
		Model:            firstString(info, "", path("model")),
		Hostname:         firstString(info, "", path("hostname"), path("id")),
		FirmwareVersion:  firstString(info, "", path("fw"), path("fw_ver")),
		WifiSSID:         firstString(status, "", path("wifi_sta", "ssid")),
		RSSI:             firstInt(status, path("wifi_sta", "rssi")),
		UptimeSeconds:    firstUptime(status, path("uptime"), path("sys", "uptime")),
		App:              firstString(info, "", path("type"), path("model")),
		Generation:       models.GenerationLegacy,
		Raw:              rawPayload(info, status),
	}
}

func path(keys ...string) []string { return keys }

// firstString returns the first candidate that holds a non-empty string or
// a non-zero number, or def when none does.
func firstString(data []byte, def string, candidates ...[]string) string {
	for _, keys := range candidates {
		v, typ, _, err := jsonparser.Get(data, keys...)
		if err != nil {
			continue
		}
		switch typ {
		case jsonparser.String:
			s, err := jsonparser.ParseString(v)
			if err == nil && s != "" {
				return s
			}
		case jsonparser.Number:
			if f, err := jsonparser.ParseFloat(v); err == nil && f != 0 {
				return string(v)
			}
		}
	}
	return def
}

// firstPresent is like firstString but accepts any non-null scalar,
// including zero and the empty string.
func firstPresent(data []byte, def string, candidates ...[]string) string {
	for _, keys := range candidates {
		v, typ, _, err := jsonparser.Get(data, keys...)
		if err != nil {
			continue
		}
		switch typ {
		case jsonparser.String:
			if s, err := jsonparser.ParseString(v); err == nil {
				return s
			}
		case jsonparser.Number, jsonparser.Boolean:
			return string(v)
		}
	}
	return def
}

func firstInt(data []byte, candidates ...[]string) *int {
	for _, keys := range candidates {
		v, typ, _, err := jsonparser.Get(data, keys...)
		if err != nil || typ != jsonparser.Number {
			continue
		}
		f, err := jsonparser.ParseFloat(v)
		if err != nil {
			continue
		}
		n := int(f)
		return &n
	}
	return nil
}

func firstUptime(data []byte, candidates ...[]string) *int64 {
	for _, keys := range candidates {
		v, typ, _, err := jsonparser.Get(data, keys...)
		if err != nil || typ != jsonparser.Number {
			continue
		}
		f, err := jsonparser.ParseFloat(v)
		if err != nil || f < 0 {
			continue
		}
		n := int64(f)
		return &n
	}
	return nil
}

func rawPayload(info, status []byte) json.RawMessage {
	raw, err := json.Marshal(struct {
		Info   json.RawMessage `json:"info"`
		Status json.RawMessage `json:"status"`
	}{Info: nonNull(info), Status: nonNull(status)})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func nonNull(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}
