package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/HerbHall/relayscan/internal/pool"
	"github.com/HerbHall/relayscan/pkg/models"
	"github.com/buger/jsonparser"
	"go.uber.org/zap"
)

// Dialect names reported in action results.
const (
	DialectRPC    = "rpc"
	DialectLegacy = "legacy"
)

// ActionError is a device-control call that failed after fallback.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return e.Action + ": " + e.Err.Error()
}

// Unwrap exposes both the action-failure class and the cause, so timeouts
// and HTTP statuses stay inspectable.
func (e *ActionError) Unwrap() []error {
	return []error{models.ErrActionFailure, e.Err}
}

// ActionResult describes a device-control call that succeeded.
type ActionResult struct {
	Message  string          `json:"message"`
	Dialect  string          `json:"dialect" example:"rpc"`
	Response json.RawMessage `json:"response,omitempty" swaggertype:"object"`
}

// PowerResult is the relay state after a toggle or read.
type PowerResult struct {
	Channel int        `json:"channel"`
	State   PowerState `json:"state" example:"on"`
	Dialect string     `json:"dialect" example:"rpc"`
}

// Settings are the device settings exposed for editing.
type Settings struct {
	Name      string `json:"name"`
	APEnabled bool   `json:"ap_enabled"`
	EcoMode   bool   `json:"eco_mode"`
}

// SettingsUpdate carries the settings to change. Nil fields are left alone.
type SettingsUpdate struct {
	Name      *string `json:"name,omitempty"`
	APEnabled *bool   `json:"ap_enabled,omitempty"`
	EcoMode   *bool   `json:"eco_mode,omitempty"`
}

// SettingsUpdateResult reports which settings the device accepted.
type SettingsUpdateResult struct {
	NameUpdated      bool `json:"name_updated"`
	APEnabledUpdated bool `json:"ap_enabled_updated"`
	EcoModeUpdated   bool `json:"eco_mode_updated"`
}

// canFallback reports whether a failed RPC call should be retried on the
// legacy endpoint: a 404 or a failure with no HTTP status, never a timeout.
func canFallback(err error) bool {
	if IsTimeout(err) {
		return false
	}
	status := StatusOf(err)
	return status == 0 || status == http.StatusNotFound
}

// rpcThenLegacy runs the RPC call and, when canFallback allows, the legacy call.
func (c *Client) rpcThenLegacy(t Target, action string, rpc, legacy func() (*response, error)) (*response, string, error) {
	resp, err := rpc()
	if err == nil {
		return resp, DialectRPC, nil
	}
	if !canFallback(err) {
		return nil, "", &ActionError{Action: action, Err: err}
	}
	c.logger.Debug("rpc endpoint unavailable, using legacy",
		zap.String("action", action),
		zap.String("ip", t.IP),
		zap.Error(err),
	)
	resp, err = legacy()
	if err != nil {
		return nil, "", &ActionError{Action: action, Err: err}
	}
	return resp, DialectLegacy, nil
}

// Reboot restarts the device.
func (c *Client) Reboot(ctx context.Context, t Target) (*ActionResult, error) {
	resp, dialect, err := c.rpcThenLegacy(t, "reboot",
		func() (*response, error) { return c.do(ctx, t, http.MethodPost, "/rpc/Shelly.Reboot", nil) },
		func() (*response, error) { return c.do(ctx, t, http.MethodGet, "/reboot", nil) },
	)
	if err != nil {
		return nil, err
	}
	return result(fmt.Sprintf("Reboot triggered via %s endpoint.", endpointName(dialect)), dialect, resp), nil
}

// UpdateFirmware asks the device to flash the image at otaURL.
func (c *Client) UpdateFirmware(ctx context.Context, t Target, otaURL string) (*ActionResult, error) {
	if otaURL == "" {
		return nil, fmt.Errorf("OTA URL is required for a firmware update: %w", models.ErrInvalidInput)
	}
	body := map[string]string{"stage": "flash", "url": otaURL}
	resp, dialect, err := c.rpcThenLegacy(t, "firmware update",
		func() (*response, error) { return c.do(ctx, t, http.MethodPost, "/rpc/Shelly.Update", body) },
		func() (*response, error) {
			return c.do(ctx, t, http.MethodGet, "/ota?url="+url.QueryEscape(otaURL), nil)
		},
	)
	if err != nil {
		return nil, err
	}
	return result(fmt.Sprintf("Firmware update triggered via %s endpoint.", endpointName(dialect)), dialect, resp), nil
}

// SetWiFi points the device's station interface at a new network.
func (c *Client) SetWiFi(ctx context.Context, t Target, ssid, password string) (*ActionResult, error) {
	if ssid == "" {
		return nil, fmt.Errorf("SSID is required: %w", models.ErrInvalidInput)
	}
	rpcBody := map[string]any{
		"config": map[string]any{
			"sta": map[string]string{"ssid": ssid, "pass": password},
		},
	}
	legacyBody := map[string]any{
		"wifi_sta": map[string]any{
			"enabled":           true,
			"ssid":              ssid,
			"pass":              password,
			"reconnect_timeout": 60,
		},
	}
	resp, dialect, err := c.rpcThenLegacy(t, "wifi config",
		func() (*response, error) { return c.do(ctx, t, http.MethodPost, "/rpc/WiFi.SetConfig", rpcBody) },
		func() (*response, error) { return c.do(ctx, t, http.MethodPost, "/settings/sta", legacyBody) },
	)
	if err != nil {
		return nil, err
	}
	return result(fmt.Sprintf("Wi-Fi configuration sent via %s endpoint.", endpointName(dialect)), dialect, resp), nil
}

// GetSettings reads the device name, access-point and eco-mode flags. The
// three reads run concurrently and each one may fail on its own; missing
// values come back as their zero value.
func (c *Client) GetSettings(ctx context.Context, t Target) (*Settings, error) {
	type read struct {
		path string
		body any
	}
	reads := []read{
		{"/rpc/Device.GetConfig", map[string]any{}},
		{"/rpc/WiFi.GetConfig", map[string]any{}},
		{"/rpc/Switch.GetConfig", map[string]int{"id": 0}},
	}
	docs := pool.Map(ctx, len(reads), reads, func(ctx context.Context, r read) []byte {
		body, err := c.getJSON(ctx, t, http.MethodPost, r.path, r.body)
		if err != nil {
			c.logger.Debug("settings read failed",
				zap.String("ip", t.IP),
				zap.String("path", r.path),
				zap.Error(err),
			)
			return nil
		}
		return body
	})
	if docs[0] == nil && docs[1] == nil && docs[2] == nil {
		return nil, &ActionError{Action: "get settings", Err: errors.New("device answered none of the settings reads")}
	}

	s := &Settings{
		Name:      firstString(docs[0], "", path("config", "device", "name"), path("config", "name")),
		APEnabled: boolAt(docs[1], "config", "ap", "enabled"),
	}
	if v, err := jsonparser.GetBoolean(docs[2], "config", "eco_mode"); err == nil {
		s.EcoMode = v
	} else {
		s.EcoMode = boolAt(docs[2], "config", "switches", "[0]", "eco_mode")
	}
	return s, nil
}

// UpdateSettings applies the non-nil fields of u. A rename tries each known
// endpoint in turn and skips those that answer 400, 404 or 501; any other
// status or a timeout stops the update. The flags tolerate 404 only.
func (c *Client) UpdateSettings(ctx context.Context, t Target, u SettingsUpdate) (*SettingsUpdateResult, error) {
	res := &SettingsUpdateResult{}

	if u.Name != nil {
		name := *u.Name
		attempts := []struct {
			path string
			body any
		}{
			{"/rpc/Device.SetConfig", map[string]any{"config": map[string]any{"device": map[string]string{"name": name}}}},
			{"/rpc/Sys.SetConfig", map[string]any{"config": map[string]any{"device": map[string]string{"name": name}}}},
			{"/rpc/Shelly.SetDeviceInfo", map[string]string{"name": name}},
			{"/settings", map[string]string{"name": name}},
		}
		var lastErr error
		for _, a := range attempts {
			_, err := c.do(ctx, t, http.MethodPost, a.path, a.body)
			if err == nil {
				res.NameUpdated = true
				lastErr = nil
				break
			}
			if IsTimeout(err) || !renameSkippable(StatusOf(err)) {
				return nil, &ActionError{Action: "rename", Err: err}
			}
			lastErr = err
		}
		if lastErr != nil && StatusOf(lastErr) == 0 {
			return nil, &ActionError{Action: "rename", Err: lastErr}
		}
	}

	if u.APEnabled != nil {
		body := map[string]any{"config": map[string]any{"ap": map[string]bool{"enabled": *u.APEnabled}}}
		ok, err := c.setIgnoringNotFound(ctx, t, "/rpc/WiFi.SetConfig", body)
		if err != nil {
			return nil, &ActionError{Action: "set access point", Err: err}
		}
		res.APEnabledUpdated = ok
	}

	if u.EcoMode != nil {
		body := map[string]any{"id": 0, "config": map[string]bool{"eco_mode": *u.EcoMode}}
		ok, err := c.setIgnoringNotFound(ctx, t, "/rpc/Switch.SetConfig", body)
		if err != nil {
			return nil, &ActionError{Action: "set eco mode", Err: err}
		}
		res.EcoModeUpdated = ok
	}

	return res, nil
}

// TogglePower flips a relay channel and reports its new state.
func (c *Client) TogglePower(ctx context.Context, t Target, channel int) (*PowerResult, error) {
	if channel < 0 {
		return nil, fmt.Errorf("channel must be non-negative: %w", models.ErrInvalidInput)
	}
	ch := strconv.Itoa(channel)
	resp, dialect, err := c.rpcThenLegacy(t, "power toggle",
		func() (*response, error) {
			return c.do(ctx, t, http.MethodPost, "/rpc/Switch.Toggle", map[string]int{"id": channel})
		},
		func() (*response, error) { return c.do(ctx, t, http.MethodGet, "/relay/"+ch+"?turn=toggle", nil) },
	)
	if err != nil {
		return nil, err
	}

	state := PowerUnknown
	if resp.JSON {
		// The RPC answer reports the state before the toggle.
		if wasOn, err := jsonparser.GetBoolean(resp.Body, "was_on"); err == nil {
			state = PowerOn
			if wasOn {
				state = PowerOff
			}
		} else {
			state = DerivePowerState(resp.Body)
		}
	}
	return &PowerResult{Channel: channel, State: state, Dialect: dialect}, nil
}

// PowerState reads the current state of a relay channel.
func (c *Client) PowerState(ctx context.Context, t Target, channel int) (*PowerResult, error) {
	if channel < 0 {
		return nil, fmt.Errorf("channel must be non-negative: %w", models.ErrInvalidInput)
	}
	ch := strconv.Itoa(channel)
	resp, dialect, err := c.rpcThenLegacy(t, "power state",
		func() (*response, error) { return c.do(ctx, t, http.MethodGet, "/rpc/Switch.GetStatus?id="+ch, nil) },
		func() (*response, error) { return c.do(ctx, t, http.MethodGet, "/relay/"+ch, nil) },
	)
	if err != nil {
		return nil, err
	}
	state := PowerUnknown
	if resp.JSON {
		state = DerivePowerState(resp.Body)
	}
	return &PowerResult{Channel: channel, State: state, Dialect: dialect}, nil
}

func (c *Client) setIgnoringNotFound(ctx context.Context, t Target, path string, body any) (bool, error) {
	_, err := c.do(ctx, t, http.MethodPost, path, body)
	if err == nil {
		return true, nil
	}
	if StatusOf(err) == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func renameSkippable(status int) bool {
	switch status {
	case 0, http.StatusBadRequest, http.StatusNotFound, http.StatusNotImplemented:
		return true
	}
	return false
}

func boolAt(data []byte, keys ...string) bool {
	if data == nil {
		return false
	}
	v, typ, _, err := jsonparser.Get(data, keys...)
	if err != nil {
		return false
	}
	b, ok := normalizeBool(v, typ)
	return ok && b
}

func result(msg, dialect string, resp *response) *ActionResult {
	r := &ActionResult{Message: msg, Dialect: dialect}
	if resp != nil && resp.JSON && len(resp.Body) > 0 {
		r.Response = json.RawMessage(resp.Body)
	}
	return r
}

func endpointName(dialect string) string {
	if dialect == DialectLegacy {
		return "legacy"
	}
	return "RPC"
}
