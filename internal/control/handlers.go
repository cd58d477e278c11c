package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/HerbHall/relayscan/internal/probe"
	"github.com/HerbHall/relayscan/pkg/models"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.NewProblem(status, detail, ""))
}

// writeActionError maps err to a problem. Device-side failures are 502 and
// carry the device's error text, since that is what the operator needs.
func (m *Module) writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrActionFailure):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		m.logger.Error("device action error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "device action failed")
	}
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// refFromQuery builds a DeviceRef from ip and device_id query parameters.
// Query requests always use the owner's stored credentials.
func refFromQuery(r *http.Request) DeviceRef {
	q := r.URL.Query()
	return DeviceRef{IP: q.Get("ip"), DeviceID: q.Get("device_id")}
}

// RebootBody is the request body for POST /devices/reboot.
type RebootBody struct {
	DeviceRef
}

// handleReboot restarts a device.
//
//	@Summary		Reboot device
//	@Tags			control
//	@Accept			json
//	@Produce		json
//	@Param			request	body		RebootBody	true	"Target device"
//	@Success		200		{object}	probe.ActionResult
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Failure		502		{object}	models.APIProblem
//	@Router			/control/devices/reboot [post]
func (m *Module) handleReboot(w http.ResponseWriter, r *http.Request) {
	var body RebootBody
	if !decode(w, r, &body) {
		return
	}
	res, err := m.resolve(r.Context(), body.DeviceRef)
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	out, err := m.actuator.Reboot(r.Context(), res.target)
	m.record(r.Context(), res, "reboot", map[string]string{"ip": res.target.IP}, out, err)
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// FirmwareBody is the request body for POST /devices/firmware.
type FirmwareBody struct {
	DeviceRef
	OTAURL string `json:"ota_url" example:"http://fw.local/shelly-plus1pm.zip"`
}

// handleFirmware starts an over-the-air firmware update.
//
//	@Summary		Update firmware
//	@Tags			control
//	@Accept			json
//	@Produce		json
//	@Param			request	body		FirmwareBody	true	"Target device and OTA URL"
//	@Success		200		{object}	probe.ActionResult
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Failure		502		{object}	models.APIProblem
//	@Router			/control/devices/firmware [post]
func (m *Module) handleFirmware(w http.ResponseWriter, r *http.Request) {
	var body FirmwareBody
	if !decode(w, r, &body) {
		return
	}
	if body.OTAURL == "" {
		writeError(w, http.StatusBadRequest, "ota_url is required")
		return
	}
	res, err := m.resolve(r.Context(), body.DeviceRef)
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	out, err := m.actuator.UpdateFirmware(r.Context(), res.target, body.OTAURL)
	m.record(r.Context(), res, "firmware", map[string]string{"ip": res.target.IP, "ota_url": body.OTAURL}, out, err)
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// WiFiBody is the request body for POST /devices/wifi.
type WiFiBody struct {
	DeviceRef
	SSID     string `json:"ssid" example:"site-iot"`
	Password string `json:"password,omitempty"`
}

// handleWiFi points a device at a new Wi-Fi network.
//
//	@Summary		Set Wi-Fi
//	@Description	The password is sent to the device but never written to the action log.
//	@Tags			control
//	@Accept			json
//	@Produce		json
//	@Param			request	body		WiFiBody	true	"Target device and network"
//	@Success		200		{object}	probe.ActionResult
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Failure		502		{object}	models.APIProblem
//	@Router			/control/devices/wifi [post]
func (m *Module) handleWiFi(w http.ResponseWriter, r *http.Request) {
	var body WiFiBody
	if !decode(w, r, &body) {
		return
	}
	if body.SSID == "" {
		writeError(w, http.StatusBadRequest, "ssid is required")
		return
	}
	res, err := m.resolve(r.Context(), body.DeviceRef)
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	out, err := m.actuator.SetWiFi(r.Context(), res.target, body.SSID, body.Password)
	m.record(r.Context(), res, "wifi", map[string]string{"ip": res.target.IP, "ssid": body.SSID}, out, err)
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// PowerBody is the request body for POST /devices/power.
type PowerBody struct {
	DeviceRef
	Channel int `json:"channel" example:"0"`
}

// handleTogglePower flips a relay channel.
//
//	@Summary		Toggle power
//	@Tags			control
//	@Accept			json
//	@Produce		json
//	@Param			request	body		PowerBody	true	"Target device and channel"
//	@Success		200		{object}	probe.PowerResult
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Failure		502		{object}	models.APIProblem
//	@Router			/control/devices/power [post]
func (m *Module) handleTogglePower(w http.ResponseWriter, r *http.Request) {
	var body PowerBody
	if !decode(w, r, &body) {
		return
	}
	if body.Channel < 0 {
		writeError(w, http.StatusBadRequest, "channel must not be negative")
		return
	}
	res, err := m.resolve(r.Context(), body.DeviceRef)
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	out, err := m.actuator.TogglePower(r.Context(), res.target, body.Channel)
	m.record(r.Context(), res, "power-toggle", map[string]any{"ip": res.target.IP, "channel": body.Channel}, out, err)
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePowerState reads a relay channel.
//
//	@Summary		Power state
//	@Tags			control
//	@Produce		json
//	@Param			ip			query		string	false	"Device IP"
//	@Param			device_id	query		string	false	"Device ID"
//	@Param			channel		query		int		false	"Relay channel"	default(0)
//	@Success		200			{object}	probe.PowerResult
//	@Failure		400			{object}	models.APIProblem
//	@Failure		502			{object}	models.APIProblem
//	@Router			/control/devices/power [get]
func (m *Module) handlePowerState(w http.ResponseWriter, r *http.Request) {
	channel := 0
	if s := r.URL.Query().Get("channel"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "channel must be a non-negative integer")
			return
		}
		channel = v
	}
	res, err := m.resolve(r.Context(), refFromQuery(r))
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	out, err := m.actuator.PowerState(r.Context(), res.target, channel)
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetSettings reads a device's editable settings.
//
//	@Summary		Get settings
//	@Tags			control
//	@Produce		json
//	@Param			ip			query		string	false	"Device IP"
//	@Param			device_id	query		string	false	"Device ID"
//	@Success		200			{object}	probe.Settings
//	@Failure		400			{object}	models.APIProblem
//	@Failure		502			{object}	models.APIProblem
//	@Router			/control/devices/settings [get]
func (m *Module) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	res, err := m.resolve(r.Context(), refFromQuery(r))
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	out, err := m.actuator.GetSettings(r.Context(), res.target)
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// SettingsBody is the request body for PUT /devices/settings.
type SettingsBody struct {
	DeviceRef
	Settings probe.SettingsUpdate `json:"settings"`
}

// handleUpdateSettings changes a device's name, access point or eco mode.
//
//	@Summary		Update settings
//	@Tags			control
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SettingsBody	true	"Target device and settings"
//	@Success		200		{object}	probe.SettingsUpdateResult
//	@Failure		400		{object}	models.APIProblem
//	@Failure		502		{object}	models.APIProblem
//	@Router			/control/devices/settings [put]
func (m *Module) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body SettingsBody
	if !decode(w, r, &body) {
		return
	}
	res, err := m.resolve(r.Context(), body.DeviceRef)
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	out, err := m.actuator.UpdateSettings(r.Context(), res.target, body.Settings)
	m.record(r.Context(), res, "settings", map[string]any{"ip": res.target.IP, "settings": body.Settings}, out, err)
	if err != nil {
		m.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListActions returns a device's action log.
//
//	@Summary		Device actions
//	@Tags			control
//	@Produce		json
//	@Param			id		path		string	true	"Device ID"
//	@Param			limit	query		int		false	"Max results"	default(50)
//	@Success		200		{array}		models.ActionLog
//	@Failure		500		{object}	models.APIProblem
//	@Router			/control/devices/{id}/actions [get]
func (m *Module) handleListActions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	logs, err := m.store.ListActions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		m.logger.Error("failed to list device actions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list device actions")
		return
	}
	if logs == nil {
		logs = []models.ActionLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}
