// Package control exposes device-control actions (reboot, firmware update,
// Wi-Fi change, settings and relay power) for devices on the local network
// and keeps a log of every action taken against a known device.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/relayscan/internal/probe"
	"github.com/HerbHall/relayscan/pkg/models"
	"github.com/HerbHall/relayscan/pkg/plugin"
	"github.com/HerbHall/relayscan/pkg/roles"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ Actuator             = (*probe.Client)(nil)
)

// Actuator performs device-control calls. Implemented by *probe.Client.
type Actuator interface {
	Reboot(ctx context.Context, t probe.Target) (*probe.ActionResult, error)
	UpdateFirmware(ctx context.Context, t probe.Target, otaURL string) (*probe.ActionResult, error)
	SetWiFi(ctx context.Context, t probe.Target, ssid, password string) (*probe.ActionResult, error)
	GetSettings(ctx context.Context, t probe.Target) (*probe.Settings, error)
	UpdateSettings(ctx context.Context, t probe.Target, u probe.SettingsUpdate) (*probe.SettingsUpdateResult, error)
	TogglePower(ctx context.Context, t probe.Target, channel int) (*probe.PowerResult, error)
	PowerState(ctx context.Context, t probe.Target, channel int) (*probe.PowerResult, error)
}

// DeviceDirectory looks up known devices and their owners' credentials.
// Implemented by the recon module.
type DeviceDirectory = roles.DeviceDirectory

// Config holds the control module configuration.
type Config struct {
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	ProbePort     int           `mapstructure:"probe_port"`
}

// Module implements the device-control plugin.
type Module struct {
	logger   *zap.Logger
	cfg      Config
	bus      plugin.EventBus
	store    *ActionStore
	actuator Actuator
	devices  DeviceDirectory
}

// New creates a new control plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "control",
		Version:      "0.1.0",
		Description:  "Device control actions and action log",
		Dependencies: []string{"recon"},
		Roles:        []string{roles.RoleDeviceControl},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.cfg = Config{ActionTimeout: probe.DefaultTimeout}
	if deps.Config != nil {
		if d := deps.Config.GetDuration("action_timeout"); d > 0 {
			m.cfg.ActionTimeout = d
		}
		m.cfg.ProbePort = deps.Config.GetInt("probe_port")
	}

	if err := deps.Store.Migrate(ctx, "control", migrations()); err != nil {
		return err
	}
	m.store = NewActionStore(deps.Store.DB())

	if m.actuator == nil {
		opts := []probe.Option{probe.WithTimeout(m.cfg.ActionTimeout)}
		if m.cfg.ProbePort > 0 {
			opts = append(opts, probe.WithPort(m.cfg.ProbePort))
		}
		m.actuator = probe.New(m.logger.Named("probe"), opts...)
	}

	if deps.Plugins != nil {
		if p, ok := deps.Plugins.Resolve("recon"); ok {
			if dir, ok := p.(DeviceDirectory); ok {
				m.devices = dir
			}
		}
	}
	if m.devices == nil {
		m.logger.Warn("recon module unavailable; actions will not be logged or use stored credentials")
	}

	m.logger.Info("control module initialized", zap.Duration("action_timeout", m.cfg.ActionTimeout))
	return nil
}

func (m *Module) Start(_ context.Context) error { return nil }

func (m *Module) Stop(_ context.Context) error { return nil }

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/devices/reboot", Handler: m.handleReboot},
		{Method: "POST", Path: "/devices/firmware", Handler: m.handleFirmware},
		{Method: "POST", Path: "/devices/wifi", Handler: m.handleWiFi},
		{Method: "POST", Path: "/devices/power", Handler: m.handleTogglePower},
		{Method: "GET", Path: "/devices/power", Handler: m.handlePowerState},
		{Method: "GET", Path: "/devices/settings", Handler: m.handleGetSettings},
		{Method: "PUT", Path: "/devices/settings", Handler: m.handleUpdateSettings},
		{Method: "GET", Path: "/devices/{id}/actions", Handler: m.handleListActions},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.devices == nil {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: "device directory unavailable",
		}
	}
	return plugin.HealthStatus{Status: "healthy"}
}

// DeviceRef addresses the device an action targets. IP wins when both are
// given; a device ID alone resolves to the device's last known address.
type DeviceRef struct {
	IP          string              `json:"ip,omitempty" example:"192.168.1.42"`
	DeviceID    string              `json:"device_id,omitempty"`
	Credentials *models.Credentials `json:"credentials,omitempty"`
}

// resolved is a DeviceRef turned into a probe target.
type resolved struct {
	target probe.Target
	device *models.Device
}

// resolve finds the target address, the known device behind it (if any)
// and the credentials to send. Explicit credentials win over the owner's
// stored ones.
func (m *Module) resolve(ctx context.Context, ref DeviceRef) (*resolved, error) {
	ip := strings.TrimSpace(ref.IP)
	var dev *models.Device
	if m.devices != nil {
		var err error
		switch {
		case ref.DeviceID != "":
			dev, err = m.devices.Device(ctx, ref.DeviceID)
			if err != nil {
				return nil, err
			}
			if ip == "" {
				ip = dev.LastIP
			}
		case ip != "":
			dev, err = m.devices.DeviceAt(ctx, ip)
			if errors.Is(err, models.ErrNotFound) {
				dev, err = nil, nil
			}
			if err != nil {
				return nil, err
			}
		}
	}
	if ip == "" {
		return nil, errIPRequired
	}

	t := probe.Target{IP: ip, Timeout: m.cfg.ActionTimeout}
	switch {
	case ref.Credentials != nil && ref.Credentials.Present():
		t.Credentials = *ref.Credentials
	case dev != nil:
		t.Credentials = m.devices.CustomerCredentials(ctx, dev.CustomerID)
	}
	return &resolved{target: t, device: dev}, nil
}

var errIPRequired = fmt.Errorf("ip address is required: %w", models.ErrInvalidInput)

// record counts the action, logs it against the device when one is known
// and publishes the outcome. Logging failures never fail the action.
func (m *Module) record(ctx context.Context, r *resolved, action string, payload, result any, actionErr error) {
	outcome := "success"
	if actionErr != nil {
		outcome = "failure"
	}
	actionsTotal.WithLabelValues(action, outcome).Inc()

	ev := ActionEvent{IP: r.target.IP, Action: action}
	if r.device != nil {
		ev.DeviceID = r.device.ID
	}
	if actionErr != nil {
		ev.Error = actionErr.Error()
		result = map[string]string{"error": actionErr.Error()}
		m.logger.Warn("device action failed",
			zap.String("action", action),
			zap.String("ip", r.target.IP),
			zap.Error(actionErr),
		)
	}

	if r.device != nil {
		if _, err := m.store.LogAction(ctx, r.device.ID, action, payload, result); err != nil {
			m.logger.Error("failed to log device action",
				zap.String("action", action),
				zap.String("device_id", r.device.ID),
				zap.Error(err),
			)
		}
	}

	topic := TopicActionPerformed
	if actionErr != nil {
		topic = TopicActionFailed
	}
	if m.bus != nil {
		m.bus.PublishAsync(ctx, plugin.Event{
			Topic:     topic,
			Source:    "control",
			Timestamp: time.Now(),
			Payload:   ev,
		})
	}
}
