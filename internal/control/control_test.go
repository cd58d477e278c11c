package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/HerbHall/relayscan/internal/probe"
	"github.com/HerbHall/relayscan/pkg/models"
	"github.com/HerbHall/relayscan/pkg/plugin"
	"github.com/HerbHall/relayscan/pkg/plugin/plugintest"
)

// fakeActuator records targets and answers every call with err, or success.
type fakeActuator struct {
	mu      sync.Mutex
	targets []probe.Target
	err     error
}

func (a *fakeActuator) called(t probe.Target) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targets = append(a.targets, t)
	return a.err
}

func (a *fakeActuator) last() probe.Target {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.targets) == 0 {
		return probe.Target{}
	}
	return a.targets[len(a.targets)-1]
}

func (a *fakeActuator) Reboot(_ context.Context, t probe.Target) (*probe.ActionResult, error) {
	if err := a.called(t); err != nil {
		return nil, err
	}
	return &probe.ActionResult{Message: "Reboot triggered via RPC endpoint.", Dialect: probe.DialectRPC}, nil
}

func (a *fakeActuator) UpdateFirmware(_ context.Context, t probe.Target, _ string) (*probe.ActionResult, error) {
	if err := a.called(t); err != nil {
		return nil, err
	}
	return &probe.ActionResult{Message: "Firmware update triggered.", Dialect: probe.DialectRPC}, nil
}

func (a *fakeActuator) SetWiFi(_ context.Context, t probe.Target, _, _ string) (*probe.ActionResult, error) {
	if err := a.called(t); err != nil {
		return nil, err
	}
	return &probe.ActionResult{Message: "Wi-Fi configuration sent.", Dialect: probe.DialectLegacy}, nil
}

func (a *fakeActuator) GetSettings(_ context.Context, t probe.Target) (*probe.Settings, error) {
	if err := a.called(t); err != nil {
		return nil, err
	}
	return &probe.Settings{Name: "kitchen", APEnabled: true}, nil
}

func (a *fakeActuator) UpdateSettings(_ context.Context, t probe.Target, u probe.SettingsUpdate) (*probe.SettingsUpdateResult, error) {
	if err := a.called(t); err != nil {
		return nil, err
	}
	return &probe.SettingsUpdateResult{NameUpdated: u.Name != nil, EcoModeUpdated: u.EcoMode != nil}, nil
}

func (a *fakeActuator) TogglePower(_ context.Context, t probe.Target, ch int) (*probe.PowerResult, error) {
	if err := a.called(t); err != nil {
		return nil, err
	}
	return &probe.PowerResult{Channel: ch, State: probe.PowerOn, Dialect: probe.DialectRPC}, nil
}

func (a *fakeActuator) PowerState(_ context.Context, t probe.Target, ch int) (*probe.PowerResult, error) {
	if err := a.called(t); err != nil {
		return nil, err
	}
	return &probe.PowerResult{Channel: ch, State: probe.PowerOff, Dialect: probe.DialectRPC}, nil
}

// fakeDirectory serves a fixed device list and per-customer credentials.
type fakeDirectory struct {
	devices []models.Device
	creds   map[string]models.Credentials
}

func (d *fakeDirectory) Device(_ context.Context, id string) (*models.Device, error) {
	for i := range d.devices {
		if d.devices[i].ID == id {
			dev := d.devices[i]
			return &dev, nil
		}
	}
	return nil, models.ErrNotFound
}

func (d *fakeDirectory) DeviceAt(_ context.Context, ip string) (*models.Device, error) {
	for i := range d.devices {
		if d.devices[i].LastIP == ip {
			dev := d.devices[i]
			return &dev, nil
		}
	}
	return nil, models.ErrNotFound
}

func (d *fakeDirectory) CustomerCredentials(_ context.Context, customerID string) models.Credentials {
	return d.creds[customerID]
}

// fakeResolver hands out one plugin by name.
type fakeResolver map[string]plugin.Plugin

func (r fakeResolver) Resolve(name string) (plugin.Plugin, bool) {
	p, ok := r[name]
	return p, ok
}

func (r fakeResolver) ResolveByRole(string) []plugin.Plugin { return nil }

func newTestModule(t *testing.T) (*Module, *fakeActuator) {
	t.Helper()
	act := &fakeActuator{}
	m := New()
	m.actuator = act
	if err := m.Init(context.Background(), plugintest.Deps(t, "control")); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	m.devices = &fakeDirectory{
		devices: []models.Device{
			{ID: "dev-1", CustomerID: "cust-1", DeviceIdentifier: "relay-a", LastIP: "10.0.0.5"},
		},
		creds: map[string]models.Credentials{"cust-1": {Username: "admin", Password: "stored"}},
	}
	return m, act
}

func serve(m *Module, method, path, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	for _, rt := range m.Routes() {
		mux.HandleFunc(rt.Method+" "+rt.Path, rt.Handler)
	}
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin {
		return &Module{actuator: &fakeActuator{}}
	})
}

func TestInit_ResolvesRecon(t *testing.T) {
	dir := &directoryPlugin{fakeDirectory: &fakeDirectory{}}
	deps := plugintest.Deps(t, "control")
	deps.Plugins = fakeResolver{"recon": dir}

	m := &Module{actuator: &fakeActuator{}}
	if err := m.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if m.devices == nil {
		t.Fatal("device directory not resolved from the recon plugin")
	}
	if got := m.Health(context.Background()).Status; got != "healthy" {
		t.Errorf("Health().Status = %q, want healthy", got)
	}
}

// directoryPlugin is a plugin that also serves as a device directory.
type directoryPlugin struct {
	*fakeDirectory
}

func (directoryPlugin) Info() plugin.PluginInfo {
	return plugin.PluginInfo{Name: "recon", Version: "0.0.0", APIVersion: plugin.APIVersionCurrent}
}
func (directoryPlugin) Init(context.Context, plugin.Dependencies) error { return nil }
func (directoryPlugin) Start(context.Context) error                     { return nil }
func (directoryPlugin) Stop(context.Context) error                      { return nil }

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		ref        DeviceRef
		wantIP     string
		wantUser   string
		wantDevice bool
		wantErr    error
	}{
		{
			name:       "known ip uses stored credentials",
			ref:        DeviceRef{IP: "10.0.0.5"},
			wantIP:     "10.0.0.5",
			wantUser:   "admin",
			wantDevice: true,
		},
		{
			name:       "device id supplies the address",
			ref:        DeviceRef{DeviceID: "dev-1"},
			wantIP:     "10.0.0.5",
			wantUser:   "admin",
			wantDevice: true,
		},
		{
			name:       "explicit credentials win",
			ref:        DeviceRef{IP: "10.0.0.5", Credentials: &models.Credentials{Username: "ops", Password: "x"}},
			wantIP:     "10.0.0.5",
			wantUser:   "ops",
			wantDevice: true,
		},
		{
			name:   "unknown ip has no device",
			ref:    DeviceRef{IP: "10.0.0.77"},
			wantIP: "10.0.0.77",
		},
		{
			name:    "unknown device id",
			ref:     DeviceRef{DeviceID: "nope"},
			wantErr: models.ErrNotFound,
		},
		{
			name:    "nothing given",
			ref:     DeviceRef{},
			wantErr: models.ErrInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestModule(t)
			got, err := m.resolve(context.Background(), tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve() error = %v", err)
			}
			if got.target.IP != tt.wantIP {
				t.Errorf("IP = %q, want %q", got.target.IP, tt.wantIP)
			}
			if got.target.Credentials.Username != tt.wantUser {
				t.Errorf("Username = %q, want %q", got.target.Credentials.Username, tt.wantUser)
			}
			if (got.device != nil) != tt.wantDevice {
				t.Errorf("device = %v, want present=%v", got.device, tt.wantDevice)
			}
		})
	}
}

func TestHandleActions(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantCode   int
		wantAction string
	}{
		{"reboot", "POST", "/devices/reboot", `{"ip":"10.0.0.5"}`, http.StatusOK, "reboot"},
		{"firmware", "POST", "/devices/firmware", `{"device_id":"dev-1","ota_url":"http://fw/x.zip"}`, http.StatusOK, "firmware"},
		{"firmware without url", "POST", "/devices/firmware", `{"ip":"10.0.0.5"}`, http.StatusBadRequest, ""},
		{"wifi", "POST", "/devices/wifi", `{"ip":"10.0.0.5","ssid":"site-iot","password":"hunter2"}`, http.StatusOK, "wifi"},
		{"wifi without ssid", "POST", "/devices/wifi", `{"ip":"10.0.0.5"}`, http.StatusBadRequest, ""},
		{"power toggle", "POST", "/devices/power", `{"ip":"10.0.0.5","channel":1}`, http.StatusOK, "power-toggle"},
		{"negative channel", "POST", "/devices/power", `{"ip":"10.0.0.5","channel":-1}`, http.StatusBadRequest, ""},
		{"settings update", "PUT", "/devices/settings", `{"ip":"10.0.0.5","settings":{"name":"kitchen"}}`, http.StatusOK, "settings"},
		{"unknown device is not logged", "POST", "/devices/reboot", `{"ip":"10.0.0.99"}`, http.StatusOK, ""},
		{"missing address", "POST", "/devices/reboot", `{}`, http.StatusBadRequest, ""},
		{"bad json", "POST", "/devices/reboot", `{`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestModule(t)
			w := serve(m, tt.method, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			logs, err := m.store.ListActions(context.Background(), "dev-1", 10)
			if err != nil {
				t.Fatalf("ListActions() error = %v", err)
			}
			if tt.wantAction == "" {
				if len(logs) != 0 {
					t.Errorf("action logs = %d, want 0", len(logs))
				}
				return
			}
			if len(logs) != 1 || logs[0].Action != tt.wantAction {
				t.Fatalf("action logs = %+v, want one %q entry", logs, tt.wantAction)
			}
			if strings.Contains(string(logs[0].Payload), "hunter2") {
				t.Error("action log payload contains the Wi-Fi password")
			}
		})
	}
}

func TestHandleActions_DeviceFailure(t *testing.T) {
	m, act := newTestModule(t)
	act.err = &probe.ActionError{Action: "reboot", Err: &probe.HTTPError{Status: http.StatusInternalServerError}}

	w := serve(m, "POST", "/devices/reboot", `{"ip":"10.0.0.5"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502; body: %s", w.Code, w.Body.String())
	}
	if got := len(act.targets); got != 1 {
		t.Errorf("device calls = %d, want 1 (no retries)", got)
	}

	logs, _ := m.store.ListActions(context.Background(), "dev-1", 10)
	if len(logs) != 1 {
		t.Fatalf("action logs = %d, want 1", len(logs))
	}
	var result map[string]string
	if err := json.Unmarshal(logs[0].Result, &result); err != nil || result["error"] == "" {
		t.Errorf("logged result = %s, want an error entry", logs[0].Result)
	}
}

func TestHandleQueries(t *testing.T) {
	m, act := newTestModule(t)

	w := serve(m, "GET", "/devices/settings?device_id=dev-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("settings status = %d; body: %s", w.Code, w.Body.String())
	}
	if act.last().Credentials.Password != "stored" {
		t.Errorf("credentials = %+v, want stored ones", act.last().Credentials)
	}

	w = serve(m, "GET", "/devices/power?ip=10.0.0.5&channel=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("power status = %d", w.Code)
	}
	var pr probe.PowerResult
	if err := json.NewDecoder(w.Body).Decode(&pr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pr.Channel != 2 || pr.State != probe.PowerOff {
		t.Errorf("power = %+v", pr)
	}

	if w := serve(m, "GET", "/devices/power?ip=10.0.0.5&channel=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad channel status = %d, want 400", w.Code)
	}

	logs, _ := m.store.ListActions(context.Background(), "dev-1", 10)
	if len(logs) != 0 {
		t.Errorf("reads were logged: %+v", logs)
	}
}

func TestHandleListActions(t *testing.T) {
	m, _ := newTestModule(t)
	serve(m, "POST", "/devices/reboot", `{"ip":"10.0.0.5"}`)
	serve(m, "POST", "/devices/power", `{"ip":"10.0.0.5"}`)

	w := serve(m, "GET", "/devices/dev-1/actions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var logs []models.ActionLog
	if err := json.NewDecoder(w.Body).Decode(&logs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(logs) != 2 || logs[0].Action != "power-toggle" {
		t.Errorf("logs = %+v, want newest first", logs)
	}

	w = serve(m, "GET", "/devices/other/actions", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %s, want []", w.Body.String())
	}
}
