package probe

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/relayscan/pkg/models"
	"go.uber.org/zap"
)

// fakeDevice serves canned responses and records the paths it was asked for.
type fakeDevice struct {
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	hits   []string
	auth   []string
	bodies map[string]string
}

func (d *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	d.mu.Lock()
	d.hits = append(d.hits, key)
	user, pass, ok := r.BasicAuth()
	if ok {
		d.auth = append(d.auth, user+":"+pass)
	}
	if r.Body != nil {
		var b json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&b); err == nil {
			d.bodies[key] = string(b)
		}
	}
	h, found := d.routes[key]
	d.mu.Unlock()
	if !found {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (d *fakeDevice) Hits() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.hits...)
}

func (d *fakeDevice) Body(key string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bodies[key]
}

// newFakeDevice starts a device on 127.0.0.1 and returns a client aimed at it.
func newFakeDevice(t *testing.T, routes map[string]http.HandlerFunc, opts ...Option) (*fakeDevice, *Client, Target) {
	t.Helper()
	d := &fakeDevice{routes: routes, bodies: map[string]string{}}
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split listener addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	c := New(zap.NewNop(), append([]Option{WithPort(port)}, opts...)...)
	return d, c, Target{IP: "127.0.0.1"}
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func statusHandler(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, http.StatusText(code), code)
	}
}

const (
	rpcInfo = `{"name":"kitchen","id":"shellyplus1pm-a8032ab12345","mac":"A8032AB12345",` +
		`"model":"SNSW-001P16EU","gen":2,"fw_id":"20231107-164738/1.0.8-g8c7bb8d","ver":"1.0.8","app":"Plus1PM"}`
	rpcStatus   = `{"sys":{"uptime":5321},"wifi":{"sta_ip":"192.168.1.20","ssid":"site-iot","rssi":-58}}`
	legacyInfo  = `{"type":"SHSW-1","mac":"E8DB84D1A2B3","auth":true,"fw":"20230913-112003/v1.14.0-gcb84623"}`
	legacyState = `{"wifi_sta":{"connected":true,"ssid":"legacy-net","ip":"192.168.1.30","rssi":-70},"uptime":99}`
)

func TestProbe_RPCDialect(t *testing.T) {
	d, c, target := newFakeDevice(t, map[string]http.HandlerFunc{
		"GET /rpc/Shelly.GetDeviceInfo": jsonHandler(rpcInfo),
		"GET /rpc/Shelly.GetStatus":     jsonHandler(rpcStatus),
	})

	res := c.Probe(t.Context(), target)
	if !res.Online {
		t.Fatalf("Probe() offline: %s", res.Reason)
	}
	a := res.Attributes
	checks := []struct {
		field, got, want string
	}{
		{"DeviceIdentifier", a.DeviceIdentifier, "shellyplus1pm-a8032ab12345"},
		{"MAC", a.MAC, "A8032AB12345"},
		{"Model", a.Model, "Plus1PM"},
		{"Hostname", a.Hostname, "kitchen"},
		{"FirmwareVersion", a.FirmwareVersion, "1.0.8"},
		{"WifiSSID", a.WifiSSID, "site-iot"},
		{"App", a.App, "Plus1PM"},
		{"Generation", a.Generation, "2"},
		{"IP", a.IP, "127.0.0.1"},
	}
	for _, ck := range checks {
		if ck.got != ck.want {
			t.Errorf("%s = %q, want %q", ck.field, ck.got, ck.want)
		}
	}
	if a.UptimeSeconds == nil || *a.UptimeSeconds != 5321 {
		t.Errorf("UptimeSeconds = %v, want 5321", a.UptimeSeconds)
	}
	if a.RSSI == nil || *a.RSSI != -58 {
		t.Errorf("RSSI = %v, want -58", a.RSSI)
	}

	var raw struct {
		Info   map[string]any `json:"info"`
		Status map[string]any `json:"status"`
	}
	if err := json.Unmarshal(a.Raw, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw.Info["id"] != "shellyplus1pm-a8032ab12345" || raw.Status["sys"] == nil {
		t.Errorf("raw payload missing info/status: %s", a.Raw)
	}
	for _, h := range d.Hits() {
		if h == "GET /shelly" {
			t.Error("legacy endpoint hit although RPC succeeded")
		}
	}
}

func TestProbe_FallsBackToLegacy(t *testing.T) {
	tests := []struct {
		name   string
		routes map[string]http.HandlerFunc
	}{
		{
			name: "rpc not found",
			routes: map[string]http.HandlerFunc{
				"GET /shelly": jsonHandler(legacyInfo),
				"GET /status": jsonHandler(legacyState),
			},
		},
		{
			name: "rpc status call fails",
			routes: map[string]http.HandlerFunc{
				"GET /rpc/Shelly.GetDeviceInfo": jsonHandler(rpcInfo),
				"GET /rpc/Shelly.GetStatus":     statusHandler(http.StatusInternalServerError),
				"GET /shelly":                   jsonHandler(legacyInfo),
				"GET /status":                   jsonHandler(legacyState),
			},
		},
		{
			name: "rpc answers html",
			routes: map[string]http.HandlerFunc{
				"GET /rpc/Shelly.GetDeviceInfo": func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Content-Type", "text/html")
					_, _ = w.Write([]byte("<html>router login</html>"))
				},
				"GET /shelly": jsonHandler(legacyInfo),
				"GET /status": jsonHandler(legacyState),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c, target := newFakeDevice(t, tt.routes)
			res := c.Probe(t.Context(), target)
			if !res.Online {
				t.Fatalf("Probe() offline: %s", res.Reason)
			}
			a := res.Attributes
			if a.Generation != "1" {
				t.Errorf("Generation = %q, want %q", a.Generation, "1")
			}
			if a.DeviceIdentifier != "E8DB84D1A2B3" {
				t.Errorf("DeviceIdentifier = %q, want mac fallback", a.DeviceIdentifier)
			}
			if a.App != "SHSW-1" || a.WifiSSID != "legacy-net" {
				t.Errorf("App/WifiSSID = %q/%q", a.App, a.WifiSSID)
			}
			if a.FirmwareVersion != "20230913-112003/v1.14.0-gcb84623" {
				t.Errorf("FirmwareVersion = %q", a.FirmwareVersion)
			}
			if a.UptimeSeconds == nil || *a.UptimeSeconds != 99 {
				t.Errorf("UptimeSeconds = %v, want 99", a.UptimeSeconds)
			}
		})
	}
}

func TestProbe_BothDialectsFail(t *testing.T) {
	_, c, target := newFakeDevice(t, map[string]http.HandlerFunc{
		"GET /shelly": statusHandler(http.StatusUnauthorized),
	})
	res := c.Probe(t.Context(), target)
	if res.Online {
		t.Fatal("Probe() online, want offline")
	}
	if !errors.Is(res.Err, models.ErrProbeProtocol) {
		t.Errorf("Err = %v, want ErrProbeProtocol", res.Err)
	}
	if StatusOf(res.Err) != http.StatusUnauthorized {
		t.Errorf("last error status = %d, want 401", StatusOf(res.Err))
	}
}

func TestProbe_TimeoutSkipsFallback(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	d, c, target := newFakeDevice(t, map[string]http.HandlerFunc{
		"GET /rpc/Shelly.GetDeviceInfo": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
		"GET /shelly": jsonHandler(legacyInfo),
		"GET /status": jsonHandler(legacyState),
	}, WithTimeout(50*time.Millisecond))

	res := c.Probe(t.Context(), target)
	if res.Online {
		t.Fatal("Probe() online, want offline")
	}
	if !errors.Is(res.Err, models.ErrProbeTimeout) {
		t.Errorf("Err = %v, want ErrProbeTimeout", res.Err)
	}
	for _, h := range d.Hits() {
		if h == "GET /shelly" {
			t.Error("legacy dialect tried after a timeout")
		}
	}
}

func TestProbe_BasicAuth(t *testing.T) {
	tests := []struct {
		name     string
		creds    models.Credentials
		wantAuth bool
	}{
		{"both set", models.Credentials{Username: "admin", Password: "pw"}, true},
		{"password missing", models.Credentials{Username: "admin"}, false},
		{"none", models.Credentials{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, c, target := newFakeDevice(t, map[string]http.HandlerFunc{
				"GET /rpc/Shelly.GetDeviceInfo": jsonHandler(rpcInfo),
				"GET /rpc/Shelly.GetStatus":     jsonHandler(rpcStatus),
			})
			target.Credentials = tt.creds
			c.Probe(t.Context(), target)

			d.mu.Lock()
			defer d.mu.Unlock()
			if tt.wantAuth {
				if len(d.auth) != 2 || d.auth[0] != "admin:pw" {
					t.Errorf("auth headers = %v, want admin:pw on both calls", d.auth)
				}
			} else if len(d.auth) != 0 {
				t.Errorf("auth headers = %v, want none", d.auth)
			}
		})
	}
}

func TestNormalizeRPC_FieldFallbacks(t *testing.T) {
	info := []byte(`{"sys":{"device":{"id":"dev-1","mac":"aa:bb","model":"M1","hostname":"h1","type":"T1","gen":3}},"fw_id":"fw-9"}`)
	status := []byte(`{"wifi":{"sta":{"ssid":"nested"}},"uptime":12,"sys":{"uptime":-1}}`)

	a := normalizeRPC("10.0.0.9", info, status)
	if a.DeviceIdentifier != "dev-1" || a.MAC != "aa:bb" || a.Model != "M1" {
		t.Errorf("identity = %q/%q/%q", a.DeviceIdentifier, a.MAC, a.Model)
	}
	if a.Hostname != "h1" || a.App != "T1" || a.Generation != "3" {
		t.Errorf("hostname/app/gen = %q/%q/%q", a.Hostname, a.App, a.Generation)
	}
	if a.FirmwareVersion != "fw-9" || a.WifiSSID != "nested" {
		t.Errorf("firmware/ssid = %q/%q", a.FirmwareVersion, a.WifiSSID)
	}
	// A negative sys.uptime is skipped in favour of the top-level value.
	if a.UptimeSeconds == nil || *a.UptimeSeconds != 12 {
		t.Errorf("UptimeSeconds = %v, want 12", a.UptimeSeconds)
	}
}

func TestNormalizeRPC_Defaults(t *testing.T) {
	a := normalizeRPC("10.0.0.9", []byte(`{}`), []byte(`{}`))
	if a.DeviceIdentifier != "10.0.0.9" {
		t.Errorf("DeviceIdentifier = %q, want the probed IP", a.DeviceIdentifier)
	}
	if a.Generation != "2" {
		t.Errorf("Generation = %q, want %q", a.Generation, "2")
	}
	if a.FirmwareVersion != "" || a.UptimeSeconds != nil || a.RSSI != nil {
		t.Errorf("unexpected values: %+v", a)
	}
	if RequireFirmwareVersion(a) {
		t.Error("RequireFirmwareVersion accepted a result without firmware")
	}
}

func TestNormalizeLegacy_Defaults(t *testing.T) {
	a := normalizeLegacy("10.0.0.7", []byte(`{"id":"shelly1-abc","fw_ver":"v1.9","model":"SHSW-1"}`), []byte(`{"sys":{"uptime":7}}`))
	if a.DeviceIdentifier != "shelly1-abc" || a.Hostname != "shelly1-abc" {
		t.Errorf("identifier/hostname = %q/%q", a.DeviceIdentifier, a.Hostname)
	}
	if a.App != "SHSW-1" || a.FirmwareVersion != "v1.9" || a.Generation != "1" {
		t.Errorf("app/fw/gen = %q/%q/%q", a.App, a.FirmwareVersion, a.Generation)
	}
	if a.UptimeSeconds == nil || *a.UptimeSeconds != 7 {
		t.Errorf("UptimeSeconds = %v, want 7", a.UptimeSeconds)
	}
}
