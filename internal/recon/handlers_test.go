package recon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/HerbHall/relayscan/pkg/models"
	"github.com/HerbHall/relayscan/pkg/plugin/plugintest"
)

// memCreds is an in-memory CredentialStore.
type memCreds struct {
	mu sync.Mutex
	m  map[string]models.Credentials
}

func (c *memCreds) Credentials(_ context.Context, owner string) (models.Credentials, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[owner]
	return v, ok, nil
}

func (c *memCreds) PutCredentials(_ context.Context, owner string, v models.Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]models.Credentials{}
	}
	c.m[owner] = v
	return nil
}

func (c *memCreds) HasCredentials(_ context.Context, owner string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[owner]
	return ok, nil
}

func (c *memCreds) DeleteCredentials(_ context.Context, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, owner)
	return nil
}

// newTestModule initializes a Module on an in-memory store with a fake
// prober and credential store.
func newTestModule(t *testing.T) (*Module, *fakeProber, *memCreds) {
	t.Helper()
	prober := &fakeProber{}
	m := New()
	m.prober = prober
	if err := m.Init(context.Background(), plugintest.Deps(t, "recon")); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	creds := &memCreds{}
	m.creds = creds
	m.scheduler.SetCredentialSource(creds)
	return m, prober, creds
}

// serve dispatches through a mux so path values resolve as in production.
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

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHandleCreateCustomer(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"valid", `{"name":"Harbor Cafe","subnet":" 10.0.0.0/24 "}`, http.StatusCreated},
		{"no subnet", `{"name":"Harbor Cafe"}`, http.StatusCreated},
		{"missing name", `{"subnet":"10.0.0.0/24"}`, http.StatusBadRequest},
		{"bad subnet", `{"name":"x","subnet":"10.0.0.0/40"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestModule(t)
			w := serve(m, "POST", "/customers", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusCreated {
				if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
					t.Errorf("Content-Type = %q, want application/problem+json", ct)
				}
				return
			}
			c := decode[models.Customer](t, w)
			if c.ID == "" || c.Name != "Harbor Cafe" {
				t.Errorf("customer = %+v", c)
			}
			if strings.Contains(tt.body, "subnet") && c.Subnet != "10.0.0.0/24" {
				t.Errorf("Subnet = %q, want trimmed", c.Subnet)
			}
		})
	}
}

func TestHandleCustomerCredentials(t *testing.T) {
	m, _, creds := newTestModule(t)

	w := serve(m, "POST", "/customers", `{"name":"Harbor Cafe","device_credentials":{"username":"admin","password":"pw"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	c := decode[models.Customer](t, w)
	if !c.HasSecrets {
		t.Error("HasSecrets = false after storing credentials")
	}
	if got := m.CustomerCredentials(context.Background(), c.ID); got.Username != "admin" {
		t.Errorf("stored credentials = %+v", got)
	}
	if strings.Contains(w.Body.String(), "pw") {
		t.Error("response leaks the device password")
	}

	w = serve(m, "PUT", "/customers/"+c.ID, `{"name":"Harbor Cafe","device_credentials":{}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d; body: %s", w.Code, w.Body.String())
	}
	if decode[models.Customer](t, w).HasSecrets {
		t.Error("HasSecrets = true after clearing credentials")
	}

	_ = creds.PutCredentials(context.Background(), c.ID, models.Credentials{Username: "a", Password: "b"})
	if w := serve(m, "DELETE", "/customers/"+c.ID, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if ok, _ := creds.HasCredentials(context.Background(), c.ID); ok {
		t.Error("credentials survived customer deletion")
	}
	if w := serve(m, "GET", "/customers/"+c.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestHandleScan(t *testing.T) {
	m, prober, _ := newTestModule(t)
	c := createCustomer(t, m.store, "Harbor Cafe", "10.0.0.0/30")
	prober.set("10.0.0.2", relay("relay-a", "AA:00:00:00:00:01", "1.0"))

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"stored subnet", `{"customer_id":"` + c.ID + `"}`, http.StatusOK},
		{"explicit list", `{"customer_id":"` + c.ID + `","ip_list":["10.0.0.2"]}`, http.StatusOK},
		{"missing customer", `{"subnet":"10.0.0.0/30"}`, http.StatusBadRequest},
		{"unknown customer", `{"customer_id":"nope","subnet":"10.0.0.0/30"}`, http.StatusNotFound},
		{"bad subnet", `{"customer_id":"` + c.ID + `","subnet":"10.0.0.0/99"}`, http.StatusBadRequest},
		{"negative timeout", `{"customer_id":"` + c.ID + `","timeout_ms":-1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(m, "POST", "/scan", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			out := decode[ScanOutcome](t, w)
			if out.ScanRun == nil || out.ScanRun.Status != models.ScanStatusCompleted {
				t.Errorf("scan run = %+v, want completed", out.ScanRun)
			}
			if len(out.Results) != 1 || out.Results[0].DeviceIdentifier != "relay-a" {
				t.Errorf("results = %+v", out.Results)
			}
		})
	}
}

func TestHandleScan_UsesStoredCredentials(t *testing.T) {
	m, prober, creds := newTestModule(t)
	c := createCustomer(t, m.store, "Harbor Cafe", "")
	_ = creds.PutCredentials(context.Background(), c.ID, models.Credentials{Username: "admin", Password: "pw"})

	w := serve(m, "POST", "/scan", `{"customer_id":"`+c.ID+`","ip_list":["10.0.0.7"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if len(prober.calls) != 1 || prober.calls[0].Credentials.Username != "admin" {
		t.Errorf("probe calls = %+v, want stored credentials", prober.calls)
	}
}

func TestHandleScan_Conflict(t *testing.T) {
	m, _, _ := newTestModule(t)
	c := createCustomer(t, m.store, "Harbor Cafe", "10.0.0.0/30")

	if !m.gate.TryAcquire() {
		t.Fatal("TryAcquire() = false on an idle gate")
	}
	defer m.gate.Release()

	w := serve(m, "POST", "/scan", `{"customer_id":"`+c.ID+`"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestHandleDevices(t *testing.T) {
	m, prober, _ := newTestModule(t)
	c := createCustomer(t, m.store, "Harbor Cafe", "10.0.0.0/30")
	prober.set("10.0.0.1", relay("relay-a", "AA:00:00:00:00:01", "1.0"))
	if _, err := m.Scan(context.Background(), ScanRequest{CustomerID: c.ID}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if w := serve(m, "GET", "/devices", ""); w.Code != http.StatusBadRequest {
		t.Errorf("list without customer_id status = %d, want 400", w.Code)
	}

	w := serve(m, "GET", "/devices?customer_id="+c.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	devices := decode[[]models.Device](t, w)
	if len(devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(devices))
	}
	id := devices[0].ID

	w = serve(m, "GET", "/devices/"+id+"/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	if hist := decode[[]models.Snapshot](t, w); len(hist) != 1 {
		t.Errorf("history = %d snapshots, want 1", len(hist))
	}

	if w := serve(m, "DELETE", "/devices/"+id, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := serve(m, "GET", "/devices/"+id, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestHandleScans(t *testing.T) {
	m, _, _ := newTestModule(t)
	c := createCustomer(t, m.store, "Harbor Cafe", "")
	out, err := m.Scan(context.Background(), ScanRequest{CustomerID: c.ID, IPList: []string{"10.0.0.9"}})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	w := serve(m, "GET", "/scans?customer_id="+c.ID, "")
	if runs := decode[[]models.ScanRun](t, w); len(runs) != 1 {
		t.Errorf("runs = %d, want 1", len(runs))
	}
	if w := serve(m, "GET", "/scans/"+out.ScanRun.ID+"/snapshots", ""); w.Code != http.StatusOK {
		t.Errorf("snapshots status = %d", w.Code)
	}
	if w := serve(m, "DELETE", "/scans/"+out.ScanRun.ID, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := serve(m, "GET", "/scans/"+out.ScanRun.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestHandleAutoScan(t *testing.T) {
	m, _, _ := newTestModule(t)

	w := serve(m, "PUT", "/autoscan", `{"interval_ms":120000,"enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	st := decode[AutoScanStatus](t, w)
	if !st.Enabled || st.IntervalMs != 120000 {
		t.Errorf("status = %+v", st)
	}

	if w := serve(m, "PUT", "/autoscan", `{"interval_ms":10}`); w.Code != http.StatusBadRequest {
		t.Errorf("short interval status = %d, want 400", w.Code)
	}

	w = serve(m, "GET", "/autoscan", "")
	if got := decode[AutoScanStatus](t, w); got.IntervalMs != 120000 {
		t.Errorf("IntervalMs = %d, want 120000", got.IntervalMs)
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=-1", 50},
		{"limit=abc", 50},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/scans?"+tt.query, nil)
		if got := queryInt(r, "limit", 50); got != tt.want {
			t.Errorf("queryInt(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
