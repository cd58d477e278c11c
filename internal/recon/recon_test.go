package recon

import (
	"context"
	"testing"

	"github.com/HerbHall/relayscan/pkg/plugin"
	"github.com/HerbHall/relayscan/pkg/plugin/plugintest"
)

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New() })
}

func TestModule_HealthReportsScanGate(t *testing.T) {
	m, _, _ := newTestModule(t)

	if got := m.Health(context.Background()).Details["scan_in_progress"]; got != "false" {
		t.Errorf("scan_in_progress = %q, want false", got)
	}
	m.gate.TryAcquire()
	defer m.gate.Release()
	if got := m.Health(context.Background()).Details["scan_in_progress"]; got != "true" {
		t.Errorf("scan_in_progress = %q, want true", got)
	}
}

func TestModule_ScanWithoutStoredCredentials(t *testing.T) {
	m, prober, _ := newTestModule(t)
	m.creds = nil
	c := createCustomer(t, m.store, "Harbor Cafe", "")

	if _, err := m.Scan(context.Background(), ScanRequest{CustomerID: c.ID, IPList: []string{"10.0.0.4"}}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got := prober.calls[0].Credentials; got.Present() {
		t.Errorf("credentials = %+v, want none", got)
	}
}

func TestModule_DeviceAt(t *testing.T) {
	m, prober, _ := newTestModule(t)
	c := createCustomer(t, m.store, "Harbor Cafe", "")
	prober.set("10.0.0.5", relay("relay-a", "", "1.0"))
	if _, err := m.Scan(context.Background(), ScanRequest{CustomerID: c.ID, IPList: []string{"10.0.0.5"}}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	dev, err := m.DeviceAt(context.Background(), "10.0.0.5")
	if err != nil {
		t.Fatalf("DeviceAt() error = %v", err)
	}
	if dev.DeviceIdentifier != "relay-a" || dev.CustomerID != c.ID {
		t.Errorf("device = %+v", dev)
	}
}

func TestModule_StartStop(t *testing.T) {
	m, _, _ := newTestModule(t)
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
