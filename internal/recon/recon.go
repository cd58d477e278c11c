package recon

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/relayscan/internal/probe"
	"github.com/HerbHall/relayscan/pkg/models"
	"github.com/HerbHall/relayscan/pkg/plugin"
	"github.com/HerbHall/relayscan/pkg/roles"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin         = (*Module)(nil)
	_ plugin.HTTPProvider   = (*Module)(nil)
	_ plugin.HealthChecker  = (*Module)(nil)
	_ roles.DeviceDirectory = (*Module)(nil)
)

// ErrScanInProgress is returned when a scan is requested while another one
// holds the scan gate.
var ErrScanInProgress = errors.New("a scan is already in progress")

// scanGate keeps on-demand scans and auto-scan passes from overlapping.
type scanGate struct {
	mu   sync.Mutex
	busy atomic.Bool
}

func (g *scanGate) TryAcquire() bool {
	if !g.mu.TryLock() {
		return false
	}
	g.busy.Store(true)
	return true
}

func (g *scanGate) Release() {
	g.busy.Store(false)
	g.mu.Unlock()
}

// Busy reports whether a scan currently holds the gate.
func (g *scanGate) Busy() bool { return g.busy.Load() }

// Module implements the Recon discovery plugin.
type Module struct {
	logger       *zap.Logger
	cfg          ReconConfig
	store        *ReconStore
	bus          plugin.EventBus
	orchestrator *ScanOrchestrator
	scheduler    *AutoScanner
	gate         scanGate
	creds        CredentialStore
	wg           sync.WaitGroup
	scanCtx      context.Context
	scanCancel   context.CancelFunc

	// prober overrides the HTTP probe client; set by tests.
	prober Prober
}

// New creates a new Recon plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "recon",
		Version:      "0.1.0",
		Description:  "Relay controller discovery and reconciliation",
		Dependencies: []string{"vault"},
		Required:     true,
		Roles:        []string{roles.RoleDiscovery},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	// Load config with defaults.
	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if v := deps.Config.GetInt("concurrency"); v > 0 {
			m.cfg.Concurrency = v
		}
		if d := deps.Config.GetDuration("probe_timeout"); d > 0 {
			m.cfg.ProbeTimeout = d
		}
		if v := deps.Config.GetInt("probe_port"); v > 0 {
			m.cfg.ProbePort = v
		}
		if v := deps.Config.GetInt("max_targets"); v > 0 {
			m.cfg.MaxTargets = v
		}
		if deps.Config.IsSet("accept_unversioned") {
			m.cfg.AcceptUnversioned = deps.Config.GetBool("accept_unversioned")
		}
		if deps.Config.IsSet("autoscan_enabled") {
			m.cfg.AutoScanEnabled = deps.Config.GetBool("autoscan_enabled")
		}
		if d := deps.Config.GetDuration("autoscan_interval"); d > 0 {
			m.cfg.AutoScanInterval = d
		}
		m.cfg.QuietStart = deps.Config.GetString("quiet_start")
		m.cfg.QuietEnd = deps.Config.GetString("quiet_end")
	}

	if err := deps.Store.Migrate(ctx, "recon", migrations()); err != nil {
		return err
	}
	m.store = NewReconStore(deps.Store.DB())

	prober := m.prober
	if prober == nil {
		opts := []probe.Option{probe.WithTimeout(m.cfg.ProbeTimeout)}
		if m.cfg.ProbePort > 0 {
			opts = append(opts, probe.WithPort(m.cfg.ProbePort))
		}
		prober = probe.New(m.logger.Named("probe"), opts...)
	}
	m.orchestrator = NewScanOrchestrator(m.store, prober, m.bus, m.cfg, m.logger)

	if deps.Plugins != nil {
		for _, p := range deps.Plugins.ResolveByRole(roles.RoleCredentialStore) {
			if src, ok := p.(CredentialStore); ok {
				m.creds = src
				break
			}
		}
	}
	if m.creds == nil {
		m.logger.Warn("no credential store available; stored device credentials are disabled")
	}

	m.scheduler = NewAutoScanner(m.cfg, m.orchestrator, m.store, &m.gate, m.bus, m.logger.Named("autoscan"))
	if m.creds != nil {
		m.scheduler.SetCredentialSource(m.creds)
	}
	if err := m.scheduler.Load(ctx); err != nil {
		return err
	}

	m.logger.Info("recon module initialized",
		zap.Int("concurrency", m.cfg.Concurrency),
		zap.Duration("probe_timeout", m.cfg.ProbeTimeout),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.scanCtx, m.scanCancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.scheduler.Run(m.scanCtx)
	}()

	m.logger.Info("recon module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("recon module stopping, cancelling active scans")
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
	if m.scanCancel != nil {
		m.scanCancel()
	}
	m.wg.Wait()
	m.logger.Info("recon module stopped")
	return nil
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/scan", Handler: m.handleScan},
		{Method: "GET", Path: "/scans", Handler: m.handleListScans},
		{Method: "GET", Path: "/scans/{id}", Handler: m.handleGetScan},
		{Method: "GET", Path: "/scans/{id}/snapshots", Handler: m.handleScanSnapshots},
		{Method: "DELETE", Path: "/scans/{id}", Handler: m.handleDeleteScan},
		{Method: "GET", Path: "/devices", Handler: m.handleListDevices},
		{Method: "GET", Path: "/devices/{id}", Handler: m.handleGetDevice},
		{Method: "GET", Path: "/devices/{id}/history", Handler: m.handleDeviceHistory},
		{Method: "DELETE", Path: "/devices/{id}", Handler: m.handleDeleteDevice},
		{Method: "GET", Path: "/customers", Handler: m.handleListCustomers},
		{Method: "POST", Path: "/customers", Handler: m.handleCreateCustomer},
		{Method: "GET", Path: "/customers/{id}", Handler: m.handleGetCustomer},
		{Method: "PUT", Path: "/customers/{id}", Handler: m.handleUpdateCustomer},
		{Method: "DELETE", Path: "/customers/{id}", Handler: m.handleDeleteCustomer},
		{Method: "GET", Path: "/autoscan", Handler: m.handleGetAutoScan},
		{Method: "PUT", Path: "/autoscan", Handler: m.handleUpdateAutoScan},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	st := AutoScanStatus{}
	if m.scheduler != nil {
		st = m.scheduler.Status()
	}
	return plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"scan_in_progress": strconv.FormatBool(m.gate.Busy()),
			"autoscan_enabled": strconv.FormatBool(st.Enabled),
			"concurrency":      strconv.Itoa(m.cfg.Concurrency),
		},
	}
}

// Scan runs one on-demand scan. It fails with ErrScanInProgress instead of
// waiting when another scan holds the gate. An empty target spec falls back
// to the customer's stored subnet, and absent credentials fall back to the
// customer's stored ones. The scan runs on the module context, so it
// survives the caller going away but not module shutdown.
func (m *Module) Scan(ctx context.Context, req ScanRequest) (*ScanOutcome, error) {
	if !m.gate.TryAcquire() {
		return nil, ErrScanInProgress
	}
	defer m.gate.Release()

	if id := strings.TrimSpace(req.CustomerID); id != "" && strings.TrimSpace(req.Subnet) == "" && len(req.IPList) == 0 {
		if c, err := m.store.GetCustomer(ctx, id); err == nil {
			req.Subnet = c.Subnet
		}
	}
	if !req.Credentials.Present() && req.CustomerID != "" {
		req.Credentials = m.CustomerCredentials(ctx, req.CustomerID)
	}

	scanCtx, cancel := m.newScanContext()
	defer cancel()
	return m.orchestrator.RunScan(scanCtx, req)
}

// Store returns the module's store.
func (m *Module) Store() *ReconStore {
	return m.store
}

// AutoScanner returns the module's auto-scanner.
func (m *Module) AutoScanner() *AutoScanner {
	return m.scheduler
}

// Device returns a known device by ID.
func (m *Module) Device(ctx context.Context, id string) (*models.Device, error) {
	return m.store.GetDevice(ctx, id)
}

// DeviceAt returns the most recently seen device at ip, across customers.
func (m *Module) DeviceAt(ctx context.Context, ip string) (*models.Device, error) {
	return m.store.FindDeviceByAnyIP(ctx, ip)
}

// CustomerCredentials returns the customer's stored device credentials, or
// empty credentials when none are stored or the vault is sealed.
func (m *Module) CustomerCredentials(ctx context.Context, customerID string) models.Credentials {
	if m.creds == nil {
		return models.Credentials{}
	}
	c, ok, err := m.creds.Credentials(ctx, customerID)
	if err != nil {
		m.logger.Warn("device credentials unavailable",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return models.Credentials{}
	}
	if !ok {
		return models.Credentials{}
	}
	return c
}

// newScanContext creates a child context from the module's scan context.
// Before Start it derives from Background so the CLI can scan without
// starting the scheduler.
func (m *Module) newScanContext() (context.Context, context.CancelFunc) {
	if m.scanCtx == nil {
		return context.WithCancel(context.Background())
	}
	return context.WithCancel(m.scanCtx)
}

// publishEvent publishes an event to the event bus.
func (m *Module) publishEvent(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "recon",
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
