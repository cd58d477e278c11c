package recon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/relayscan/pkg/models"
	"go.uber.org/zap"
)

type fakeRunner struct {
	mu   sync.Mutex
	reqs []ScanRequest
	err  error
	done chan struct{}
}

func (r *fakeRunner) RunScan(_ context.Context, req ScanRequest) (*ScanOutcome, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	if r.done != nil {
		select {
		case r.done <- struct{}{}:
		default:
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &ScanOutcome{}, nil
}

func (r *fakeRunner) requests() []ScanRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ScanRequest(nil), r.reqs...)
}

type fakeCreds map[string]models.Credentials

func (f fakeCreds) Credentials(_ context.Context, owner string) (models.Credentials, bool, error) {
	c, ok := f[owner]
	return c, ok, nil
}

func newTestScheduler(t *testing.T, cfg ReconConfig) (*AutoScanner, *ReconStore, *fakeRunner, *scanGate) {
	t.Helper()
	s := testStore(t)
	runner := &fakeRunner{}
	gate := &scanGate{}
	return NewAutoScanner(cfg, runner, s, gate, nil, zap.NewNop()), s, runner, gate
}

func TestIsQuietHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }
	tests := []struct {
		name  string
		now   time.Time
		start string
		end   string
		want  bool
	}{
		{"unset", at(14, 0), "", "", false},
		{"start only", at(23, 30), "23:00", "", false},
		{"daytime window inside", at(12, 0), "09:00", "17:00", true},
		{"daytime window end is exclusive", at(17, 0), "09:00", "17:00", false},
		{"daytime window start is inclusive", at(9, 0), "09:00", "17:00", true},
		{"overnight before midnight", at(23, 45), "23:00", "06:00", true},
		{"overnight after midnight", at(5, 59), "23:00", "06:00", true},
		{"overnight outside", at(12, 0), "23:00", "06:00", false},
		{"unparseable", at(12, 0), "noon", "17:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isQuietHours(tt.now, tt.start, tt.end); got != tt.want {
				t.Errorf("isQuietHours(%s, %q, %q) = %v, want %v",
					tt.now.Format("15:04"), tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestAutoScanner_ExecuteScansCustomersWithSubnet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoScanEnabled = true
	sched, s, runner, _ := newTestScheduler(t, cfg)
	ctx := context.Background()

	withSubnet := createCustomer(t, s, "Alpha", "10.0.0.0/30")
	createCustomer(t, s, "Bravo", "   ")
	createCustomer(t, s, "Charlie", "")
	sched.SetCredentialSource(fakeCreds{withSubnet.ID: {Username: "admin", Password: "pw"}})

	sched.execute(ctx)

	reqs := runner.requests()
	if len(reqs) != 1 {
		t.Fatalf("scans = %d, want 1", len(reqs))
	}
	if reqs[0].CustomerID != withSubnet.ID || reqs[0].Subnet != "10.0.0.0/30" {
		t.Errorf("request = %+v", reqs[0])
	}
	if reqs[0].Credentials.Username != "admin" {
		t.Errorf("credentials = %+v, want stored ones", reqs[0].Credentials)
	}

	st := sched.Status()
	if st.IsRunning || st.LastRunAt == nil || st.NextRunAt == nil {
		t.Errorf("status = %+v, want idle with last and next run set", st)
	}
}

func TestAutoScanner_ExecuteContinuesAfterFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoScanEnabled = true
	sched, s, runner, _ := newTestScheduler(t, cfg)
	runner.err = errors.New("boom")
	createCustomer(t, s, "Alpha", "10.0.0.0/30")
	createCustomer(t, s, "Bravo", "10.0.1.0/30")

	sched.execute(context.Background())

	if got := len(runner.requests()); got != 2 {
		t.Errorf("scans = %d, want 2", got)
	}
}

func TestAutoScanner_ExecuteDisabledDoesNothing(t *testing.T) {
	sched, s, runner, _ := newTestScheduler(t, DefaultConfig())
	createCustomer(t, s, "Alpha", "10.0.0.0/30")

	sched.execute(context.Background())

	if got := len(runner.requests()); got != 0 {
		t.Errorf("scans = %d, want 0", got)
	}
	if st := sched.Status(); st.LastRunAt != nil {
		t.Errorf("LastRunAt = %v, want nil", st.LastRunAt)
	}
}

func TestAutoScanner_TickSkips(t *testing.T) {
	now := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	tests := []struct {
		name       string
		quietStart string
		quietEnd   string
		gateBusy   bool
	}{
		{name: "quiet hours", quietStart: "23:00", quietEnd: "06:00"},
		{name: "scan in progress", gateBusy: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.AutoScanEnabled = true
			cfg.AutoScanInterval = 5 * time.Minute
			cfg.QuietStart = tt.quietStart
			cfg.QuietEnd = tt.quietEnd
			sched, s, runner, gate := newTestScheduler(t, cfg)
			sched.nowFunc = func() time.Time { return now }
			createCustomer(t, s, "Alpha", "10.0.0.0/30")

			if tt.gateBusy {
				if !gate.TryAcquire() {
					t.Fatal("TryAcquire() = false on an idle gate")
				}
				defer gate.Release()
			}

			sched.tick(context.Background())

			if got := len(runner.requests()); got != 0 {
				t.Errorf("scans = %d, want 0", got)
			}
			st := sched.Status()
			want := now.Add(5 * time.Minute)
			if st.NextRunAt == nil || !st.NextRunAt.Equal(want) {
				t.Errorf("NextRunAt = %v, want %v", st.NextRunAt, want)
			}
			if st.LastRunAt != nil {
				t.Errorf("LastRunAt = %v, want nil for a skipped pass", st.LastRunAt)
			}
		})
	}
}

func TestAutoScanner_TickReleasesGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoScanEnabled = true
	sched, s, runner, gate := newTestScheduler(t, cfg)
	createCustomer(t, s, "Alpha", "10.0.0.0/30")

	sched.tick(context.Background())

	if got := len(runner.requests()); got != 1 {
		t.Errorf("scans = %d, want 1", got)
	}
	if gate.Busy() {
		t.Error("gate still held after tick")
	}
}

func TestAutoScanner_PreferencesPersist(t *testing.T) {
	sched, s, _, _ := newTestScheduler(t, DefaultConfig())
	ctx := context.Background()

	if _, err := sched.SetInterval(ctx, 90*time.Second); err != nil {
		t.Fatalf("SetInterval() error = %v", err)
	}
	st, err := sched.SetEnabled(ctx, true)
	if err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	if !st.Enabled || st.NextRunAt == nil {
		t.Errorf("status = %+v, want enabled with a pass scheduled", st)
	}

	reloaded := NewAutoScanner(DefaultConfig(), &fakeRunner{}, s, &scanGate{}, nil, zap.NewNop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := reloaded.Status()
	if !got.Enabled || got.IntervalMs != 90000 {
		t.Errorf("reloaded status = %+v, want enabled at 90000ms", got)
	}
	if got.NextRunAt == nil {
		t.Error("NextRunAt = nil, want an immediate pass after Load")
	}

	raw, ok, err := s.GetSetting(ctx, settingAutoScan)
	if err != nil || !ok {
		t.Fatalf("GetSetting() = %v, %v", ok, err)
	}
	if raw != `{"enabled":true,"intervalMs":90000}` {
		t.Errorf("stored preferences = %s", raw)
	}
}

func TestAutoScanner_SetIntervalRejectsTooShort(t *testing.T) {
	sched, _, _, _ := newTestScheduler(t, DefaultConfig())

	_, err := sched.SetInterval(context.Background(), 500*time.Millisecond)
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("SetInterval() error = %v, want ErrInvalidInput", err)
	}
	if got := sched.Status().IntervalMs; got != 60000 {
		t.Errorf("IntervalMs = %d, want unchanged 60000", got)
	}
}

func TestAutoScanner_DisableClearsNextRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoScanEnabled = true
	sched, _, _, _ := newTestScheduler(t, cfg)
	ctx := context.Background()
	if err := sched.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sched.Status().NextRunAt == nil {
		t.Fatal("NextRunAt = nil after Load with auto-scan enabled")
	}

	st, err := sched.SetEnabled(ctx, false)
	if err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	if st.Enabled || st.NextRunAt != nil {
		t.Errorf("status = %+v, want disabled with nothing scheduled", st)
	}
}

func TestAutoScanner_RunLoop(t *testing.T) {
	sched, s, runner, _ := newTestScheduler(t, DefaultConfig())
	runner.done = make(chan struct{}, 1)
	createCustomer(t, s, "Alpha", "10.0.0.0/30")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(stopped)
	}()

	if _, err := sched.SetEnabled(ctx, true); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	select {
	case <-runner.done:
	case <-time.After(5 * time.Second):
		t.Fatal("no scan within 5s of enabling auto-scan")
	}

	sched.Stop()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
