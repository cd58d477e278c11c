package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/relayscan/pkg/models"
	"github.com/HerbHall/relayscan/pkg/plugin"
	"go.uber.org/zap"
)

// settingAutoScan is the recon_settings key holding the auto-scan preferences.
const settingAutoScan = "autoscan"

// minAutoScanInterval rejects intervals that would rescan continuously.
const minAutoScanInterval = time.Second

// AutoScanStatus is a point-in-time view of the auto-scanner.
type AutoScanStatus struct {
	Enabled    bool       `json:"enabled" example:"true"`
	IntervalMs int64      `json:"interval_ms" example:"60000"`
	IsRunning  bool       `json:"is_running"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	QuietStart string     `json:"quiet_start,omitempty" example:"23:00"`
	QuietEnd   string     `json:"quiet_end,omitempty" example:"06:00"`
}

type autoScanPrefs struct {
	Enabled    bool  `json:"enabled"`
	IntervalMs int64 `json:"intervalMs"`
}

// scanRunner is satisfied by *ScanOrchestrator.
type scanRunner interface {
	RunScan(ctx context.Context, req ScanRequest) (*ScanOutcome, error)
}

// AutoScanner rescans every customer with a subnet on a fixed interval.
// Enabling it schedules a pass immediately. A pass that comes due while a
// scan holds the gate is skipped and rescheduled one interval later.
type AutoScanner struct {
	runner  scanRunner
	store   *ReconStore
	gate    *scanGate
	bus     plugin.EventBus
	logger  *zap.Logger
	nowFunc func() time.Time

	quietStart string
	quietEnd   string

	credsMu sync.RWMutex
	creds   CredentialSource

	mu        sync.Mutex
	enabled   bool
	interval  time.Duration
	running   bool
	lastRunAt *time.Time
	nextRunAt *time.Time

	wake     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewAutoScanner creates an auto-scanner seeded from cfg. Persisted
// preferences, when present, override cfg on Load.
func NewAutoScanner(
	cfg ReconConfig,
	runner scanRunner,
	store *ReconStore,
	gate *scanGate,
	bus plugin.EventBus,
	logger *zap.Logger,
) *AutoScanner {
	interval := cfg.AutoScanInterval
	if interval < minAutoScanInterval {
		interval = time.Minute
	}
	return &AutoScanner{
		runner:     runner,
		store:      store,
		gate:       gate,
		bus:        bus,
		logger:     logger,
		nowFunc:    time.Now,
		quietStart: cfg.QuietStart,
		quietEnd:   cfg.QuietEnd,
		enabled:    cfg.AutoScanEnabled,
		interval:   interval,
		wake:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// SetCredentialSource sets where per-customer device credentials come from.
func (s *AutoScanner) SetCredentialSource(src CredentialSource) {
	s.credsMu.Lock()
	s.creds = src
	s.credsMu.Unlock()
}

// Load applies persisted preferences. When enabled, the first pass is due
// immediately.
func (s *AutoScanner) Load(ctx context.Context) error {
	raw, ok, err := s.store.GetSetting(ctx, settingAutoScan)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		var p autoScanPrefs
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.logger.Warn("ignoring unreadable auto-scan preferences", zap.Error(err))
		} else {
			s.enabled = p.Enabled
			if d := time.Duration(p.IntervalMs) * time.Millisecond; d >= minAutoScanInterval {
				s.interval = d
			}
		}
	}
	if s.enabled {
		s.scheduleLocked(0)
	}
	return nil
}

// Run drives the timer loop. It blocks until ctx is cancelled or Stop is
// called. The caller should run this in a goroutine.
func (s *AutoScanner) Run(ctx context.Context) {
	s.logger.Info("auto-scanner started",
		zap.Bool("enabled", s.Status().Enabled),
		zap.String("quiet_start", s.quietStart),
		zap.String("quiet_end", s.quietEnd),
	)
	s.publishStatus(ctx)

	for {
		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		if d, ok := s.untilNext(); ok {
			timer = time.NewTimer(d)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			s.logger.Info("auto-scanner stopped (context cancelled)")
			return
		case <-s.stopCh:
			stopTimer(timer)
			s.logger.Info("auto-scanner stopped")
			return
		case <-s.wake:
			stopTimer(timer)
		case <-fire:
			s.tick(ctx)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Stop signals the run loop to exit.
func (s *AutoScanner) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Status returns a snapshot of the scheduler state.
func (s *AutoScanner) Status() AutoScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *AutoScanner) statusLocked() AutoScanStatus {
	return AutoScanStatus{
		Enabled:    s.enabled,
		IntervalMs: s.interval.Milliseconds(),
		IsRunning:  s.running,
		LastRunAt:  copyTime(s.lastRunAt),
		NextRunAt:  copyTime(s.nextRunAt),
		QuietStart: s.quietStart,
		QuietEnd:   s.quietEnd,
	}
}

// SetEnabled turns automatic scanning on or off and persists the choice.
// Enabling schedules a pass immediately. Setting the current value is a
// no-op.
func (s *AutoScanner) SetEnabled(ctx context.Context, enabled bool) (AutoScanStatus, error) {
	s.mu.Lock()
	if s.enabled == enabled {
		st := s.statusLocked()
		s.mu.Unlock()
		return st, nil
	}
	s.enabled = enabled
	if enabled {
		s.scheduleLocked(0)
	} else {
		s.nextRunAt = nil
	}
	prefs := autoScanPrefs{Enabled: s.enabled, IntervalMs: s.interval.Milliseconds()}
	st := s.statusLocked()
	s.mu.Unlock()

	s.poke()
	s.publishStatus(ctx)
	return st, s.savePrefs(ctx, prefs)
}

// SetInterval changes the pause between passes and persists it. A pending
// pass is moved to one new interval from now.
func (s *AutoScanner) SetInterval(ctx context.Context, d time.Duration) (AutoScanStatus, error) {
	if d < minAutoScanInterval {
		return s.Status(), fmt.Errorf("interval must be at least %s: %w", minAutoScanInterval, models.ErrInvalidInput)
	}
	s.mu.Lock()
	s.interval = d
	if s.enabled && !s.running {
		s.scheduleLocked(d)
	}
	prefs := autoScanPrefs{Enabled: s.enabled, IntervalMs: d.Milliseconds()}
	st := s.statusLocked()
	s.mu.Unlock()

	s.poke()
	s.publishStatus(ctx)
	return st, s.savePrefs(ctx, prefs)
}

func (s *AutoScanner) savePrefs(ctx context.Context, p autoScanPrefs) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode auto-scan preferences: %w", err)
	}
	return s.store.SetSetting(ctx, settingAutoScan, string(b))
}

// scheduleLocked sets the next pass delay from now. Caller holds s.mu.
func (s *AutoScanner) scheduleLocked(delay time.Duration) {
	if !s.enabled {
		s.nextRunAt = nil
		return
	}
	if delay < 0 {
		delay = 0
	}
	next := s.nowFunc().Add(delay)
	s.nextRunAt = &next
}

// untilNext reports how long until the next pass, if one is scheduled.
func (s *AutoScanner) untilNext() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.nextRunAt == nil {
		return 0, false
	}
	d := s.nextRunAt.Sub(s.nowFunc())
	if d < 0 {
		d = 0
	}
	return d, true
}

func (s *AutoScanner) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// tick runs one due pass unless quiet hours or another scan prevent it.
func (s *AutoScanner) tick(ctx context.Context) {
	now := s.nowFunc()

	if isQuietHours(now, s.quietStart, s.quietEnd) {
		s.logger.Debug("auto-scan skipped: quiet hours",
			zap.String("quiet_start", s.quietStart),
			zap.String("quiet_end", s.quietEnd),
		)
		s.reschedule(ctx)
		return
	}

	if !s.gate.TryAcquire() {
		s.logger.Debug("auto-scan skipped: scan already running")
		s.reschedule(ctx)
		return
	}
	defer s.gate.Release()

	s.execute(ctx)
}

func (s *AutoScanner) reschedule(ctx context.Context) {
	s.mu.Lock()
	s.scheduleLocked(s.interval)
	s.mu.Unlock()
	s.publishStatus(ctx)
}

// execute scans every customer with a subnet. The caller holds the gate.
func (s *AutoScanner) execute(ctx context.Context) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	if s.running {
		s.scheduleLocked(s.interval)
		s.mu.Unlock()
		return
	}
	s.running = true
	started := s.nowFunc()
	s.lastRunAt = &started
	s.nextRunAt = nil
	s.mu.Unlock()
	s.publishStatus(ctx)

	defer func() {
		s.mu.Lock()
		s.running = false
		s.scheduleLocked(s.interval)
		s.mu.Unlock()
		s.publishStatus(ctx)
	}()

	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		s.logger.Error("auto-scan: failed to list customers", zap.Error(err))
		return
	}

	var scanned, failed int
	for i := range customers {
		if ctx.Err() != nil {
			return
		}
		c := &customers[i]
		subnet := strings.TrimSpace(c.Subnet)
		if c.ID == "" || subnet == "" {
			continue
		}
		_, err := s.runner.RunScan(ctx, ScanRequest{
			CustomerID:  c.ID,
			Subnet:      subnet,
			Credentials: s.credentialsFor(ctx, c.ID),
		})
		scanned++
		if err != nil {
			failed++
			s.logger.Error("auto-scan failed for customer",
				zap.String("customer_id", c.ID),
				zap.Error(err),
			)
		}
	}
	s.logger.Info("auto-scan pass finished",
		zap.Int("customers", scanned),
		zap.Int("failed", failed),
		zap.Duration("elapsed", s.nowFunc().Sub(started)),
	)
}

func (s *AutoScanner) credentialsFor(ctx context.Context, customerID string) models.Credentials {
	s.credsMu.RLock()
	src := s.creds
	s.credsMu.RUnlock()
	if src == nil {
		return models.Credentials{}
	}
	c, ok, err := src.Credentials(ctx, customerID)
	if err != nil {
		s.logger.Warn("auto-scan: device credentials unavailable",
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

func (s *AutoScanner) publishStatus(ctx context.Context) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAsync(ctx, plugin.Event{
		Topic:     TopicAutoScanStatus,
		Source:    "recon",
		Timestamp: time.Now(),
		Payload:   s.Status(),
	})
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// isQuietHours returns true if the given time falls within the quiet window
// defined by startHHMM and endHHMM (format "HH:MM"). Overnight ranges such
// as "23:00" to "06:00" wrap midnight. The end is exclusive. Returns false
// if either value is empty or cannot be parsed.
func isQuietHours(now time.Time, startHHMM, endHHMM string) bool {
	if startHHMM == "" || endHHMM == "" {
		return false
	}
	startMin, ok := parseHHMM(startHHMM)
	if !ok {
		return false
	}
	endMin, ok := parseHHMM(endHHMM)
	if !ok {
		return false
	}

	nowMin := now.Hour()*60 + now.Minute()
	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	return nowMin >= startMin || nowMin < endMin
}

// parseHHMM parses a "HH:MM" string into minutes since midnight.
func parseHHMM(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
