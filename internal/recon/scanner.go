package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/relayscan/internal/diff"
	"github.com/HerbHall/relayscan/internal/pool"
	"github.com/HerbHall/relayscan/internal/probe"
	"github.com/HerbHall/relayscan/internal/targets"
	"github.com/HerbHall/relayscan/pkg/models"
	"github.com/HerbHall/relayscan/pkg/plugin"
	"github.com/buger/jsonparser"
	"go.uber.org/zap"
)

// Prober checks one address for a supported device. Implemented by
// *probe.Client.
type Prober interface {
	Probe(ctx context.Context, t probe.Target) models.ProbeResult
}

// ScanRequest describes one reconciliation pass for a customer.
type ScanRequest struct {
	CustomerID  string
	Subnet      string
	IPList      []string
	Credentials models.Credentials
	// Concurrency and Timeout fall back to the module config when zero.
	Concurrency int
	Timeout     time.Duration
}

// ScanOutcome is what RunScan returns for a completed run.
type ScanOutcome struct {
	ScanRun           *models.ScanRun        `json:"scan_run"`
	Results           []models.DeviceOutcome `json:"results"`
	TargetCount       int                    `json:"target_count" example:"254"`
	PersistenceErrors int                    `json:"persistence_errors,omitempty"`
}

// ScanOrchestrator coordinates target enumeration, pooled probing, identity
// resolution, diff classification and snapshot persistence.
type ScanOrchestrator struct {
	store  *ReconStore
	prober Prober
	enum   targets.Enumerator
	policy probe.RecognitionPolicy
	cfg    ReconConfig
	bus    plugin.EventBus
	logger *zap.Logger
	now    func() time.Time
}

// NewScanOrchestrator creates a new orchestrator.
func NewScanOrchestrator(
	store *ReconStore,
	prober Prober,
	bus plugin.EventBus,
	cfg ReconConfig,
	logger *zap.Logger,
) *ScanOrchestrator {
	return &ScanOrchestrator{
		store:  store,
		prober: prober,
		enum:   targets.Enumerator{MaxTargets: cfg.MaxTargets},
		policy: cfg.policy(),
		cfg:    cfg,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// RunScan probes the request's targets and reconciles every answer against
// the customer's known devices. Each recognized device gets one snapshot
// classified as new, changed or unchanged; each known device that did not
// answer gets an offline snapshot.
//
// Probe failures never fail the run. A failed write for one device is
// logged and counted, and the remaining devices are still recorded.
func (o *ScanOrchestrator) RunScan(ctx context.Context, req ScanRequest) (*ScanOutcome, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return nil, fmt.Errorf("customer id is required: %w", models.ErrInvalidInput)
	}
	if _, err := o.store.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	started := o.now()
	run, err := o.store.CreateScanRun(ctx, customerID, started)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}
	o.setState(ctx, run, StateStarted)
	o.publish(ctx, TopicScanStarted, run)

	o.setState(ctx, run, StateEnumerating)
	ips, err := o.enum.Expand(req.Subnet, req.IPList)
	if err == nil && len(ips) == 0 {
		err = models.ErrNoTargets
	}
	if err != nil {
		return nil, o.fail(ctx, run, err)
	}

	known, err := o.store.ListDevices(ctx, customerID)
	if err != nil {
		return nil, o.fail(ctx, run, fmt.Errorf("%w: %w", models.ErrPersistence, err))
	}
	idx := newIdentityIndex(known)

	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = o.cfg.Concurrency
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.cfg.ProbeTimeout
	}

	o.setState(ctx, run, StateProbing)
	o.logger.Info("probing targets",
		zap.String("scan_run_id", run.ID),
		zap.Int("targets", len(ips)),
		zap.Int("concurrency", concurrency),
		zap.Duration("timeout", timeout),
	)
	results := pool.Map(ctx, concurrency, ips, func(ctx context.Context, ip string) models.ProbeResult {
		r := o.prober.Probe(ctx, probe.Target{IP: ip, Credentials: req.Credentials, Timeout: timeout})
		probesTotal.WithLabelValues(probeOutcome(r.Online, r.Online && o.policy(r.Attributes), probe.IsTimeout(r.Err))).Inc()
		return r
	})

	// Reconciling after cancellation would record every unanswered device as
	// offline.
	if ctx.Err() != nil {
		return nil, o.fail(ctx, run, fmt.Errorf("cancelled: %w", ctx.Err()))
	}

	o.setState(ctx, run, StateReconciling)
	outcome := &ScanOutcome{TargetCount: len(ips)}
	for _, r := range results {
		if !r.Online || !o.policy(r.Attributes) {
			continue
		}
		res, err := o.reconcileOnline(ctx, run, idx, r.Attributes)
		if err != nil {
			o.persistenceFailed(run, r.Attributes.DeviceIdentifier, err)
			outcome.PersistenceErrors++
			continue
		}
		outcome.Results = append(outcome.Results, res)
	}
	for _, d := range idx.unseen() {
		res, err := o.reconcileOffline(ctx, run, d)
		if err != nil {
			o.persistenceFailed(run, d.DeviceIdentifier, err)
			outcome.PersistenceErrors++
			continue
		}
		outcome.Results = append(outcome.Results, res)
	}

	notes := fmt.Sprintf("%d addresses probed, %d devices recorded", len(ips), len(outcome.Results))
	if outcome.PersistenceErrors > 0 {
		notes += fmt.Sprintf(", %d devices not saved", outcome.PersistenceErrors)
	}
	completed, err := o.store.CompleteScanRun(ctx, run.ID, o.now(), len(outcome.Results), notes)
	if err != nil {
		return nil, o.fail(ctx, run, fmt.Errorf("%w: %w", models.ErrPersistence, err))
	}
	outcome.ScanRun = completed

	scansTotal.WithLabelValues(string(models.ScanStatusCompleted)).Inc()
	scanDuration.Observe(o.now().Sub(started).Seconds())
	o.setState(ctx, run, StateCompleted)
	o.publish(ctx, TopicScanCompleted, outcome)
	o.logger.Info("scan completed",
		zap.String("scan_run_id", run.ID),
		zap.String("customer_id", customerID),
		zap.Int("targets", len(ips)),
		zap.Int("snapshots", len(outcome.Results)),
		zap.Int("persistence_errors", outcome.PersistenceErrors),
	)
	return outcome, nil
}

// reconcileOnline records one recognized device. The device row, its
// snapshot and the last-snapshot pointer are written in one transaction.
func (o *ScanOrchestrator) reconcileOnline(ctx context.Context, run *models.ScanRun, idx *identityIndex, a models.Attributes) (models.DeviceOutcome, error) {
	existing := idx.resolve(a.MAC, a.DeviceIdentifier)

	var (
		dev     *models.Device
		created bool
		snap    *models.Snapshot
		note    string
	)
	err := o.store.WithTx(ctx, func(tx *ReconStore) error {
		prev, err := tx.GetLatestSnapshot(ctx, run.CustomerID, a.DeviceIdentifier, a.MAC)
		if err != nil {
			return err
		}
		var status models.DiffStatus
		status, note = diff.Classify(prev, a)

		var install *time.Time
		switch {
		case existing != nil && existing.InstallDate != nil:
			install = existing.InstallDate
		case prev != nil:
			install = prev.InstallDate
		}

		dev, created, err = tx.UpsertDevice(ctx, run.CustomerID, DeviceUpsert{
			Attributes:  a,
			InstallDate: install,
			Status:      models.DeviceStatusOnline,
			SeenAt:      o.now(),
		})
		if err != nil {
			return err
		}

		raw, err := withDiffNote(a.Raw, note)
		if err != nil {
			return err
		}
		snap = snapshotOf(run.ID, dev.ID, a)
		snap.InstallDate = install
		snap.IsOnline = true
		snap.DiffStatus = status
		snap.RawPayload = raw
		if err := tx.CreateSnapshot(ctx, run.CustomerID, snap); err != nil {
			return err
		}
		return tx.SetDeviceLastSnapshot(ctx, dev.ID, snap.ID, models.DeviceStatusOnline, a.RSSI)
	})
	if err != nil {
		if existing != nil {
			// Still observed online; keep it out of the offline pass.
			idx.seen[existing.ID] = true
		}
		return models.DeviceOutcome{}, err
	}

	dev.LastSnapshotID = snap.ID
	idx.record(existing, dev)
	snapshotsTotal.WithLabelValues(string(snap.DiffStatus)).Inc()

	res := outcomeOf(dev.ID, snap, note)
	switch {
	case created || snap.DiffStatus == models.DiffNew:
		o.publish(ctx, TopicDeviceDiscovered, DeviceEvent{ScanRunID: run.ID, CustomerID: run.CustomerID, Outcome: res})
	case snap.DiffStatus == models.DiffChanged:
		o.publish(ctx, TopicDeviceUpdated, DeviceEvent{ScanRunID: run.ID, CustomerID: run.CustomerID, Outcome: res})
	}
	return res, nil
}

// reconcileOffline records a known device that did not answer, using its
// last-known attributes.
func (o *ScanOrchestrator) reconcileOffline(ctx context.Context, run *models.ScanRun, d *models.Device) (models.DeviceOutcome, error) {
	a := d.Attributes()
	a.UptimeSeconds = nil

	raw, err := json.Marshal(offlinePayload{Note: diff.OfflineNote, DiffNote: diff.OfflineNote})
	if err != nil {
		return models.DeviceOutcome{}, fmt.Errorf("encode offline payload: %w", err)
	}
	snap := snapshotOf(run.ID, d.ID, a)
	snap.InstallDate = d.InstallDate
	snap.DiffStatus = models.DiffOffline
	snap.RawPayload = raw

	err = o.store.WithTx(ctx, func(tx *ReconStore) error {
		if err := tx.CreateSnapshot(ctx, run.CustomerID, snap); err != nil {
			return err
		}
		return tx.SetDeviceLastSnapshot(ctx, d.ID, snap.ID, models.DeviceStatusOffline, d.RSSI)
	})
	if err != nil {
		return models.DeviceOutcome{}, err
	}

	d.Status = models.DeviceStatusOffline
	d.LastSnapshotID = snap.ID
	snapshotsTotal.WithLabelValues(string(models.DiffOffline)).Inc()

	res := outcomeOf(d.ID, snap, diff.OfflineNote)
	o.publish(ctx, TopicDeviceOffline, DeviceEvent{ScanRunID: run.ID, CustomerID: run.CustomerID, Outcome: res})
	return res, nil
}

type offlinePayload struct {
	Note     string `json:"note"`
	DiffNote string `json:"diffNote"`
}

// withDiffNote returns raw with a "diffNote" member set. Anything that is
// not a JSON object is replaced by an empty object first.
func withDiffNote(raw json.RawMessage, note string) (json.RawMessage, error) {
	base := []byte(raw)
	if _, typ, _, err := jsonparser.Get(base); err != nil || typ != jsonparser.Object {
		base = []byte(`{}`)
	}
	val, err := json.Marshal(note)
	if err != nil {
		return nil, fmt.Errorf("encode diff note: %w", err)
	}
	out, err := jsonparser.Set(append([]byte(nil), base...), val, "diffNote")
	if err != nil {
		return nil, fmt.Errorf("set diff note: %w", err)
	}
	return out, nil
}

func snapshotOf(scanRunID, deviceID string, a models.Attributes) *models.Snapshot {
	return &models.Snapshot{
		ScanRunID:        scanRunID,
		DeviceID:         deviceID,
		DeviceIdentifier: a.DeviceIdentifier,
		IP:               a.IP,
		MAC:              a.MAC,
		Hostname:         a.Hostname,
		Model:            a.Model,
		FirmwareVersion:  a.FirmwareVersion,
		WifiSSID:         a.WifiSSID,
		RSSI:             a.RSSI,
		UptimeSeconds:    a.UptimeSeconds,
		App:              a.App,
		Generation:       a.Generation,
	}
}

func outcomeOf(deviceID string, s *models.Snapshot, note string) models.DeviceOutcome {
	return models.DeviceOutcome{
		DeviceID:         deviceID,
		DeviceIdentifier: s.DeviceIdentifier,
		DiffStatus:       s.DiffStatus,
		DiffNote:         note,
		IsOnline:         s.IsOnline,
		IP:               s.IP,
		FirmwareVersion:  s.FirmwareVersion,
		InstallDate:      s.InstallDate,
		SnapshotID:       s.ID,
		App:              s.App,
		Generation:       s.Generation,
		RSSI:             s.RSSI,
	}
}

func (o *ScanOrchestrator) persistenceFailed(run *models.ScanRun, identifier string, err error) {
	persistenceErrorsTotal.Inc()
	o.logger.Error("failed to record device",
		zap.String("scan_run_id", run.ID),
		zap.String("device_identifier", identifier),
		zap.Error(err),
	)
}

// fail marks run failed and returns cause. Bookkeeping uses a context that
// survives cancellation of ctx.
func (o *ScanOrchestrator) fail(ctx context.Context, run *models.ScanRun, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.FailScanRun(ctx, run.ID, cause.Error()); err != nil {
		o.logger.Error("failed to mark scan run failed",
			zap.String("scan_run_id", run.ID),
			zap.Error(err),
		)
	}
	scansTotal.WithLabelValues(string(models.ScanStatusFailed)).Inc()
	o.setState(ctx, run, StateFailed)
	o.publish(ctx, TopicScanFailed, ScanFailedEvent{
		ScanRunID:  run.ID,
		CustomerID: run.CustomerID,
		Error:      cause.Error(),
	})
	o.logger.Warn("scan failed",
		zap.String("scan_run_id", run.ID),
		zap.String("customer_id", run.CustomerID),
		zap.Error(cause),
	)
	return cause
}

func (o *ScanOrchestrator) setState(ctx context.Context, run *models.ScanRun, state ScanState) {
	o.logger.Debug("scan state",
		zap.String("scan_run_id", run.ID),
		zap.String("state", string(state)),
	)
	o.publish(ctx, TopicScanState, ScanStateEvent{
		ScanRunID:  run.ID,
		CustomerID: run.CustomerID,
		State:      state,
		At:         o.now(),
	})
}

func (o *ScanOrchestrator) publish(ctx context.Context, topic string, payload any) {
	if o.bus == nil {
		return
	}
	o.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "recon",
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
