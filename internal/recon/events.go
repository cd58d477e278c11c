package recon

import (
	"time"

	"github.com/HerbHall/relayscan/pkg/models"
)

// Event topics published by the Recon module.
const (
	TopicScanStarted      = "recon.scan.started"
	TopicScanCompleted    = "recon.scan.completed"
	TopicScanFailed       = "recon.scan.failed"
	TopicScanState        = "recon.scan.state"
	TopicDeviceDiscovered = "recon.device.discovered"
	TopicDeviceUpdated    = "recon.device.updated"
	TopicDeviceOffline    = "recon.device.offline"
	TopicDeviceDeleted    = "recon.device.deleted"
	TopicCustomerChanged  = "recon.customer.changed"
	TopicAutoScanStatus   = "recon.autoscan.status"
)

// ScanState is a step in the lifecycle of one RunScan call.
type ScanState string

const (
	StateStarted     ScanState = "started"
	StateEnumerating ScanState = "enumerating"
	StateProbing     ScanState = "probing"
	StateReconciling ScanState = "reconciling"
	StateCompleted   ScanState = "completed"
	StateFailed      ScanState = "failed"
)

// ScanStateEvent is the payload for TopicScanState events.
type ScanStateEvent struct {
	ScanRunID  string    `json:"scan_run_id"`
	CustomerID string    `json:"customer_id"`
	State      ScanState `json:"state"`
	At         time.Time `json:"at"`
}

// ScanFailedEvent is the payload for TopicScanFailed events.
type ScanFailedEvent struct {
	ScanRunID  string `json:"scan_run_id"`
	CustomerID string `json:"customer_id"`
	Error      string `json:"error"`
}

// DeviceEvent wraps a device outcome with its scan run for event payloads.
type DeviceEvent struct {
	ScanRunID  string               `json:"scan_run_id"`
	CustomerID string               `json:"customer_id"`
	Outcome    models.DeviceOutcome `json:"outcome"`
}

// CustomerChangedEvent is the payload for TopicCustomerChanged events.
type CustomerChangedEvent struct {
	CustomerID string `json:"customer_id"`
	Action     string `json:"action"` // "created", "updated", "deleted"
}
