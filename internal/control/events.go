package control

// Event topics published by the control module.
const (
	TopicActionPerformed = "control.action.performed"
	TopicActionFailed    = "control.action.failed"
)

// ActionEvent is the payload for control action topics.
type ActionEvent struct {
	DeviceID string `json:"device_id,omitempty"`
	IP       string `json:"ip"`
	Action   string `json:"action"`
	Error    string `json:"error,omitempty"`
}
