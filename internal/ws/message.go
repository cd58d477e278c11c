package ws

import "time"

// Message is the envelope for every event streamed to WebSocket clients.
// Data is the bus payload as published, JSON encoded.
type Message struct {
	Topic     string    `json:"topic" example:"recon.scan.state"`
	Source    string    `json:"source" example:"recon"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}
