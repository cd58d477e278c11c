// Package broker mirrors bus events onto NATS subjects so other services
// can consume scan results and device actions without polling the API.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/relayscan/internal/event"
	"github.com/HerbHall/relayscan/internal/version"
	"github.com/HerbHall/relayscan/pkg/plugin"
	"github.com/HerbHall/relayscan/pkg/roles"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

var published = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relayscan_broker_messages_total",
		Help: "Bus events mirrored to NATS by result (published, failed).",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(published)
}

// Header names set on every message.
const (
	HeaderSource  = "Relayscan-Source"
	HeaderVersion = "Relayscan-Version"
)

// Config holds the broker plugin configuration.
type Config struct {
	URL           string
	SubjectPrefix string
	Events        event.TopicFilter
	ReconnectWait time.Duration
	FlushTimeout  time.Duration
}

// Envelope is the JSON body of every mirrored event.
type Envelope struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Module implements the NATS bridge plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config

	mu sync.RWMutex
	nc *nats.Conn
}

// New creates a new broker plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "broker",
		Version:     "0.1.0",
		Description: "Mirrors bus events to NATS subjects",
		Roles:       []string{roles.RoleNotification},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = Config{
		SubjectPrefix: "relayscan",
		ReconnectWait: 2 * time.Second,
		FlushTimeout:  5 * time.Second,
	}
	if deps.Config != nil {
		m.cfg.URL = deps.Config.GetString("url")
		if p := deps.Config.GetString("subject_prefix"); p != "" {
			m.cfg.SubjectPrefix = p
		}
		m.cfg.Events = event.ParseFilter(deps.Config.GetString("events"))
		if d := deps.Config.GetDuration("reconnect_wait"); d > 0 {
			m.cfg.ReconnectWait = d
		}
		if d := deps.Config.GetDuration("flush_timeout"); d > 0 {
			m.cfg.FlushTimeout = d
		}
	}
	if m.cfg.URL == "" {
		m.logger.Info("NATS url not configured; broker disabled")
	}
	return nil
}

// Start connects to NATS. The connection retries in the background, so an
// unreachable server does not block startup.
func (m *Module) Start(_ context.Context) error {
	if m.cfg.URL == "" {
		return nil
	}
	nc, err := nats.Connect(m.cfg.URL,
		nats.Name("relayscan-"+version.Short()),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(m.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				m.logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			m.logger.Info("NATS reconnected", zap.String("server", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	m.mu.Lock()
	m.nc = nc
	m.mu.Unlock()
	m.logger.Info("broker started",
		zap.String("subject_prefix", m.cfg.SubjectPrefix),
		zap.Strings("events", m.cfg.Events),
	)
	return nil
}

// Stop flushes pending messages and closes the connection.
func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	nc := m.nc
	m.nc = nil
	m.mu.Unlock()
	if nc == nil {
		return nil
	}
	defer nc.Close()
	if nc.IsConnected() {
		if err := nc.FlushTimeout(m.cfg.FlushTimeout); err != nil {
			return fmt.Errorf("flush NATS: %w", err)
		}
	}
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	if m.cfg.URL == "" {
		return nil
	}
	return []plugin.Subscription{{Topic: "*", Handler: m.handleEvent}}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.cfg.URL == "" {
		return plugin.HealthStatus{Status: "healthy", Message: "not configured"}
	}
	m.mu.RLock()
	nc := m.nc
	m.mu.RUnlock()
	if nc == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "not connected"}
	}
	status := nc.Status()
	if status != nats.CONNECTED {
		return plugin.HealthStatus{Status: "degraded", Message: status.String()}
	}
	return plugin.HealthStatus{
		Status:  "healthy",
		Details: map[string]string{"server": nc.ConnectedUrlRedacted()},
	}
}

// Subject returns the NATS subject for a bus topic.
func (m *Module) Subject(topic string) string {
	return m.cfg.SubjectPrefix + "." + topic
}

// handleEvent publishes into the client's outbound buffer, which does not
// block on the network.
func (m *Module) handleEvent(_ context.Context, e plugin.Event) {
	if !m.cfg.Events.Match(e.Topic) {
		return
	}
	m.mu.RLock()
	nc := m.nc
	m.mu.RUnlock()
	if nc == nil {
		return
	}

	body, err := json.Marshal(Envelope{
		Topic:     e.Topic,
		Source:    e.Source,
		Timestamp: e.Timestamp.UTC(),
		Data:      e.Payload,
	})
	if err != nil {
		published.WithLabelValues("failed").Inc()
		m.logger.Error("encode event for NATS", zap.String("topic", e.Topic), zap.Error(err))
		return
	}

	msg := nats.NewMsg(m.Subject(e.Topic))
	msg.Data = body
	msg.Header.Set(HeaderSource, e.Source)
	msg.Header.Set(HeaderVersion, version.Short())
	if err := nc.PublishMsg(msg); err != nil {
		published.WithLabelValues("failed").Inc()
		m.logger.Warn("NATS publish failed", zap.String("topic", e.Topic), zap.Error(err))
		return
	}
	published.WithLabelValues("published").Inc()
}
