// Package webhook forwards selected bus events to an external HTTP endpoint
// so ticketing or chat systems can react to scans and device actions.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/HerbHall/relayscan/internal/event"
	"github.com/HerbHall/relayscan/internal/version"
	"github.com/HerbHall/relayscan/pkg/plugin"
	"github.com/HerbHall/relayscan/pkg/roles"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.Validator       = (*Module)(nil)
)

// DefaultEvents are the topic prefixes delivered when none are configured.
const DefaultEvents = "recon.scan.completed,recon.scan.failed,recon.device.discovered,recon.device.offline,control.action"

// SignatureHeader carries "sha256=<hex hmac>" of the body when a secret is set.
const SignatureHeader = "X-RelayScan-Signature"

var deliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relayscan_webhook_deliveries_total",
		Help: "Webhook delivery attempts by result (delivered, failed, dropped).",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(deliveries)
}

// Config holds the webhook plugin configuration.
type Config struct {
	URL       string
	Secret    string
	Timeout   time.Duration
	Events    event.TopicFilter
	QueueSize int
}

// Payload is the JSON body sent to the webhook URL.
type Payload struct {
	Event     string `json:"event" example:"recon.scan.completed"`
	Source    string `json:"source" example:"recon"`
	Timestamp string `json:"timestamp" example:"2026-01-02T15:04:05Z"`
	Data      any    `json:"data"`
}

// Module implements the webhook notifier plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config
	client *http.Client

	queue chan Payload
	quit  chan struct{}
	wg    sync.WaitGroup

	mu        sync.Mutex
	lastErr   string
	failures  int
	delivered int
}

// New creates a new webhook plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "webhook",
		Version:     "0.1.0",
		Description: "Posts scan and device action events to a configurable webhook URL",
		Roles:       []string{roles.RoleNotification},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = Config{
		Timeout:   10 * time.Second,
		Events:    event.ParseFilter(DefaultEvents),
		QueueSize: 256,
	}

	if deps.Config != nil {
		m.cfg.URL = deps.Config.GetString("url")
		m.cfg.Secret = deps.Config.GetString("secret")
		if d := deps.Config.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		if raw := deps.Config.GetString("events"); raw != "" {
			m.cfg.Events = event.ParseFilter(raw)
		}
		if n := deps.Config.GetInt("queue_size"); n > 0 {
			m.cfg.QueueSize = n
		}
	}

	m.client = &http.Client{Timeout: m.cfg.Timeout}
	m.queue = make(chan Payload, m.cfg.QueueSize)
	m.quit = make(chan struct{})

	if m.cfg.URL == "" {
		m.logger.Info("webhook URL not configured; notifications disabled")
		return nil
	}
	m.logger.Info("webhook module initialized",
		zap.String("url", redact(m.cfg.URL)),
		zap.Strings("events", m.cfg.Events),
		zap.Bool("signed", m.cfg.Secret != ""),
	)
	return nil
}

// ValidateConfig rejects URLs that are not absolute http(s) URLs.
func (m *Module) ValidateConfig() error {
	if m.cfg.URL == "" {
		return nil
	}
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook url must be an absolute http(s) URL")
	}
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.wg.Add(1)
	go m.run()
	return nil
}

// Stop delivers what is already queued and returns when done or when ctx
// expires.
func (m *Module) Stop(ctx context.Context) error {
	close(m.quit)
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook queue not drained: %w", ctx.Err())
	}
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	if m.cfg.URL == "" {
		return nil
	}
	return []plugin.Subscription{{Topic: "*", Handler: m.handleEvent}}
}

// Health implements plugin.HealthChecker. Three consecutive failures mark
// the notifier degraded until the next successful delivery.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.cfg.URL == "" {
		return plugin.HealthStatus{Status: "healthy", Message: "not configured"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	details := map[string]string{
		"delivered": fmt.Sprint(m.delivered),
		"queued":    fmt.Sprint(len(m.queue)),
	}
	if m.failures >= 3 {
		return plugin.HealthStatus{Status: "degraded", Message: m.lastErr, Details: details}
	}
	return plugin.HealthStatus{Status: "healthy", Details: details}
}

// handleEvent runs on the publisher's goroutine, so it only enqueues.
func (m *Module) handleEvent(_ context.Context, e plugin.Event) {
	if !m.cfg.Events.Match(e.Topic) {
		return
	}
	p := Payload{
		Event:     e.Topic,
		Source:    e.Source,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Data:      e.Payload,
	}
	select {
	case m.queue <- p:
	default:
		deliveries.WithLabelValues("dropped").Inc()
		m.logger.Warn("webhook queue full, dropping event", zap.String("topic", e.Topic))
	}
}

func (m *Module) run() {
	defer m.wg.Done()
	for {
		select {
		case p := <-m.queue:
			m.deliver(p)
		case <-m.quit:
			for {
				select {
				case p := <-m.queue:
					m.deliver(p)
				default:
					return
				}
			}
		}
	}
}

func (m *Module) deliver(p Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	err := m.send(ctx, p)
	cancel()
	m.record(err)
	if err != nil {
		deliveries.WithLabelValues("failed").Inc()
		m.logger.Warn("webhook delivery failed",
			zap.String("url", redact(m.cfg.URL)),
			zap.String("topic", p.Event),
			zap.Error(err),
		)
		return
	}
	deliveries.WithLabelValues("delivered").Inc()
	m.logger.Debug("webhook delivered", zap.String("topic", p.Event))
}

func (m *Module) record(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failures++
		m.lastErr = err.Error()
		return
	}
	m.failures = 0
	m.lastErr = ""
	m.delivered++
}

func (m *Module) send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "RelayScan-Webhook/"+version.Short())
	if m.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(m.cfg.Secret, body))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		// The error text embeds the URL, which may carry userinfo.
		return fmt.Errorf("post to %s failed", redact(m.cfg.URL))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}
