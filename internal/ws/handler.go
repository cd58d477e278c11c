// Package ws streams event bus traffic to WebSocket clients so dashboards
// can follow scan progress and device actions live.
package ws

import (
	"context"
	"net/http"

	"github.com/HerbHall/relayscan/internal/event"
	"github.com/HerbHall/relayscan/pkg/plugin"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Handler provides the event stream endpoint.
type Handler struct {
	hub            *Hub
	logger         *zap.Logger
	originPatterns []string
	unsubscribe    func()
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a handler that forwards every bus event to connected
// clients. originPatterns lists extra allowed Origin hosts for browsers
// served from another host; same-origin requests are always accepted.
func NewHandler(bus plugin.EventBus, logger *zap.Logger, originPatterns []string) *Handler {
	h := &Handler{
		hub:            NewHub(logger),
		logger:         logger,
		originPatterns: originPatterns,
	}
	if bus != nil {
		h.unsubscribe = bus.SubscribeAll(h.forward)
	}
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", h.handleEvents)
}

// Close unsubscribes from the bus and disconnects all clients.
func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.hub.CloseAll()
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int {
	return h.hub.ClientCount()
}

func (h *Handler) forward(_ context.Context, e plugin.Event) {
	h.hub.Broadcast(Message{
		Topic:     e.Topic,
		Source:    e.Source,
		Timestamp: e.Timestamp,
		Data:      e.Payload,
	})
}

// handleEvents upgrades the connection and streams events.
//
//	@Summary		Event stream
//	@Description	WebSocket stream of scan, device, control and vault events. Pass topic=recon.scan,control to filter by topic prefix.
//	@Tags			system
//	@Param			topic	query	string	false	"Comma-separated topic prefixes"
//	@Success		101
//	@Router			/ws/events [get]
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		remote: r.RemoteAddr,
		filter: event.ParseFilter(r.URL.Query().Get("topic")),
		send:   make(chan Message, 256),
		logger: h.logger,
	}
	h.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}
