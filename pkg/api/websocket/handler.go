package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/reactor/pkg/events"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	bus    *events.Bus
	buffer int
	logger *zap.Logger
}

// NewHandler creates a new WebSocket handler. buffer bounds the events
// queued per connection; slow clients lose events beyond it.
func NewHandler(bus *events.Bus, buffer int, logger *zap.Logger) *Handler {
	if buffer <= 0 {
		buffer = 64
	}
	return &Handler{
		bus:    bus,
		buffer: buffer,
		logger: logger,
	}
}

// HandleEventStream streams change events to the client
func (h *Handler) HandleEventStream(c *gin.Context) {
	var types []events.ChangeType
	for _, raw := range c.QueryArray("type") {
		t, err := events.ParseChangeType(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		types = append(types, t)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.Int("types", len(types)),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	eventChan := make(chan events.ChangeEvent, h.buffer)
	forward := func(_ context.Context, ev events.ChangeEvent) {
		// Never block the bus on a slow client.
		select {
		case eventChan <- ev:
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", ev.ID.String()),
				zap.String("type", string(ev.Type)))
		}
	}

	var unsubscribe func()
	if len(types) > 0 {
		unsubscribe = h.bus.SubscribeTypes(forward, types...)
	} else {
		unsubscribe = h.bus.Subscribe(forward)
	}
	defer unsubscribe()

	// The read loop notices when the client goes away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-eventChan:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}
