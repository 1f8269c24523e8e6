package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/geostay/proximity-backend/internal/geo"
	"github.com/geostay/proximity-backend/internal/metrics"
	"github.com/geostay/proximity-backend/internal/models"
	"github.com/geostay/proximity-backend/internal/service"
)

const (
	wsSendBuffer   = 256
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 512
)

// Hub рассылает события кеша WebSocket-клиентам. Клиент получает только
// события ячеек, центр которых лежит в радиусе его подписки с запасом в
// один размер ячейки.
type Hub struct {
	clients    map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	events     chan models.CacheEvent
	stop       chan struct{}
	stopped    chan struct{}

	pingInterval time.Duration
	pongTimeout  time.Duration
	upgrader     websocket.Upgrader
	logger       *logrus.Entry
}

var _ service.EventPublisher = (*Hub)(nil)

type wsClient struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	center   models.GeoPoint
	radiusKm float64
	remote   string
}

// NewHub создает hub и запускает его цикл рассылки
func NewHub(pingInterval, pongTimeout time.Duration, logger *logrus.Entry) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	h := &Hub{
		clients:      make(map[*wsClient]struct{}),
		register:     make(chan *wsClient, 16),
		unregister:   make(chan *wsClient, 16),
		events:       make(chan models.CacheEvent, 256),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
	go h.run()
	return h
}

// PublishCacheEvent отдает событие в hub, не блокируя вызывающего.
// При переполнении канала событие отбрасывается.
func (h *Hub) PublishCacheEvent(event models.CacheEvent) {
	select {
	case h.events <- event:
	default:
		h.logger.Warn("Event channel full, dropping cache event")
	}
}

// Stop закрывает все клиентские соединения и останавливает цикл рассылки
func (h *Hub) Stop() {
	close(h.stop)
	<-h.stopped
}

func (h *Hub) run() {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			metrics.WebSocketConnections.Inc()

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.WebSocketConnections.Dec()
			}

		case event := <-h.events:
			h.broadcast(event)

		case <-h.stop:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
				metrics.WebSocketConnections.Dec()
			}
			return
		}
	}
}

func (h *Hub) broadcast(event models.CacheEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to marshal cache event")
		return
	}

	var cellCenter models.GeoPoint
	var slackKm float64
	if event.Cell != "" {
		lat, lng := geo.CellCenter(event.Cell)
		cellCenter = models.GeoPoint{Latitude: lat, Longitude: lng}
		slackKm = geo.CellSizeKm[len(event.Cell)]
	}

	for client := range h.clients {
		if event.Cell != "" && client.center.DistanceTo(cellCenter) > client.radiusKm+slackKm {
			continue
		}
		select {
		case client.send <- payload:
		default:
			h.logger.WithField("client_ip", client.remote).Debug("Client send buffer full, dropping event")
		}
	}
}

// ServeWS обновляет соединение до WebSocket и регистрирует клиента
// GET /ws/events?lat=40.71&lng=-74.00&radius=10
func (h *Hub) ServeWS(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		badRequest(c, "invalid_latitude", "lat must be a number between -90 and 90")
		return
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		badRequest(c, "invalid_longitude", "lng must be a number between -180 and 180")
		return
	}
	center := models.GeoPoint{Latitude: lat, Longitude: lng}
	if err := center.Validate(); err != nil {
		badRequest(c, "invalid_coordinates", err.Error())
		return
	}
	radius, err := strconv.ParseFloat(c.Query("radius"), 64)
	if err != nil || radius <= 0 {
		badRequest(c, "invalid_radius", "radius must be a positive number of kilometers")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &wsClient{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		center:   center,
		radiusKm: radius,
		remote:   c.ClientIP(),
	}

	if welcome, err := json.Marshal(map[string]interface{}{
		"type":       "welcome",
		"serverTime": time.Now().Unix(),
	}); err == nil {
		client.send <- welcome
	}

	h.register <- client

	h.logger.WithFields(logrus.Fields{
		"client_ip": client.remote,
		"lat":       lat,
		"lng":       lng,
		"radius":    radius,
	}).Info("WebSocket client connected")

	go client.writePump()
	go client.readPump()
}

// readPump держит соединение, отвечая на pong продлением дедлайна.
// Входящие сообщения не используются.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.pongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithField("error", err).Debug("WebSocket read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				metrics.WebSocketErrors.Inc()
				return
			}
			metrics.WebSocketMessagesOut.WithLabelValues("event").Inc()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.WebSocketErrors.Inc()
				return
			}
			metrics.WebSocketMessagesOut.WithLabelValues("ping").Inc()
		}
	}
}
