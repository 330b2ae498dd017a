package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"zemichat-backend/internal/domain"
	"zemichat-backend/internal/middleware"
	"zemichat-backend/pkg/constants"
	"zemichat-backend/pkg/env"
	"zemichat-backend/pkg/logger"
	"zemichat-backend/pkg/metrics"
)

// SignalStore persists signal rows before they are fanned out
type SignalStore interface {
	Insert(ctx context.Context, signal *domain.CallSignal) error
}

// SignalFeed delivers signal rows published for a chat
type SignalFeed interface {
	Subscribe(ctx context.Context, chatID uuid.UUID) (<-chan *domain.CallSignal, error)
	Publish(ctx context.Context, signal *domain.CallSignal) error
}

// MemberChecker gates subscriptions to chat members
type MemberChecker interface {
	IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
}

// SignalHub fans call signals out to connected chat members. Each chat
// with at least one connected client holds a feed subscription; signals
// sent by clients are persisted first so offline devices can still pick
// them up, then published through the feed so every instance sees them.
type SignalHub struct {
	// Connected clients per chat
	chats map[uuid.UUID]map[*SignalClient]bool

	// Cancel functions for per-chat feed subscriptions
	subscriptionCancels map[uuid.UUID]context.CancelFunc

	signals SignalStore
	feed    SignalFeed
	members MemberChecker
	metrics *metrics.Metrics

	mu sync.RWMutex

	register   chan *SignalClient
	unregister chan *SignalClient
	broadcast  chan *domain.CallSignal

	// maxConnections bounds concurrent WebSocket connections
	maxConnections int
	semaphore      chan struct{}
}

// SignalClient is one device's connection to a chat's signal feed. The
// client context is cancelled at unregister so in-flight submissions stop
// with the connection.
type SignalClient struct {
	hub    *SignalHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	chatID uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
}

// signalRequest is what a client sends over the socket. Everything else
// about the row is assigned server side.
type signalRequest struct {
	Type      domain.SignalType `json:"type"`
	CallLogID uuid.UUID         `json:"call_log_id"`
}

var signalUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Native mobile clients send no Origin header
			return true
		}
		return middleware.AllowedOrigins()[origin]
	},
}

// NewSignalHub creates the hub and starts its loop
func NewSignalHub(signals SignalStore, feed SignalFeed, members MemberChecker, m *metrics.Metrics) *SignalHub {
	maxConns := env.GetInt("WS_MAX_SIGNAL_CONNECTIONS", 1000)
	if maxConns <= 0 {
		maxConns = 1000
	}

	hub := &SignalHub{
		chats:               make(map[uuid.UUID]map[*SignalClient]bool),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		signals:             signals,
		feed:                feed,
		members:             members,
		metrics:             m,
		register:            make(chan *SignalClient),
		unregister:          make(chan *SignalClient),
		broadcast:           make(chan *domain.CallSignal, 256),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}

	go hub.run()

	return hub
}

func (h *SignalHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.chats[client.chatID] == nil {
				h.chats[client.chatID] = make(map[*SignalClient]bool)

				ctx, cancel := context.WithCancel(context.Background())
				h.subscriptionCancels[client.chatID] = cancel
				go h.subscribeToChat(ctx, client.chatID)
			}
			h.chats[client.chatID][client] = true
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.WebSocketConnected()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.chats[client.chatID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					client.cancel()

					if len(clients) == 0 {
						if cancel, ok := h.subscriptionCancels[client.chatID]; ok {
							cancel()
							delete(h.subscriptionCancels, client.chatID)
						}
						delete(h.chats, client.chatID)
					}

					if h.metrics != nil {
						h.metrics.WebSocketDisconnected()
					}
				}
			}
			h.mu.Unlock()

		case signal := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.chats[signal.ChatID]; ok {
				payload, _ := json.Marshal(signal)

				// The sender's own devices filter echoes themselves, but
				// skipping them here saves the round trip
				for client := range clients {
					if client.userID == signal.CallerID {
						continue
					}
					select {
					case client.send <- payload:
					default:
						close(client.send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToChat pipes the chat's signal feed into the broadcast loop
func (h *SignalHub) subscribeToChat(ctx context.Context, chatID uuid.UUID) {
	ch, err := h.feed.Subscribe(ctx, chatID)
	if err != nil {
		logger.Error("failed to subscribe to signal feed",
			zap.String("chat_id", chatID.String()),
			zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case signal, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast <- signal
		}
	}
}

// ServeWS upgrades the request and attaches the client to its chat feed
func (h *SignalHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
		defer func() {
			<-h.semaphore
		}()
	default:
		logger.Warn("signal connection rejected, at capacity",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity, please try again later"})
		return
	}

	chatIDStr := c.Query("chat_id")
	if chatIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id required"})
		return
	}

	chatID, err := uuid.Parse(chatIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat_id"})
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	isMember, err := h.members.IsMember(c.Request.Context(), chatID, userID)
	if err != nil {
		logger.Error("membership check failed",
			zap.String("chat_id", chatID.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !isMember {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this chat"})
		return
	}

	conn, err := signalUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed",
			zap.String("chat_id", chatID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &SignalClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		chatID: chatID,
		ctx:    ctx,
		cancel: cancel,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump consumes signal submissions from the socket
func (c *SignalClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("signal connection closed",
					zap.String("chat_id", c.chatID.String()),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var req signalRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			logger.Warn("invalid signal payload",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}

		if err := c.submit(req); err != nil {
			logger.Warn("failed to submit signal",
				zap.String("signal_type", string(req.Type)),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
		}
	}
}

// submit persists and publishes a client signal. Identity and expiry are
// always assigned here, never trusted from the payload.
func (c *SignalClient) submit(req signalRequest) error {
	if !req.Type.Valid() || req.CallLogID == uuid.Nil {
		return nil
	}

	ctx, cancelTimeout := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancelTimeout()

	signal := &domain.CallSignal{
		ID:        uuid.New(),
		ChatID:    c.chatID,
		CallLogID: req.CallLogID,
		CallerID:  c.userID,
		Type:      req.Type,
		ExpiresAt: time.Now().Add(constants.SignalExpiry),
	}

	if err := c.hub.signals.Insert(ctx, signal); err != nil {
		return err
	}

	return c.hub.feed.Publish(ctx, signal)
}

// writePump pushes broadcast signals and pings to the socket
func (c *SignalClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
