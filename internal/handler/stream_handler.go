package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/service"
	"github.com/noah-isme/xray-triage-api/pkg/middleware/cors"
)

const (
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamReadLimit  = 512
)

type statsHub interface {
	Subscribe(ctx context.Context, sub service.Subscriber) (*service.Subscription, error)
	Unsubscribe(id string)
}

// StreamHandler upgrades clients to a WebSocket that receives live stats snapshots.
type StreamHandler struct {
	hub      statsHub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHandler constructs the handler. Browser origins are checked against policy.
func NewStreamHandler(hub statsHub, policy cors.Policy, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return policy.Allows(r.Header.Get("Origin"))
			},
		},
	}
}

// Stream godoc
// @Summary Live statistics stream
// @Description Upgrades to a WebSocket. Each message is {"type":"stats_update","data":{...}}.
// @Tags Stats
// @Success 101
// @Router /stats/stream [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the client.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &wsSubscriber{conn: conn}
	subscription, err := h.hub.Subscribe(c.Request.Context(), sub)
	if err != nil {
		h.logger.Debug("stats subscription rejected", zap.Error(err))
		_ = sub.Close()
		return
	}

	done := make(chan struct{})
	go sub.keepAlive(done)
	h.readUntilClosed(conn)
	close(done)
	h.hub.Unsubscribe(subscription.ID())
}

// readUntilClosed drains client frames so control messages are processed, returning
// once the client goes away.
func (h *StreamHandler) readUntilClosed(conn *websocket.Conn) {
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("stats stream read ended", zap.Error(err))
			}
			return
		}
	}
}

// wsSubscriber adapts a WebSocket connection to the hub's Subscriber.
type wsSubscriber struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

var errSubscriberClosed = errors.New("stream closed")

func (s *wsSubscriber) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(streamWriteWait)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return errSubscriberClosed
		}
		return err
	}
	return nil
}

func (s *wsSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *wsSubscriber) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
