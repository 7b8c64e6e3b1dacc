package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liquiflow/config"
	"liquiflow/internal/model"
	"liquiflow/logger"
)

// wsMessage is the topic envelope of the public websocket stream.
type wsMessage struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Ts    int64           `json:"ts,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WsCollector subscribes to the public liquidation topic and feeds every
// received notice into its buffer. The connection is re-established after
// errors until the context is cancelled.
type WsCollector struct {
	endpoint       string
	accountID      string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	buffer chan model.LiquidationEvent

	mu      sync.RWMutex
	running bool
	wg      *sync.WaitGroup
	log     *logger.Log
}

func NewWsCollector(endpoint, accountID string, cfg config.CollectorConfig) *WsCollector {
	return &WsCollector{
		endpoint:       strings.TrimSuffix(endpoint, "/"),
		accountID:      accountID,
		reconnectDelay: cfg.Ws.ReconnectDelay,
		pingInterval:   cfg.Ws.PingInterval,
		buffer:         make(chan model.LiquidationEvent, cfg.BufferSize),
		wg:             &sync.WaitGroup{},
		log:            logger.GetLogger(),
	}
}

// Start establishes the initial connection within the given timeout and
// then keeps the stream alive in the background.
func (c *WsCollector) Start(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("ws collector already running")
	}
	c.running = true
	c.mu.Unlock()

	conn, err := c.connect(ctx, timeout)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("ws collector initial connection: %w", err)
	}

	c.wg.Add(1)
	go c.streamLoop(ctx, conn)

	c.log.WithComponent("ws_collector").WithFields(logger.Fields{"endpoint": c.endpoint}).Info("ws collector started")
	return nil
}

// Stop waits for the stream loop to exit.
func (c *WsCollector) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	c.log.WithComponent("ws_collector").Info("ws collector stopped")
}

// Poll blocks until an event is available or ctx is cancelled.
func (c *WsCollector) Poll(ctx context.Context) (*model.LiquidationEvent, error) {
	select {
	case ev := <-c.buffer:
		return &ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *WsCollector) connect(ctx context.Context, timeout time.Duration) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	url := fmt.Sprintf("%s/ws/stream/%s", c.endpoint, c.accountID)

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	sub := wsMessage{ID: "liquidation-sub", Event: "subscribe", Topic: "liquidation"}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to liquidation topic: %w", err)
	}

	return conn, nil
}

// streamLoop reads the connection until it breaks, then reconnects after
// the configured delay. It owns the connection lifetime.
func (c *WsCollector) streamLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	log := c.log.WithComponent("ws_collector")

	for {
		c.readUntilError(ctx, conn, log)
		conn.Close()

		var err error
		conn, err = c.reconnectUntilUp(ctx, log)
		if err != nil {
			log.Info("stream loop stopped due to context cancellation")
			return
		}
		log.Info("websocket reconnected")
	}
}

func (c *WsCollector) reconnectUntilUp(ctx context.Context, log *logger.Entry) (*websocket.Conn, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.reconnectDelay):
		}

		conn, err := c.connect(ctx, c.reconnectDelay)
		if err != nil {
			log.WithError(err).Warn("reconnect failed")
			continue
		}
		return conn, nil
	}
}

func (c *WsCollector) readUntilError(ctx context.Context, conn *websocket.Conn, log *logger.Entry) {
	pingTicker := time.NewTicker(c.pingInterval)
	defer pingTicker.Stop()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-pingTicker.C:
				if err := conn.WriteJSON(wsMessage{Event: "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Warn("websocket read failed")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.WithError(err).Warn("undecodable websocket message")
			continue
		}

		switch {
		case msg.Event == "ping":
			if err := conn.WriteJSON(wsMessage{Event: "pong", Ts: msg.Ts}); err != nil {
				return
			}
		case msg.Event == "subscribe":
			log.WithFields(logger.Fields{"topic": msg.Topic}).Info("subscription acknowledged")
		case msg.Topic == "liquidation" && len(msg.Data) > 0:
			c.pushData(ctx, msg.Data, log)
		}
	}
}

// pushData fans one topic message out as events. The exchange batches
// liquidations, so data may be one object or an array of objects.
func (c *WsCollector) pushData(ctx context.Context, data json.RawMessage, log *logger.Entry) {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		rows = []json.RawMessage{data}
	}

	for _, row := range rows {
		ev := model.LiquidationEvent{Source: model.SourceWS, Payload: row}
		select {
		case c.buffer <- ev:
			logger.IncrementEventCollected("ws", len(row))
		case <-ctx.Done():
			return
		}
	}
}
