package channel

import (
	"context"
	"sync"

	"liquiflow/internal/model"
	"liquiflow/logger"
)

type ChannelStats struct {
	EventsSent      int64
	EventsReceived  int64
	ActionsSent     int64
	ActionsReceived int64
}

// Channels owns the two bounded queues between the pipeline stages:
// collector output -> Events -> strategy -> Actions -> executor.
// Sends block when a queue is full; slow consumers stall producers
// rather than dropping work.
type Channels struct {
	Events  chan model.LiquidationEvent
	Actions chan model.ClaimAction

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(eventQueueSize, actionQueueSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Events:  make(chan model.LiquidationEvent, eventQueueSize),
		Actions: make(chan model.ClaimAction, actionQueueSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"event_queue_size":  eventQueueSize,
		"action_queue_size": actionQueueSize,
	}).Info("pipeline channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Events)
	close(c.Actions)
	c.log.WithComponent("channels").Info("pipeline channels closed")
}

// SendEvent enqueues one event, blocking while the queue is full. It
// returns false only when ctx is cancelled before the event is accepted.
func (c *Channels) SendEvent(ctx context.Context, ev model.LiquidationEvent) bool {
	select {
	case c.Events <- ev:
		c.statsMutex.Lock()
		c.stats.EventsSent++
		c.statsMutex.Unlock()
		logger.RecordChannelMessage("events", len(ev.Payload))
		return true
	case <-ctx.Done():
		return false
	}
}

// ReceiveEvent dequeues one event, blocking while the queue is empty.
func (c *Channels) ReceiveEvent(ctx context.Context) (model.LiquidationEvent, bool) {
	select {
	case ev, ok := <-c.Events:
		if !ok {
			return model.LiquidationEvent{}, false
		}
		c.statsMutex.Lock()
		c.stats.EventsReceived++
		c.statsMutex.Unlock()
		return ev, true
	case <-ctx.Done():
		return model.LiquidationEvent{}, false
	}
}

// SendAction enqueues one action, blocking while the queue is full.
func (c *Channels) SendAction(ctx context.Context, action model.ClaimAction) bool {
	select {
	case c.Actions <- action:
		c.statsMutex.Lock()
		c.stats.ActionsSent++
		c.statsMutex.Unlock()
		logger.RecordChannelMessage("actions", len(action.Positions))
		return true
	case <-ctx.Done():
		return false
	}
}

// ReceiveAction dequeues one action, blocking while the queue is empty.
func (c *Channels) ReceiveAction(ctx context.Context) (model.ClaimAction, bool) {
	select {
	case action, ok := <-c.Actions:
		if !ok {
			return model.ClaimAction{}, false
		}
		c.statsMutex.Lock()
		c.stats.ActionsReceived++
		c.statsMutex.Unlock()
		return action, true
	case <-ctx.Done():
		return model.ClaimAction{}, false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// QueueDepths reports the current number of buffered events and actions.
func (c *Channels) QueueDepths() (events int, actions int) {
	return len(c.Events), len(c.Actions)
}
