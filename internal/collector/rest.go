package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"liquiflow/config"
	"liquiflow/internal/exchange"
	"liquiflow/internal/model"
	"liquiflow/logger"
)

// liquidationFetcher is the slice of the exchange client the REST
// collector needs.
type liquidationFetcher interface {
	GetPublicLiquidations(ctx context.Context) ([]exchange.LiquidationRow, error)
}

// RestCollector polls the public liquidation endpoint and emits each
// liquidation notice once. The endpoint returns a rolling window, so the
// collector remembers which ids it has already pushed.
type RestCollector struct {
	client       liquidationFetcher
	pollInterval time.Duration
	limiter      *rate.Limiter

	buffer chan model.LiquidationEvent
	pushed map[int64]struct{}

	mu      sync.RWMutex
	running bool
	wg      *sync.WaitGroup
	log     *logger.Log
}

func NewRestCollector(client liquidationFetcher, cfg config.CollectorConfig) *RestCollector {
	return &RestCollector{
		client:       client,
		pollInterval: cfg.Rest.PollInterval,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.BurstSize),
		buffer:       make(chan model.LiquidationEvent, cfg.BufferSize),
		pushed:       make(map[int64]struct{}),
		wg:           &sync.WaitGroup{},
		log:          logger.GetLogger(),
	}
}

// Start verifies connectivity within the given timeout and then begins
// background polling. Starting twice is an error.
func (c *RestCollector) Start(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("rest collector already running")
	}
	c.running = true
	c.mu.Unlock()

	log := c.log.WithComponent("rest_collector")

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := c.client.GetPublicLiquidations(checkCtx); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("rest collector connectivity check: %w", err)
	}

	c.wg.Add(1)
	go c.pollLoop(ctx)

	log.WithFields(logger.Fields{"poll_interval": c.pollInterval.String()}).Info("rest collector started")
	return nil
}

// Stop waits for the background poller to exit. The poller itself stops
// when the context passed to Start is cancelled.
func (c *RestCollector) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	c.log.WithComponent("rest_collector").Info("rest collector stopped")
}

// Poll blocks until an event is available or ctx is cancelled.
func (c *RestCollector) Poll(ctx context.Context) (*model.LiquidationEvent, error) {
	select {
	case ev := <-c.buffer:
		return &ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *RestCollector) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	log := c.log.WithComponent("rest_collector")
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("poll loop stopped due to context cancellation")
			return
		case <-ticker.C:
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return
		}

		rows, err := c.client.GetPublicLiquidations(ctx)
		if err != nil {
			log.WithError(err).Warn("failed to fetch liquidations")
			continue
		}

		for _, row := range rows {
			if _, seen := c.pushed[row.LiquidationID]; seen {
				continue
			}

			payload, err := json.Marshal(row)
			if err != nil {
				log.WithError(err).WithFields(logger.Fields{"liquidation_id": row.LiquidationID}).Warn("failed to encode liquidation row")
				continue
			}

			ev := model.LiquidationEvent{Source: model.SourceREST, Payload: payload}
			select {
			case c.buffer <- ev:
			case <-ctx.Done():
				return
			}

			c.pushed[row.LiquidationID] = struct{}{}
			logger.IncrementEventCollected("rest", len(payload))
			log.WithFields(logger.Fields{
				"liquidation_id": row.LiquidationID,
				"buffered":       len(c.buffer),
			}).Debug("liquidation pushed")
		}
	}
}
