package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"liquiflow/internal/channel"
	"liquiflow/internal/model"
	"liquiflow/logger"
)

// Collector produces liquidation events from one exchange feed. Start
// begins background production and must succeed within the timeout; Poll
// blocks until an event is available or ctx is cancelled. A nil event
// with a nil error means "nothing right now", never end-of-stream.
type Collector interface {
	Start(ctx context.Context, timeout time.Duration) error
	Poll(ctx context.Context) (*model.LiquidationEvent, error)
}

// Strategy turns one event into at most one action. A nil action drops
// the event.
type Strategy interface {
	SyncState(ctx context.Context) error
	ProcessEvent(ctx context.Context, event model.LiquidationEvent) (*model.ClaimAction, error)
}

// Executor performs the exchange side effects for one action.
type Executor interface {
	SyncState(ctx context.Context) error
	Execute(ctx context.Context, action model.ClaimAction) error
}

// Engine wires collectors, strategies and executors through two bounded
// queues and runs one task per participant. A failed invocation is logged
// and the owning task continues; a failed task start aborts the whole
// engine.
type Engine struct {
	channels     *channel.Channels
	collectors   []Collector
	strategies   []Strategy
	executors    []Executor
	startTimeout time.Duration

	mu      sync.Mutex
	running bool
	log     *logger.Log
}

func NewEngine(channels *channel.Channels, startTimeout time.Duration) *Engine {
	return &Engine{
		channels:     channels,
		startTimeout: startTimeout,
		log:          logger.GetLogger(),
	}
}

// AddCollector registers a collector. Registration is only valid before Run.
func (e *Engine) AddCollector(c Collector) {
	e.collectors = append(e.collectors, c)
}

// AddStrategy registers a strategy. Registration is only valid before Run.
func (e *Engine) AddStrategy(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// AddExecutor registers an executor. Registration is only valid before Run.
func (e *Engine) AddExecutor(x Executor) {
	e.executors = append(e.executors, x)
}

// Run starts all tasks and blocks until the context is cancelled or a
// task fails to come up. On return every task has exited.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	if len(e.collectors) == 0 {
		return fmt.Errorf("engine requires at least one collector")
	}
	if len(e.strategies) == 0 {
		return fmt.Errorf("engine requires at least one strategy")
	}
	if len(e.executors) == 0 {
		return fmt.Errorf("engine requires at least one executor")
	}

	log := e.log.WithComponent("engine")
	log.WithFields(logger.Fields{
		"collectors": len(e.collectors),
		"strategies": len(e.strategies),
		"executors":  len(e.executors),
	}).Info("starting engine")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, len(e.collectors)+2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runExecutors(runCtx, fatal)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runStrategies(runCtx, fatal)
	}()

	for _, c := range e.collectors {
		wg.Add(1)
		go func(c Collector) {
			defer wg.Done()
			e.runCollector(runCtx, c, fatal)
		}(c)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-fatal:
		log.WithError(err).Error("engine task failed, shutting down")
	}

	cancel()
	wg.Wait()
	log.Info("engine stopped")
	return err
}

// runCollector pumps one collector into the event queue. Events preserve
// the collector's own order; interleaving between collectors is up to the
// scheduler and made safe by the strategy's dedup.
func (e *Engine) runCollector(ctx context.Context, c Collector, fatal chan<- error) {
	log := e.log.WithComponent("engine")

	if err := c.Start(ctx, e.startTimeout); err != nil {
		fatal <- fmt.Errorf("collector start: %w", err)
		return
	}

	for {
		ev, err := c.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("collector poll failed")
			continue
		}
		if ev == nil {
			// no event right now
			continue
		}
		if !e.channels.SendEvent(ctx, *ev) {
			return
		}
	}
}

// runStrategies syncs every strategy once, then pumps the event queue.
// Each event is offered to all strategies concurrently; nil actions are
// dropped silently.
func (e *Engine) runStrategies(ctx context.Context, fatal chan<- error) {
	for _, s := range e.strategies {
		if err := s.SyncState(ctx); err != nil {
			fatal <- fmt.Errorf("strategy sync_state: %w", err)
			return
		}
	}

	for {
		ev, ok := e.channels.ReceiveEvent(ctx)
		if !ok {
			return
		}

		var wg sync.WaitGroup
		for _, s := range e.strategies {
			wg.Add(1)
			go func(s Strategy) {
				defer wg.Done()
				action := e.processEvent(ctx, s, ev)
				if action == nil {
					return
				}
				e.channels.SendAction(ctx, *action)
			}(s)
		}
		wg.Wait()
	}
}

// runExecutors syncs every executor once, then pumps the action queue,
// fanning each action to all executors concurrently.
func (e *Engine) runExecutors(ctx context.Context, fatal chan<- error) {
	for _, x := range e.executors {
		if err := x.SyncState(ctx); err != nil {
			fatal <- fmt.Errorf("executor sync_state: %w", err)
			return
		}
	}

	for {
		action, ok := e.channels.ReceiveAction(ctx)
		if !ok {
			return
		}

		var wg sync.WaitGroup
		for _, x := range e.executors {
			wg.Add(1)
			go func(x Executor) {
				defer wg.Done()
				e.executeAction(ctx, x, action)
			}(x)
		}
		wg.Wait()
	}
}

// processEvent shields the strategy pump from a misbehaving strategy: an
// error or panic in one invocation is logged and the pump keeps going.
func (e *Engine) processEvent(ctx context.Context, s Strategy, ev model.LiquidationEvent) (action *model.ClaimAction) {
	log := e.log.WithComponent("engine")
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{"panic": fmt.Sprint(r)}).Error("strategy panicked processing event")
			action = nil
		}
	}()

	action, err := s.ProcessEvent(ctx, ev)
	if err != nil {
		log.WithError(err).Error("strategy failed to process event")
		return nil
	}
	return action
}

// executeAction shields the executor pump the same way.
func (e *Engine) executeAction(ctx context.Context, x Executor, action model.ClaimAction) {
	log := e.log.WithComponent("engine").WithFields(logger.Fields{
		"liquidation_id": action.LiquidationID,
	})
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{"panic": fmt.Sprint(r)}).Error("executor panicked executing action")
		}
	}()

	if err := x.Execute(ctx, action); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Error("executor failed to execute action")
	}
}
