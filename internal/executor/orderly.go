package executor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"liquiflow/config"
	"liquiflow/internal/exchange"
	"liquiflow/internal/model"
	"liquiflow/logger"
)

// ExchangeClient is the slice of the exchange API the executor drives.
type ExchangeClient interface {
	GetAvailableSymbols(ctx context.Context) ([]model.SymbolInfo, error)
	GetAllPositions(ctx context.Context) ([]exchange.PositionRow, error)
	GetCurrentHolding(ctx context.Context) (json.RawMessage, error)
	GetAccountInfo(ctx context.Context) (json.RawMessage, error)
	ClaimLiquidatedPositions(ctx context.Context, req exchange.ClaimLiquidatedRequest) (json.RawMessage, error)
	ClaimInsuranceFund(ctx context.Context, req exchange.ClaimInsuranceFundRequest) (json.RawMessage, error)
	CreateOrder(ctx context.Context, req exchange.OrderRequest) (json.RawMessage, error)
}

// OrderlyExecutor turns claim actions into exchange calls: claim the
// liquidated exposure, wait for the position transfer to clear, then
// flatten whatever landed on the account with market orders.
type OrderlyExecutor struct {
	client       ExchangeClient
	claimPercent decimal.Decimal
	settleDelay  time.Duration
	symbolQty    map[string]model.SymbolLimits

	mu         sync.RWMutex
	symbolInfo map[string]model.SymbolInfo

	log *logger.Log
}

func NewOrderlyExecutor(client ExchangeClient, cfg config.ExecutorConfig) *OrderlyExecutor {
	symbolQty := make(map[string]model.SymbolLimits, len(cfg.SymbolQty))
	for symbol, band := range cfg.SymbolQty {
		symbolQty[symbol] = model.SymbolLimits{
			MinQty: decimal.NewFromFloat(band.MinQty),
			MaxQty: decimal.NewFromFloat(band.MaxQty),
		}
	}

	return &OrderlyExecutor{
		client:       client,
		claimPercent: decimal.NewFromFloat(cfg.ClaimPercent),
		settleDelay:  cfg.SettleDelay,
		symbolQty:    symbolQty,
		symbolInfo:   make(map[string]model.SymbolInfo),
		log:          logger.GetLogger(),
	}
}

// SyncState loads the per-symbol trading rules once before the executor
// loop starts. Balance and account info are fetched for the record; their
// failure does not block start-up.
func (e *OrderlyExecutor) SyncState(ctx context.Context) error {
	log := e.log.WithComponent("orderly_executor")

	symbols, err := e.client.GetAvailableSymbols(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, info := range symbols {
		e.symbolInfo[info.Symbol] = info
	}
	e.mu.Unlock()

	log.WithFields(logger.Fields{"symbols": len(symbols)}).Info("symbol trading rules cached")

	if holding, err := e.client.GetCurrentHolding(ctx); err != nil {
		log.WithError(err).Warn("failed to fetch current holding")
	} else {
		log.WithFields(logger.Fields{"holding": string(holding)}).Info("executor balance")
	}

	if info, err := e.client.GetAccountInfo(ctx); err != nil {
		log.WithError(err).Warn("failed to fetch account info")
	} else {
		log.WithFields(logger.Fields{"account": string(info)}).Info("executor account info")
	}

	return nil
}

// Execute claims every configured position of the action, waits out the
// settlement delay, then hedges all open positions flat. Business-rule
// violations are logged and skipped; only a cancelled context stops the
// sequence early.
func (e *OrderlyExecutor) Execute(ctx context.Context, action model.ClaimAction) error {
	log := e.log.WithComponent("orderly_executor").WithFields(logger.Fields{
		"liquidation_id": action.LiquidationID,
		"type":           action.Type,
	})

	for _, position := range action.Positions {
		if _, ok := e.symbolQty[position.Symbol]; !ok {
			log.WithFields(logger.Fields{"symbol": position.Symbol}).Warn("claim ignored, symbol not configured in symbol_qty")
			continue
		}

		qty, ratio := e.CalcClaimQty(position.Symbol, position.PositionQty)
		if qty.IsZero() || ratio.IsZero() {
			log.WithFields(logger.Fields{
				"symbol":       position.Symbol,
				"position_qty": position.PositionQty,
			}).Warn("claim skipped, quantity outside admissible band")
			continue
		}

		switch action.Type {
		case model.TypeLiquidated:
			req := exchange.ClaimLiquidatedRequest{
				LiquidationID:   action.LiquidationID,
				RatioQtyRequest: ratio,
			}
			log.WithFields(logger.Fields{"symbol": position.Symbol, "ratio": ratio}).Info("claiming liquidated position")
			res, err := e.client.ClaimLiquidatedPositions(ctx, req)
			if err != nil {
				log.WithError(err).Error("claim_liquidated_positions failed")
				continue
			}
			logger.IncrementClaimSubmitted()
			log.WithFields(logger.Fields{"response": string(res)}).Info("claim_liquidated_positions response")

		case model.TypeClaim:
			req := exchange.ClaimInsuranceFundRequest{
				LiquidationID: action.LiquidationID,
				Symbol:        position.Symbol,
				QtyRequest:    e.FormatQty(position.Symbol, qty),
			}
			log.WithFields(logger.Fields{"symbol": position.Symbol, "qty": req.QtyRequest}).Info("claiming from insurance fund")
			res, err := e.client.ClaimInsuranceFund(ctx, req)
			if err != nil {
				log.WithError(err).Error("claim_insurance_fund failed")
				continue
			}
			logger.IncrementClaimSubmitted()
			log.WithFields(logger.Fields{"response": string(res)}).Info("claim_insurance_fund response")

		default:
			log.Error("unknown liquidation type, claim not submitted")
		}
	}

	// wait for position transfer to clear before hedging
	select {
	case <-time.After(e.settleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	return e.hedgeOpenPositions(ctx, log)
}

// hedgeOpenPositions flattens every non-zero position with an opposite
// side market order.
func (e *OrderlyExecutor) hedgeOpenPositions(ctx context.Context, log *logger.Entry) error {
	positions, err := e.client.GetAllPositions(ctx)
	if err != nil {
		log.WithError(err).Error("failed to fetch positions for hedge")
		return nil
	}

	for _, position := range positions {
		var side string
		switch {
		case position.PositionQty.IsPositive():
			side = "SELL"
		case position.PositionQty.IsNegative():
			side = "BUY"
		default:
			log.WithFields(logger.Fields{"symbol": position.Symbol}).Debug("zero position, no hedge needed")
			continue
		}

		req := exchange.OrderRequest{
			Symbol:        position.Symbol,
			OrderType:     "MARKET",
			Side:          side,
			OrderQuantity: e.FormatQty(position.Symbol, position.PositionQty.Abs()),
			ClientOrderID: uuid.NewString(),
		}
		log.WithFields(logger.Fields{
			"symbol": req.Symbol,
			"side":   req.Side,
			"qty":    req.OrderQuantity,
		}).Info("submitting hedge order")

		res, err := e.client.CreateOrder(ctx, req)
		if err != nil {
			log.WithError(err).Error("hedge order failed")
			continue
		}
		logger.IncrementHedgeOrder()
		log.WithFields(logger.Fields{"response": string(res)}).Info("hedge order response")
	}

	return nil
}

// CalcClaimQty computes the signed claim quantity and the claim ratio for
// one position. The target is claim_percent of the absolute position size,
// raised to the symbol's minimum when below it. A target above the maximum
// skips the claim entirely rather than truncating it. The ratio is
// |target/position| truncated to three decimals because the
// liquidated-claim API takes a ratio.
func (e *OrderlyExecutor) CalcClaimQty(symbol string, positionQty decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if positionQty.IsZero() {
		return decimal.Zero, decimal.Zero
	}

	limits, ok := e.symbolQty[symbol]
	if !ok {
		return decimal.Zero, decimal.Zero
	}

	target := positionQty.Abs().Mul(e.claimPercent)
	if target.LessThan(limits.MinQty) {
		target = limits.MinQty
	}
	if target.GreaterThan(limits.MaxQty) {
		return decimal.Zero, decimal.Zero
	}

	ratio := target.Div(positionQty.Abs()).Truncate(3)

	qty := target
	if positionQty.IsNegative() {
		qty = target.Neg()
	}
	return qty, ratio
}

// FormatQty quantizes qty toward zero to the symbol's base tick so the
// exchange never receives more than intended. Symbols without cached
// trading rules pass through unchanged.
func (e *OrderlyExecutor) FormatQty(symbol string, qty decimal.Decimal) decimal.Decimal {
	e.mu.RLock()
	info, ok := e.symbolInfo[symbol]
	e.mu.RUnlock()

	if !ok || info.BaseTick.IsZero() {
		return qty
	}
	return qty.Div(info.BaseTick).Truncate(0).Mul(info.BaseTick)
}
