package strategy

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"liquiflow/internal/model"
	"liquiflow/logger"
)

// restLiquidation is the REST feed shape. Field names are snake_case.
type restLiquidation struct {
	LiquidationID   int64          `json:"liquidation_id"`
	Timestamp       int64          `json:"timestamp"`
	Type            string         `json:"type"`
	PositionsByPerp []restPosition `json:"positions_by_perp"`
}

type restPosition struct {
	Symbol        string          `json:"symbol"`
	PositionQty   decimal.Decimal `json:"position_qty"`
	LiquidatorFee decimal.Decimal `json:"liquidator_fee"`
}

// wsLiquidation is the websocket feed shape. The feed reports the same
// liquidations as REST but with camelCase field names.
type wsLiquidation struct {
	LiquidationID   int64        `json:"liquidationId"`
	Timestamp       int64        `json:"timestamp"`
	Type            string       `json:"type"`
	PositionsByPerp []wsPosition `json:"positions_by_perp"`
}

type wsPosition struct {
	Symbol        string          `json:"symbol"`
	PositionQty   decimal.Decimal `json:"positionQty"`
	LiquidatorFee decimal.Decimal `json:"liquidatorFee"`
}

// DirectStrategy converts raw liquidation events into at most one claim
// action per liquidation id. Both feeds deliver the same liquidations, so
// the id set is what makes redundant collection safe: first delivery wins,
// later duplicates are dropped.
type DirectStrategy struct {
	mu          sync.Mutex
	seen        map[int64]struct{}
	maxEventAge time.Duration
	log         *logger.Log
}

// NewDirectStrategy creates a strategy. maxEventAge drops events older
// than the given age at processing time; zero disables the filter.
func NewDirectStrategy(maxEventAge time.Duration) *DirectStrategy {
	return &DirectStrategy{
		seen:        make(map[int64]struct{}),
		maxEventAge: maxEventAge,
		log:         logger.GetLogger(),
	}
}

// SyncState is a no-op; the strategy holds no exchange-side state.
func (s *DirectStrategy) SyncState(ctx context.Context) error {
	return nil
}

// ProcessEvent decodes one event and returns the resulting action, or nil
// when the event is malformed, stale or a duplicate delivery. It never
// returns an error for bad input; a broken payload is logged and skipped.
func (s *DirectStrategy) ProcessEvent(ctx context.Context, event model.LiquidationEvent) (*model.ClaimAction, error) {
	log := s.log.WithComponent("direct_strategy")

	var action model.ClaimAction
	switch event.Source {
	case model.SourceREST:
		var raw restLiquidation
		if err := json.Unmarshal(event.Payload, &raw); err != nil {
			log.WithError(err).WithFields(logger.Fields{"source": event.Source}).Warn("undecodable event payload")
			return nil, nil
		}
		action = model.ClaimAction{
			LiquidationID: raw.LiquidationID,
			Type:          normalizeType(raw.Type),
			TimestampMs:   raw.Timestamp,
			Positions:     make([]model.Position, 0, len(raw.PositionsByPerp)),
		}
		for _, p := range raw.PositionsByPerp {
			action.Positions = append(action.Positions, model.Position{
				Symbol:        p.Symbol,
				PositionQty:   p.PositionQty,
				LiquidatorFee: p.LiquidatorFee,
			})
		}
	case model.SourceWS:
		var raw wsLiquidation
		if err := json.Unmarshal(event.Payload, &raw); err != nil {
			log.WithError(err).WithFields(logger.Fields{"source": event.Source}).Warn("undecodable event payload")
			return nil, nil
		}
		action = model.ClaimAction{
			LiquidationID: raw.LiquidationID,
			Type:          normalizeType(raw.Type),
			TimestampMs:   raw.Timestamp,
			Positions:     make([]model.Position, 0, len(raw.PositionsByPerp)),
		}
		for _, p := range raw.PositionsByPerp {
			action.Positions = append(action.Positions, model.Position{
				Symbol:        p.Symbol,
				PositionQty:   p.PositionQty,
				LiquidatorFee: p.LiquidatorFee,
			})
		}
	default:
		log.WithFields(logger.Fields{"source": event.Source}).Warn("unknown event source")
		return nil, nil
	}

	if action.LiquidationID == 0 {
		log.Warn("event without liquidation id")
		return nil, nil
	}

	if s.maxEventAge > 0 {
		age := time.Since(time.UnixMilli(action.TimestampMs))
		if age > s.maxEventAge {
			log.WithFields(logger.Fields{
				"liquidation_id": action.LiquidationID,
				"age_ms":         age.Milliseconds(),
			}).Debug("dropping stale event")
			return nil, nil
		}
	}

	s.mu.Lock()
	if _, dup := s.seen[action.LiquidationID]; dup {
		s.mu.Unlock()
		logger.IncrementEventDeduped()
		log.WithFields(logger.Fields{
			"liquidation_id": action.LiquidationID,
			"source":         event.Source,
		}).Debug("duplicate liquidation delivery dropped")
		return nil, nil
	}
	s.seen[action.LiquidationID] = struct{}{}
	s.mu.Unlock()

	// A claim window enumerates every instrument of the liquidation but
	// only one claim request is submitted per event cycle; the hedge pass
	// flattens whatever settles.
	if action.Type == model.TypeClaim && len(action.Positions) > 1 {
		action.Positions = action.Positions[:1]
	}

	logger.IncrementActionEmitted()
	log.WithFields(logger.Fields{
		"liquidation_id": action.LiquidationID,
		"type":           action.Type,
		"positions":      len(action.Positions),
	}).Info("claim action emitted")

	return &action, nil
}

// SeenCount reports how many liquidation ids have been turned into actions.
func (s *DirectStrategy) SeenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func normalizeType(raw string) model.LiquidationType {
	switch strings.ToLower(raw) {
	case "liquidated":
		return model.TypeLiquidated
	case "claim":
		return model.TypeClaim
	default:
		return model.LiquidationType(strings.ToLower(raw))
	}
}
