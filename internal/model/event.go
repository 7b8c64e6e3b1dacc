package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// EventSource identifies which feed delivered a liquidation notice. The
// REST and WS feeds report the same liquidations with different field
// naming, so the source tag tells the strategy how to decode the payload.
type EventSource string

const (
	SourceREST EventSource = "rest"
	SourceWS   EventSource = "ws"
)

// LiquidationType distinguishes a forced-liquidation notice from an open
// claim window against the insurance fund.
type LiquidationType string

const (
	TypeLiquidated LiquidationType = "liquidated"
	TypeClaim      LiquidationType = "claim"
)

// LiquidationEvent is one liquidation notice exactly as a collector
// received it. The payload keeps the source-specific field names; only the
// strategy decodes it into the canonical action shape.
type LiquidationEvent struct {
	Source  EventSource     `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

// Position is one instrument leg of a liquidation, normalized to canonical
// field names.
type Position struct {
	Symbol        string          `json:"symbol"`
	PositionQty   decimal.Decimal `json:"position_qty"`
	LiquidatorFee decimal.Decimal `json:"liquidator_fee"`
}

// ClaimAction is the canonical claim request derived from exactly one
// LiquidationEvent. It is consumed once by an executor and then discarded.
type ClaimAction struct {
	LiquidationID int64           `json:"liquidation_id"`
	Type          LiquidationType `json:"type"`
	TimestampMs   int64           `json:"timestamp_ms"`
	Positions     []Position      `json:"positions"`
}
