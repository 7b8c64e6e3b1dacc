package model

import "github.com/shopspring/decimal"

// SymbolLimits is the operator-configured admissible claim size band for
// one symbol. Claims outside the band are skipped, never truncated.
type SymbolLimits struct {
	MinQty decimal.Decimal
	MaxQty decimal.Decimal
}

// SymbolInfo carries the exchange-reported trading rules for one symbol,
// fetched once at start-up via the executor's state sync.
type SymbolInfo struct {
	Symbol      string          `json:"symbol"`
	BaseTick    decimal.Decimal `json:"base_tick"`
	BaseMin     decimal.Decimal `json:"base_min"`
	MinNotional decimal.Decimal `json:"min_notional"`
}
