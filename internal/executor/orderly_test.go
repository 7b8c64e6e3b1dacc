package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"liquiflow/config"
	"liquiflow/internal/exchange"
	"liquiflow/internal/model"
)

// fakeExchange records calls and serves canned responses.
type fakeExchange struct {
	symbols   []model.SymbolInfo
	positions []exchange.PositionRow

	liquidatedClaims []exchange.ClaimLiquidatedRequest
	insuranceClaims  []exchange.ClaimInsuranceFundRequest
	orders           []exchange.OrderRequest
}

func (f *fakeExchange) GetAvailableSymbols(ctx context.Context) ([]model.SymbolInfo, error) {
	return f.symbols, nil
}

func (f *fakeExchange) GetAllPositions(ctx context.Context) ([]exchange.PositionRow, error) {
	return f.positions, nil
}

func (f *fakeExchange) GetCurrentHolding(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"holding":[]}`), nil
}

func (f *fakeExchange) GetAccountInfo(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"account_id":"0xacc"}`), nil
}

func (f *fakeExchange) ClaimLiquidatedPositions(ctx context.Context, req exchange.ClaimLiquidatedRequest) (json.RawMessage, error) {
	f.liquidatedClaims = append(f.liquidatedClaims, req)
	return json.RawMessage(`{"success":true}`), nil
}

func (f *fakeExchange) ClaimInsuranceFund(ctx context.Context, req exchange.ClaimInsuranceFundRequest) (json.RawMessage, error) {
	f.insuranceClaims = append(f.insuranceClaims, req)
	return json.RawMessage(`{"success":true}`), nil
}

func (f *fakeExchange) CreateOrder(ctx context.Context, req exchange.OrderRequest) (json.RawMessage, error) {
	f.orders = append(f.orders, req)
	return json.RawMessage(`{"order_id":1}`), nil
}

func newTestExecutor(t *testing.T, fake *fakeExchange) *OrderlyExecutor {
	t.Helper()
	e := NewOrderlyExecutor(fake, config.ExecutorConfig{
		ClaimPercent: 0.1,
		SettleDelay:  time.Millisecond,
		SymbolQty: map[string]config.SymbolQtyBand{
			"PERP_BTC_USDC": {MinQty: 1, MaxQty: 5},
			"PERP_ETH_USDC": {MinQty: 1, MaxQty: 10},
		},
	})
	require.NoError(t, e.SyncState(context.Background()))
	return e
}

func btcTickSymbols() []model.SymbolInfo {
	return []model.SymbolInfo{
		{
			Symbol:      "PERP_BTC_USDC",
			BaseTick:    decimal.RequireFromString("0.01"),
			BaseMin:     decimal.RequireFromString("0.01"),
			MinNotional: decimal.RequireFromString("10"),
		},
		{
			Symbol:      "PERP_ETH_USDC",
			BaseTick:    decimal.RequireFromString("0.001"),
			BaseMin:     decimal.RequireFromString("0.001"),
			MinNotional: decimal.RequireFromString("10"),
		},
	}
}

func TestCalcClaimQtyZeroPosition(t *testing.T) {
	e := newTestExecutor(t, &fakeExchange{symbols: btcTickSymbols()})

	qty, ratio := e.CalcClaimQty("PERP_BTC_USDC", decimal.Zero)
	require.True(t, qty.IsZero())
	require.True(t, ratio.IsZero())
}

// Target above the symbol maximum skips the claim instead of capping it.
func TestCalcClaimQtyAboveMaxSkips(t *testing.T) {
	e := newTestExecutor(t, &fakeExchange{symbols: btcTickSymbols()})

	// 100 * 0.1 = 10 > max 5
	qty, ratio := e.CalcClaimQty("PERP_BTC_USDC", decimal.NewFromInt(100))
	require.True(t, qty.IsZero())
	require.True(t, ratio.IsZero())
}

func TestCalcClaimQtyNegativePositionKeepsSign(t *testing.T) {
	e := newTestExecutor(t, &fakeExchange{symbols: btcTickSymbols()})

	// |-50| * 0.1 = 5, inside [1, 10]
	qty, ratio := e.CalcClaimQty("PERP_ETH_USDC", decimal.NewFromInt(-50))
	require.True(t, qty.Equal(decimal.NewFromInt(-5)), "qty = %s", qty)
	require.True(t, ratio.Equal(decimal.RequireFromString("0.1")), "ratio = %s", ratio)
}

func TestCalcClaimQtyRaisesToMin(t *testing.T) {
	e := newTestExecutor(t, &fakeExchange{symbols: btcTickSymbols()})

	// 3 * 0.1 = 0.3 < min 1 -> raised to 1; ratio 1/3 truncated to 0.333
	qty, ratio := e.CalcClaimQty("PERP_BTC_USDC", decimal.NewFromInt(3))
	require.True(t, qty.Equal(decimal.NewFromInt(1)), "qty = %s", qty)
	require.True(t, ratio.Equal(decimal.RequireFromString("0.333")), "ratio = %s", ratio)
}

func TestCalcClaimQtyBounds(t *testing.T) {
	e := newTestExecutor(t, &fakeExchange{symbols: btcTickSymbols()})

	min := decimal.NewFromInt(1)
	max := decimal.NewFromInt(5)
	for _, position := range []int64{-200, -60, -10, -1, 1, 7, 30, 49, 200} {
		qty, _ := e.CalcClaimQty("PERP_BTC_USDC", decimal.NewFromInt(position))
		if qty.IsZero() {
			continue
		}
		abs := qty.Abs()
		require.True(t, abs.GreaterThanOrEqual(min), "position %d: |qty| %s below min", position, abs)
		require.True(t, abs.LessThanOrEqual(max), "position %d: |qty| %s above max", position, abs)
		require.Equal(t, position < 0, qty.IsNegative(), "position %d: sign mismatch", position)
	}
}

func TestCalcClaimQtyUnconfiguredSymbol(t *testing.T) {
	e := newTestExecutor(t, &fakeExchange{symbols: btcTickSymbols()})

	qty, ratio := e.CalcClaimQty("PERP_SOL_USDC", decimal.NewFromInt(10))
	require.True(t, qty.IsZero())
	require.True(t, ratio.IsZero())
}

func TestFormatQtyQuantizesDown(t *testing.T) {
	e := newTestExecutor(t, &fakeExchange{symbols: btcTickSymbols()})

	cases := []struct {
		in   string
		want string
	}{
		{"3.2", "3.2"},
		{"3.219", "3.21"},
		{"0.009", "0"},
		{"1.999999", "1.99"},
	}
	for _, c := range cases {
		got := e.FormatQty("PERP_BTC_USDC", decimal.RequireFromString(c.in))
		require.True(t, got.Equal(decimal.RequireFromString(c.want)), "FormatQty(%s) = %s, want %s", c.in, got, c.want)
		require.True(t, got.LessThanOrEqual(decimal.RequireFromString(c.in)), "FormatQty rounded up")
		if !got.IsZero() {
			require.True(t, got.Mod(decimal.RequireFromString("0.01")).IsZero(), "FormatQty(%s) = %s not on tick", c.in, got)
		}
	}
}

func TestFormatQtyUnknownSymbolPassesThrough(t *testing.T) {
	e := newTestExecutor(t, &fakeExchange{symbols: btcTickSymbols()})

	in := decimal.RequireFromString("1.23456")
	require.True(t, e.FormatQty("PERP_SOL_USDC", in).Equal(in))
}

func TestExecuteLiquidatedClaimsByRatio(t *testing.T) {
	fake := &fakeExchange{symbols: btcTickSymbols()}
	e := newTestExecutor(t, fake)

	action := model.ClaimAction{
		LiquidationID: 42,
		Type:          model.TypeLiquidated,
		TimestampMs:   time.Now().UnixMilli(),
		Positions: []model.Position{
			{Symbol: "PERP_BTC_USDC", PositionQty: decimal.NewFromInt(30)},
		},
	}
	require.NoError(t, e.Execute(context.Background(), action))

	require.Len(t, fake.liquidatedClaims, 1)
	require.Empty(t, fake.insuranceClaims)
	require.Equal(t, int64(42), fake.liquidatedClaims[0].LiquidationID)
	require.True(t, fake.liquidatedClaims[0].RatioQtyRequest.Equal(decimal.RequireFromString("0.1")))
}

func TestExecuteClaimUsesAbsoluteQty(t *testing.T) {
	fake := &fakeExchange{symbols: btcTickSymbols()}
	e := newTestExecutor(t, fake)

	action := model.ClaimAction{
		LiquidationID: 43,
		Type:          model.TypeClaim,
		Positions: []model.Position{
			{Symbol: "PERP_BTC_USDC", PositionQty: decimal.NewFromInt(30)},
		},
	}
	require.NoError(t, e.Execute(context.Background(), action))

	require.Len(t, fake.insuranceClaims, 1)
	require.Empty(t, fake.liquidatedClaims)
	require.Equal(t, "PERP_BTC_USDC", fake.insuranceClaims[0].Symbol)
	require.True(t, fake.insuranceClaims[0].QtyRequest.Equal(decimal.NewFromInt(3)))
}

func TestExecuteSkipsUnconfiguredSymbol(t *testing.T) {
	fake := &fakeExchange{symbols: btcTickSymbols()}
	e := newTestExecutor(t, fake)

	action := model.ClaimAction{
		LiquidationID: 44,
		Type:          model.TypeLiquidated,
		Positions: []model.Position{
			{Symbol: "PERP_SOL_USDC", PositionQty: decimal.NewFromInt(30)},
		},
	}
	require.NoError(t, e.Execute(context.Background(), action))
	require.Empty(t, fake.liquidatedClaims)
	require.Empty(t, fake.insuranceClaims)
}

func TestExecuteUnknownTypeSubmitsNothing(t *testing.T) {
	fake := &fakeExchange{symbols: btcTickSymbols()}
	e := newTestExecutor(t, fake)

	action := model.ClaimAction{
		LiquidationID: 45,
		Type:          model.LiquidationType("transfer"),
		Positions: []model.Position{
			{Symbol: "PERP_BTC_USDC", PositionQty: decimal.NewFromInt(30)},
		},
	}
	require.NoError(t, e.Execute(context.Background(), action))
	require.Empty(t, fake.liquidatedClaims)
	require.Empty(t, fake.insuranceClaims)
}

// After the settlement delay every non-zero position is flattened with an
// opposite-side market order; zero positions are left alone.
func TestExecuteHedgesOpenPositions(t *testing.T) {
	fake := &fakeExchange{
		symbols: btcTickSymbols(),
		positions: []exchange.PositionRow{
			{Symbol: "PERP_BTC_USDC", PositionQty: decimal.RequireFromString("3.2")},
			{Symbol: "PERP_ETH_USDC", PositionQty: decimal.RequireFromString("-1.5")},
			{Symbol: "PERP_SOL_USDC", PositionQty: decimal.Zero},
		},
	}
	e := newTestExecutor(t, fake)

	action := model.ClaimAction{
		LiquidationID: 46,
		Type:          model.TypeLiquidated,
		Positions: []model.Position{
			{Symbol: "PERP_BTC_USDC", PositionQty: decimal.NewFromInt(30)},
		},
	}
	require.NoError(t, e.Execute(context.Background(), action))

	require.Len(t, fake.orders, 2)

	require.Equal(t, "PERP_BTC_USDC", fake.orders[0].Symbol)
	require.Equal(t, "SELL", fake.orders[0].Side)
	require.Equal(t, "MARKET", fake.orders[0].OrderType)
	require.True(t, fake.orders[0].OrderQuantity.Equal(decimal.RequireFromString("3.2")))
	require.NotEmpty(t, fake.orders[0].ClientOrderID)

	require.Equal(t, "PERP_ETH_USDC", fake.orders[1].Symbol)
	require.Equal(t, "BUY", fake.orders[1].Side)
	require.True(t, fake.orders[1].OrderQuantity.Equal(decimal.RequireFromString("1.5")))
}

func TestExecuteCancelledDuringSettleDelay(t *testing.T) {
	fake := &fakeExchange{symbols: btcTickSymbols()}
	e := NewOrderlyExecutor(fake, config.ExecutorConfig{
		ClaimPercent: 0.1,
		SettleDelay:  time.Minute,
		SymbolQty: map[string]config.SymbolQtyBand{
			"PERP_BTC_USDC": {MinQty: 1, MaxQty: 5},
		},
	})
	require.NoError(t, e.SyncState(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	action := model.ClaimAction{
		LiquidationID: 47,
		Type:          model.TypeLiquidated,
		Positions: []model.Position{
			{Symbol: "PERP_BTC_USDC", PositionQty: decimal.NewFromInt(30)},
		},
	}
	err := e.Execute(ctx, action)
	require.Error(t, err)
	// the claim went out, the hedge did not
	require.Len(t, fake.liquidatedClaims, 1)
	require.Empty(t, fake.orders)
}
