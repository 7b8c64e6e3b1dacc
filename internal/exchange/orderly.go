package exchange

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"liquiflow/internal/model"
	"liquiflow/logger"
)

// OrderlyClient is a REST client for the Orderly broker API. Private
// endpoints are signed with the account's ed25519 key following the
// orderly-key header scheme.
type OrderlyClient struct {
	client     *resty.Client
	accountID  string
	orderlyKey string
	privateKey ed25519.PrivateKey
	log        *logger.Log
}

// Envelope is the standard Orderly response wrapper.
type Envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Rows is the common list payload inside an envelope.
type Rows[T any] struct {
	Rows []T `json:"rows"`
}

// LiquidationRow is one liquidation notice from the public REST feed.
type LiquidationRow struct {
	LiquidationID   int64                    `json:"liquidation_id"`
	Timestamp       int64                    `json:"timestamp"`
	Type            string                   `json:"type"`
	PositionsByPerp []LiquidationPositionRow `json:"positions_by_perp"`
}

type LiquidationPositionRow struct {
	Symbol        string          `json:"symbol"`
	PositionQty   decimal.Decimal `json:"position_qty"`
	LiquidatorFee decimal.Decimal `json:"liquidator_fee"`
}

// PositionRow is one open position of the trading account.
type PositionRow struct {
	Symbol      string          `json:"symbol"`
	PositionQty decimal.Decimal `json:"position_qty"`
	AverageOpen decimal.Decimal `json:"average_open_price"`
}

// ClaimLiquidatedRequest claims a fraction of a liquidated position from
// the insurance fund.
type ClaimLiquidatedRequest struct {
	LiquidationID   int64           `json:"liquidation_id"`
	RatioQtyRequest decimal.Decimal `json:"ratio_qty_request"`
}

// ClaimInsuranceFundRequest claims an absolute quantity of one instrument
// during an open claim window.
type ClaimInsuranceFundRequest struct {
	LiquidationID int64           `json:"liquidation_id"`
	Symbol        string          `json:"symbol"`
	QtyRequest    decimal.Decimal `json:"qty_request"`
}

// OrderRequest submits an order. Only MARKET orders are used here, sized
// to flatten residual exposure after a claim settles.
type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	OrderType     string          `json:"order_type"`
	Side          string          `json:"side"`
	OrderQuantity decimal.Decimal `json:"order_quantity"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
}

// NewOrderlyClient builds a client for the given REST endpoint. The secret
// is the hex-encoded ed25519 seed; an empty secret leaves the client in
// public-only mode, which is enough for the collectors.
func NewOrderlyClient(endpoint, accountID, orderlyKey, orderlySecret string) (*OrderlyClient, error) {
	c := &OrderlyClient{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(endpoint, "/")).
			SetTimeout(30 * time.Second).
			SetHeader("Content-Type", "application/json"),
		accountID:  accountID,
		orderlyKey: orderlyKey,
		log:        logger.GetLogger(),
	}

	if orderlySecret != "" {
		seed, err := hex.DecodeString(strings.TrimPrefix(orderlySecret, "ed25519:"))
		if err != nil {
			return nil, errors.Wrap(err, "decode orderly secret")
		}
		if len(seed) != ed25519.SeedSize {
			return nil, errors.Errorf("orderly secret must be a %d byte seed, got %d", ed25519.SeedSize, len(seed))
		}
		c.privateKey = ed25519.NewKeyFromSeed(seed)
	}

	return c, nil
}

// GetPublicLiquidations fetches liquidation notices ordered as the exchange
// reports them.
func (c *OrderlyClient) GetPublicLiquidations(ctx context.Context) ([]LiquidationRow, error) {
	var rows Rows[LiquidationRow]
	if err := c.get(ctx, "/v1/public/liquidation", &rows); err != nil {
		return nil, errors.Wrap(err, "get public liquidations")
	}
	return rows.Rows, nil
}

// GetAvailableSymbols fetches the per-symbol trading rules.
func (c *OrderlyClient) GetAvailableSymbols(ctx context.Context) ([]model.SymbolInfo, error) {
	var rows Rows[model.SymbolInfo]
	if err := c.get(ctx, "/v1/public/info", &rows); err != nil {
		return nil, errors.Wrap(err, "get available symbols")
	}
	return rows.Rows, nil
}

// GetAllPositions fetches the account's open positions.
func (c *OrderlyClient) GetAllPositions(ctx context.Context) ([]PositionRow, error) {
	var rows Rows[PositionRow]
	if err := c.get(ctx, "/v1/positions", &rows); err != nil {
		return nil, errors.Wrap(err, "get all positions")
	}
	return rows.Rows, nil
}

// GetCurrentHolding fetches the account's token balances.
func (c *OrderlyClient) GetCurrentHolding(ctx context.Context) (json.RawMessage, error) {
	var holding json.RawMessage
	if err := c.get(ctx, "/v1/client/holding", &holding); err != nil {
		return nil, errors.Wrap(err, "get current holding")
	}
	return holding, nil
}

// GetAccountInfo fetches the account's trading configuration.
func (c *OrderlyClient) GetAccountInfo(ctx context.Context) (json.RawMessage, error) {
	var info json.RawMessage
	if err := c.get(ctx, "/v1/client/info", &info); err != nil {
		return nil, errors.Wrap(err, "get account info")
	}
	return info, nil
}

// ClaimLiquidatedPositions claims a ratio of a liquidated position.
func (c *OrderlyClient) ClaimLiquidatedPositions(ctx context.Context, req ClaimLiquidatedRequest) (json.RawMessage, error) {
	var res json.RawMessage
	if err := c.post(ctx, "/v1/liquidation", req, &res); err != nil {
		return nil, errors.Wrap(err, "claim liquidated positions")
	}
	return res, nil
}

// ClaimInsuranceFund claims an absolute quantity from the insurance fund.
func (c *OrderlyClient) ClaimInsuranceFund(ctx context.Context, req ClaimInsuranceFundRequest) (json.RawMessage, error) {
	var res json.RawMessage
	if err := c.post(ctx, "/v1/claim_insurance_fund", req, &res); err != nil {
		return nil, errors.Wrap(err, "claim insurance fund")
	}
	return res, nil
}

// CreateOrder submits an order.
func (c *OrderlyClient) CreateOrder(ctx context.Context, req OrderRequest) (json.RawMessage, error) {
	var res json.RawMessage
	if err := c.post(ctx, "/v1/order", req, &res); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return res, nil
}

func (c *OrderlyClient) get(ctx context.Context, path string, out any) error {
	req := c.client.R().SetContext(ctx)
	c.sign(req, "GET", path, nil)

	resp, err := req.Get(path)
	if err != nil {
		return err
	}
	return c.decode(resp, out)
}

func (c *OrderlyClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request body")
	}

	req := c.client.R().SetContext(ctx).SetBody(payload)
	c.sign(req, "POST", path, payload)

	resp, err := req.Post(path)
	if err != nil {
		return err
	}
	return c.decode(resp, out)
}

// sign attaches orderly-key authentication headers. The signed message is
// timestamp + method + path + body.
func (c *OrderlyClient) sign(req *resty.Request, method, path string, body []byte) {
	if c.privateKey == nil {
		return
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + method + path
	if len(body) > 0 {
		message += string(body)
	}
	signature := ed25519.Sign(c.privateKey, []byte(message))

	req.SetHeader("orderly-timestamp", ts)
	req.SetHeader("orderly-account-id", c.accountID)
	req.SetHeader("orderly-key", c.orderlyKey)
	req.SetHeader("orderly-signature", base64.URLEncoding.EncodeToString(signature))
}

func (c *OrderlyClient) decode(resp *resty.Response, out any) error {
	if resp.StatusCode() >= 400 {
		return errors.Errorf("http status %d: %s", resp.StatusCode(), resp.String())
	}

	var env Envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return errors.Wrap(err, "decode response envelope")
	}
	if !env.Success {
		return errors.Errorf("exchange error code %d: %s", env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Wrap(err, "decode response data")
	}
	return nil
}

// String renders a request for logging without exposing credentials.
func (c *OrderlyClient) String() string {
	return fmt.Sprintf("orderly client account=%s endpoint=%s", c.accountID, c.client.BaseURL)
}
