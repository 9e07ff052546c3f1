package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"positionKeeper/internal/domain"
	"positionKeeper/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.ExchangeGateway interface using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance gateway adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance gateway adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014: // API-key format invalid
			mappedErr = ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions for action
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019: // Margin is insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -2022: // ReduceOnly Order is rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -3005: // Insufficient balance
			mappedErr = ports.ErrInsufficientFunds
		case -4003: // Qty not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4014: // Price not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4015: // Leverage is not valid
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		case -4047: // Exceeded the maximum allowable position at current leverage.
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetPosition retrieves the venue's view of the position for a symbol/side.
func (c *Client) GetPosition(ctx context.Context, symbol string, side domain.Side) (*ports.RemotePosition, error) {
	op := "GetPosition"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("%s: no position data for %s %s: %w", op, symbol, side, ports.ErrPositionNotFound)
	}

	// Hedge mode returns one row per position side; one-way mode returns a
	// single BOTH row whose sign encodes the side.
	for _, p := range positions {
		switch p.PositionSide {
		case string(side):
			return translatePositionRisk(p), nil
		case "BOTH":
			amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
			if (side == domain.Long && amt > 0) || (side == domain.Short && amt < 0) || amt == 0 {
				return translatePositionRisk(p), nil
			}
		}
	}

	// The venue reported rows, but none for this side: size is zero.
	c.logger.Debug(ctx, op+": no row for side, reporting zero size", map[string]interface{}{"symbol": symbol, "side": side})
	return &ports.RemotePosition{}, nil
}

// GetTickerPrice retrieves the last ticker price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].LastPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].LastPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// PlaceMarketOrder places a market order on the position side of the request.
// Leverage and margin mode are (re)applied first; both are idempotent on the
// venue and failures there are logged but do not block the order.
func (c *Client) PlaceMarketOrder(ctx context.Context, req ports.MarketOrderRequest) (*ports.OrderResult, error) {
	op := "PlaceMarketOrder"

	c.ensureLeverage(ctx, req.Symbol, req.Leverage)
	c.ensureMarginMode(ctx, req.Symbol, req.MarginMode)

	orderSide := futures.SideTypeBuy
	if req.Side == domain.Short {
		orderSide = futures.SideTypeSell
	}

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(orderSide).
		PositionSide(translatePositionSide(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatQuantity(req.Quantity)).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	res := translateOrderResult(order)
	// Binance has no standalone position handle; the session is identified by
	// symbol, side and the entry order that (re)established it.
	res.RemotePositionID = fmt.Sprintf("%s-%s-%s", req.Symbol, req.Side, res.OrderID)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "quantity": req.Quantity,
		"orderID": res.OrderID, "avgPrice": res.AvgPrice,
	})
	return res, nil
}

// PlaceTriggerOrder places a conditional exit order and returns its id.
func (c *Client) PlaceTriggerOrder(ctx context.Context, req ports.TriggerOrderRequest) (string, error) {
	op := "PlaceTriggerOrder"

	orderType := futures.OrderTypeTakeProfitMarket
	if req.Kind == domain.TriggerStopLoss {
		orderType = futures.OrderTypeStopMarket
	}
	// Exit orders trade against the position side
	orderSide := futures.SideTypeSell
	if req.PositionSide == domain.Short {
		orderSide = futures.SideTypeBuy
	}

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(orderSide).
		PositionSide(translatePositionSide(req.PositionSide)).
		Type(orderType).
		Quantity(formatQuantity(req.Quantity)).
		StopPrice(formatPrice(req.TriggerPrice)).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return "", c.handleError(ctx, err, op)
	}

	orderID := strconv.FormatInt(order.OrderID, 10)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "kind": req.Kind, "triggerPrice": req.TriggerPrice,
		"quantity": req.Quantity, "orderID": orderID,
	})
	return orderID, nil
}

// CancelOrder cancels an existing open order by its ID.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID string) error {
	op := "CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid order id %q: %w", op, orderID, ports.ErrInvalidRequest)
	}
	_, err = c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	return nil
}

// ensureLeverage applies the requested leverage. Failures only warn: the venue
// keeps the previous leverage and order placement decides the real outcome.
func (c *Client) ensureLeverage(ctx context.Context, symbol string, leverage int) {
	if leverage <= 0 {
		return
	}
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		c.logger.Warn(ctx, "SetLeverage failed, continuing with current leverage", map[string]interface{}{"symbol": symbol, "leverage": leverage, "error": err.Error()})
	}
}

// ensureMarginMode applies the requested margin mode. Code -4046 means the
// mode is already set and is not an error.
func (c *Client) ensureMarginMode(ctx context.Context, symbol string, mode domain.MarginMode) {
	marginType := futures.MarginTypeCrossed
	if mode == domain.MarginIsolated {
		marginType = futures.MarginTypeIsolated
	}
	err := c.futuresClient.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(marginType).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -4046 { // No need to change margin type
			return
		}
		c.logger.Warn(ctx, "SetMarginType failed, continuing with current mode", map[string]interface{}{"symbol": symbol, "mode": mode, "error": err.Error()})
	}
}

// --- Translation Helpers ---

func translatePositionSide(side domain.Side) futures.PositionSideType {
	if side == domain.Short {
		return futures.PositionSideTypeShort
	}
	return futures.PositionSideTypeLong
}

func translatePositionRisk(p *futures.PositionRisk) *ports.RemotePosition {
	amt, _ := strconv.ParseFloat(p.PositionAmt, 64) // Ignore error, default to 0
	if amt < 0 {
		amt = -amt
	}
	entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
	mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
	pnl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)
	return &ports.RemotePosition{
		Size:          amt,
		EntryPrice:    entry,
		MarkPrice:     mark,
		UnrealizedPNL: pnl,
	}
}

func translateOrderResult(order *futures.CreateOrderResponse) *ports.OrderResult {
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	executedQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	return &ports.OrderResult{
		OrderID:     strconv.FormatInt(order.OrderID, 10),
		AvgPrice:    avgPrice,
		ExecutedQty: executedQty,
		Timestamp:   time.UnixMilli(order.UpdateTime),
	}
}

// newClientOrderID stamps every order with a unique id so retried placements
// are distinguishable on the venue side.
func newClientOrderID() string {
	return "pk-" + uuid.NewString()
}

// formatPrice formats a float64 price into a string suitable for the Binance API.
// TODO: Derive the required precision from the symbol's tick size filter.
func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 2, 64)
}

// formatQuantity formats a float64 quantity into a string suitable for the Binance API.
func formatQuantity(quantity float64) string {
	return strconv.FormatFloat(quantity, 'f', 3, 64)
}
