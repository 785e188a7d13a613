package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/marketdata"
	"turtleAdvisor/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// maxKlinesPerRequest is the largest page the klines endpoint serves.
	maxKlinesPerRequest = 1500
)

type wsKlineServeFunc func(symbol, interval string, handler futures.WsKlineHandler, errHandler futures.ErrHandler) (doneC, stopC chan struct{}, err error)

// Client implements ports.MarketDataClient using the go-binance futures API.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectDelay    time.Duration
	maxReconnectAttempts int

	wsKlineServe wsKlineServeFunc
	now          func() time.Time
}

var _ ports.MarketDataClient = (*Client)(nil)

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	BaseURL              string // Overrides the production/testnet REST URL when set
	Logger               ports.Logger
	ReconnectDelay       time.Duration // First reconnect delay (e.g., 1 * time.Second)
	MaxReconnectDelay    time.Duration // Backoff ceiling
	MaxReconnectAttempts int           // Consecutive failures before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
		// The websocket endpoints are only switchable through the package flag.
		futures.UseTestnet = true
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxDelay := cfg.MaxReconnectDelay
	if maxDelay < reconnectDelay {
		maxDelay = max(reconnectDelay, 2*time.Minute)
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectDelay:    maxDelay,
		maxReconnectAttempts: maxAttempts,
		wsKlineServe:         futures.WsKlineServe,
		now:                  time.Now,
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

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1001, -1016: // Disconnected, service shutting down
			mappedErr = ports.ErrExchangeUnavailable
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2014, -2015: // API-key format invalid; invalid key, IP or permissions
			mappedErr = ports.ErrInvalidAPIKeys
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetTickerPrice retrieves the last ticker price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("%w: no ticker data returned for symbol %s", ports.ErrNotFound, symbol), op)
	}

	price := marketdata.ParseDecimal(tickers[0].LastPrice)
	if !price.Valid {
		return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s'", tickers[0].LastPrice), op)
	}
	return price.Value, nil
}

// GetAccountBalance retrieves the wallet balance for a specific asset (e.g., "USDT").
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAccountBalance"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Assets {
		if bal.Asset == asset {
			balance, err := strconv.ParseFloat(bal.WalletBalance, 64)
			if err != nil {
				parseErr := fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.WalletBalance, asset, err)
				return 0, c.handleError(ctx, parseErr, op)
			}
			return balance, nil
		}
	}

	return 0, c.handleError(ctx, fmt.Errorf("%w: asset %s not in account balance", ports.ErrNotFound, asset), op)
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	serverTimeMs, err := c.futuresClient.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs), nil
}

// StreamKlines starts a WebSocket kline stream that reconnects with
// exponential backoff until ctx is done, stopCh is signalled, or
// MaxReconnectAttempts consecutive connection attempts fail.
func (c *Client) StreamKlines(ctx context.Context, symbol string, interval domain.Interval, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamKlines"
	if _, ok := domain.ParseInterval(string(interval)); !ok {
		return nil, nil, fmt.Errorf("%s: %w: unsupported interval %q", op, ports.ErrInvalidRequest, interval)
	}
	wsCtx, cancelWs := context.WithCancel(ctx)
	fields := map[string]interface{}{"symbol": symbol, "interval": string(interval)}

	binanceHandler := func(event *futures.WsKlineEvent) {
		if event == nil {
			c.logger.Warn(wsCtx, op+": nil kline event ignored", fields)
			return
		}
		k := marketdata.Normalize(translateWsKline(event))
		handler(&k)
	}

	binanceErrHandler := func(err error) {
		translatedErr := c.handleError(wsCtx, err, op+" WebSocket")
		if errHandler != nil {
			errHandler(translatedErr)
		}
	}

	go func() {
		defer cancelWs()

		b := &backoff.Backoff{Min: c.reconnectDelay, Max: c.maxReconnectDelay, Factor: 2, Jitter: true}
		for {
			if wsCtx.Err() != nil {
				c.logger.Info(wsCtx, op+": Context cancelled, stopping connection attempts.", fields)
				return
			}

			c.logger.Info(wsCtx, op+": Attempting WebSocket connection...", fields)
			innerDoneCh, innerStopCh, connectErr := c.wsKlineServe(symbol, string(interval), binanceHandler, binanceErrHandler)
			if connectErr != nil {
				_ = c.handleError(wsCtx, connectErr, op+" connection attempt")
				if int(b.Attempt())+1 >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, connectErr, op+": Max reconnection attempts exceeded, giving up.",
						map[string]interface{}{"symbol": symbol, "interval": string(interval), "maxAttempts": c.maxReconnectAttempts})
					return
				}
				delay := b.Duration()
				c.logger.Info(wsCtx, op+": Connection failed, retrying...",
					map[string]interface{}{"symbol": symbol, "interval": string(interval), "attempt": int(b.Attempt()), "delay": delay.String()})
				select {
				case <-time.After(delay):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			c.logger.Info(wsCtx, op+": WebSocket connection established.", fields)
			b.Reset()

			select {
			case <-innerDoneCh:
				c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...", fields)
				select {
				case <-time.After(c.reconnectDelay):
				case <-wsCtx.Done():
					return
				}
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": Context cancelled, stopping WebSocket.", fields)
				select {
				case innerStopCh <- struct{}{}:
				default:
				}
				return
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": Received external stop signal, cancelling WebSocket context.", fields)
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// GetKlines retrieves the most recent klines. The last one is still forming
// unless its close time has passed; IsFinal reflects that.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	if limit <= 0 || limit > maxKlinesPerRequest {
		limit = maxKlinesPerRequest
	}
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(string(interval)).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return c.normalizeKlines(binanceKlines, symbol, interval), nil
}

// GetKlinesRange fetches all klines for a symbol/interval between start and end time.
func (c *Client) GetKlinesRange(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	var allKlines []*domain.Kline
	from := start

	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(string(interval)).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		allKlines = append(allKlines, c.normalizeKlines(klines, symbol, interval)...)

		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if from.After(end) || len(klines) < maxKlinesPerRequest {
			break
		}
		c.logger.Debug(ctx, op+": fetched page", map[string]interface{}{"count": len(allKlines), "next": from.UTC().Format(time.RFC3339)})
	}

	return allKlines, nil
}

func (c *Client) normalizeKlines(binanceKlines []*futures.Kline, symbol string, interval domain.Interval) []*domain.Kline {
	now := c.now()
	out := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		if bk == nil {
			continue
		}
		k := marketdata.Normalize(translateBinanceKline(bk, symbol, interval, now))
		out = append(out, &k)
	}
	return out
}

func translateWsKline(event *futures.WsKlineEvent) domain.RawKline {
	k := event.Kline
	return domain.RawKline{
		OpenTime:   time.UnixMilli(k.StartTime),
		CloseTime:  time.UnixMilli(k.EndTime),
		Open:       k.Open,
		Close:      k.Close,
		High:       k.High,
		Low:        k.Low,
		Volume:     k.Volume,
		TradeCount: k.TradeNum,
		Symbol:     k.Symbol,
		Interval:   domain.Interval(k.Interval),
		IsFinal:    k.IsFinal,
	}
}

// translateBinanceKline marks a REST kline final once its close time has passed.
func translateBinanceKline(bk *futures.Kline, symbol string, interval domain.Interval, now time.Time) domain.RawKline {
	closeTime := time.UnixMilli(bk.CloseTime)
	return domain.RawKline{
		OpenTime:   time.UnixMilli(bk.OpenTime),
		CloseTime:  closeTime,
		Open:       bk.Open,
		Close:      bk.Close,
		High:       bk.High,
		Low:        bk.Low,
		Volume:     bk.Volume,
		TradeCount: bk.TradeNum,
		Symbol:     symbol,
		Interval:   interval,
		IsFinal:    closeTime.Before(now),
	}
}
