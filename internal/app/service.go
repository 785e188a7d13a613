package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"turtleAdvisor/config"
	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/ports"
	"turtleAdvisor/internal/strategy/indicators"
)

// equityAsset is the futures wallet asset used when no equity is configured.
const equityAsset = "USDT"

// AdvisorService keeps a window of closed klines fresh and records the
// strategy's advice for every new closed bar.
type AdvisorService struct {
	cfg      *config.Config
	logger   ports.Logger
	market   ports.MarketDataClient
	advices  ports.AdviceRepository
	strategy ports.Strategy

	sessionID string
	now       func() time.Time

	// State fields
	mu          sync.Mutex // Protects access to state fields below
	runCtx      context.Context
	window      []*domain.Kline
	lastClose   time.Time
	equity      float64
	rollingN    *indicators.RollingATR
	rollingChan *indicators.RollingDonchian
}

// NewAdvisorService creates a new application service instance.
func NewAdvisorService(
	cfg *config.Config,
	logger ports.Logger,
	market ports.MarketDataClient,
	advices ports.AdviceRepository,
	strat ports.Strategy,
) (*AdvisorService, error) {
	if cfg == nil || logger == nil || market == nil || advices == nil || strat == nil {
		return nil, fmt.Errorf("missing required dependencies for AdvisorService")
	}
	if cfg.KlineWindow < strat.RequiredDataPoints() {
		return nil, fmt.Errorf("%w: kline window %d is smaller than the %d bars the strategy needs",
			ports.ErrConfigurationError, cfg.KlineWindow, strat.RequiredDataPoints())
	}

	return &AdvisorService{
		cfg:         cfg,
		logger:      logger,
		market:      market,
		advices:     advices,
		strategy:    strat,
		sessionID:   uuid.NewString(),
		now:         time.Now,
		runCtx:      context.Background(),
		window:      make([]*domain.Kline, 0, cfg.KlineWindow),
		rollingN:    indicators.NewRollingATR(cfg.ATRPeriod),
		rollingChan: indicators.NewRollingDonchian(cfg.EntryPeriod),
	}, nil
}

// SessionID identifies the advice recorded by this run.
func (s *AdvisorService) SessionID() string { return s.sessionID }

// Start runs the advisor until ctx is cancelled or the kline stream gives up.
func (s *AdvisorService) Start(ctx context.Context) error {
	fields := map[string]interface{}{
		"session":  s.sessionID,
		"symbol":   s.cfg.Symbol,
		"interval": string(s.cfg.Interval),
		"mode":     s.cfg.Mode,
		"strategy": s.strategy.Name(),
	}
	s.logger.Info(ctx, "Starting Advisor Service...", fields)

	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	// --- Initialization Steps ---
	if err := s.market.Ping(ctx); err != nil {
		s.logger.Error(ctx, err, "Exchange is not reachable")
		return fmt.Errorf("failed to reach exchange: %w", err)
	}
	if serverTime, err := s.market.GetServerTime(ctx); err != nil {
		s.logger.Warn(ctx, "Could not read exchange server time", map[string]interface{}{"error": err.Error()})
	} else {
		s.logger.Info(ctx, "Exchange reachable", map[string]interface{}{
			"serverTime": serverTime.UTC().Format(time.RFC3339),
			"clockSkew":  s.now().Sub(serverTime).String(),
		})
	}

	if err := s.resolveEquity(ctx); err != nil {
		return err
	}
	if err := s.loadInitialWindow(ctx); err != nil {
		return err
	}

	switch s.cfg.Mode {
	case config.ModePoll:
		return s.runPoll(ctx)
	default:
		return s.runStream(ctx)
	}
}

// resolveEquity takes the configured equity or, failing that, the wallet balance.
func (s *AdvisorService) resolveEquity(ctx context.Context) error {
	equity := s.cfg.AccountEquity
	source := "config"
	if equity <= 0 {
		balance, err := s.market.GetAccountBalance(ctx, equityAsset)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to read account balance for sizing")
			return fmt.Errorf("failed to resolve account equity: %w", err)
		}
		equity = balance
		source = "exchange"
	}
	if equity <= 0 {
		err := fmt.Errorf("%w: account equity must be positive, got %v", ports.ErrConfigurationError, equity)
		s.logger.Error(ctx, err, "Unusable account equity")
		return err
	}

	s.mu.Lock()
	s.equity = equity
	s.mu.Unlock()
	s.logger.Info(ctx, "Account equity resolved", map[string]interface{}{"equity": equity, "source": source, "asset": equityAsset})
	return nil
}

// loadInitialWindow fills the window with closed klines and advises on the newest one.
func (s *AdvisorService) loadInitialWindow(ctx context.Context) error {
	required := s.strategy.RequiredDataPoints()
	s.logger.Info(ctx, "Loading initial klines for strategy", map[string]interface{}{"requiredPoints": required, "window": s.cfg.KlineWindow})

	// One extra bar covers the kline that is still forming.
	klines, err := s.market.GetKlines(ctx, s.cfg.Symbol, s.cfg.Interval, s.cfg.KlineWindow+1)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load initial klines for strategy")
		return fmt.Errorf("failed to load initial klines: %w", err)
	}
	closed := closedOnly(klines)
	if len(closed) < required {
		err := fmt.Errorf("%w: not enough closed klines loaded (%d) to meet strategy requirement (%d)",
			ports.ErrInsufficientData, len(closed), required)
		s.logger.Error(ctx, err, "Insufficient historical data")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range closed[:len(closed)-1] {
		s.appendLocked(k)
	}
	s.logger.Info(ctx, "Loaded initial klines", map[string]interface{}{"count": len(closed)})
	s.processClosedLocked(ctx, closed[len(closed)-1], 0)
	return nil
}

func (s *AdvisorService) runStream(ctx context.Context) error {
	wsDoneCh, wsStopCh, err := s.market.StreamKlines(ctx, s.cfg.Symbol, s.cfg.Interval, s.handleKlineEvent, s.handleStreamError)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to start kline stream")
		return fmt.Errorf("failed to start kline stream: %w", err)
	}
	s.logger.Info(ctx, "Kline stream started", map[string]interface{}{"symbol": s.cfg.Symbol, "interval": string(s.cfg.Interval)})

	select {
	case <-ctx.Done():
		s.logger.Info(ctx, "Main context cancelled, initiating shutdown...")
		select {
		case wsStopCh <- struct{}{}:
			s.logger.Info(ctx, "Stop signal sent to kline stream")
		default:
			s.logger.Warn(ctx, "Failed to send stop signal to kline stream (already closed?)")
		}
		select {
		case <-wsDoneCh:
			s.logger.Info(ctx, "Kline stream shut down gracefully")
		case <-time.After(5 * time.Second):
			s.logger.Warn(ctx, "Timeout waiting for kline stream to shut down")
		}
	case <-wsDoneCh:
		err := fmt.Errorf("%w: kline stream stopped unexpectedly", ports.ErrConnectionFailed)
		s.logger.Error(ctx, err, "Kline stream stopped")
		return err
	}

	s.logger.Info(ctx, "Advisor Service stopped.", map[string]interface{}{"session": s.sessionID})
	return nil
}

func (s *AdvisorService) runPoll(ctx context.Context) error {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(s.cfg.PollCron, func() { s.poll(ctx) }); err != nil {
		err = fmt.Errorf("register poll task: %w: %w", ports.ErrConfigurationError, err)
		s.logger.Error(ctx, err, "Failed to schedule polling")
		return err
	}
	c.Start()
	s.logger.Info(ctx, "Poll scheduler started", map[string]interface{}{"cron": s.cfg.PollCron})

	<-ctx.Done()
	s.logger.Info(ctx, "Main context cancelled, stopping scheduler...")
	<-c.Stop().Done()

	s.logger.Info(ctx, "Advisor Service stopped.", map[string]interface{}{"session": s.sessionID})
	return nil
}

// poll fetches the bars closed since the last one seen and advises on each.
// The newest bar is sized at the live ticker price.
func (s *AdvisorService) poll(ctx context.Context) {
	s.mu.Lock()
	last := s.lastClose
	s.mu.Unlock()

	limit := 2
	if width := s.cfg.Interval.Duration(); width > 0 && !last.IsZero() {
		limit = int(s.now().Sub(last)/width) + 2
	}

	var klines []*domain.Kline
	var err error
	if !last.IsZero() && limit > s.cfg.KlineWindow {
		// Too many bars missed for one request; page through all of them.
		s.logger.Info(ctx, "Refilling klines missed since the last poll", map[string]interface{}{
			"lastClose": last.UTC().Format(time.RFC3339),
			"bars":      limit - 2,
		})
		klines, err = s.market.GetKlinesRange(ctx, s.cfg.Symbol, s.cfg.Interval, last.Add(time.Millisecond), s.now())
	} else {
		klines, err = s.market.GetKlines(ctx, s.cfg.Symbol, s.cfg.Interval, max(2, limit))
	}
	if err != nil {
		s.logger.Error(ctx, err, "Poll failed to fetch klines")
		return
	}
	closed := closedOnly(klines)
	if len(closed) == 0 {
		s.logger.Debug(ctx, "Poll returned no closed klines")
		return
	}

	price, err := s.market.GetTickerPrice(ctx, s.cfg.Symbol)
	if err != nil {
		s.logger.Warn(ctx, "Ticker price unavailable, sizing at bar close", map[string]interface{}{"error": err.Error()})
		price = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, k := range closed {
		p := 0.0
		if i == len(closed)-1 {
			p = price
		}
		s.processClosedLocked(ctx, k, p)
	}
}

// handleKlineEvent processes incoming kline data from the stream.
func (s *AdvisorService) handleKlineEvent(kline *domain.Kline) {
	s.mu.Lock()
	ctx := s.runCtx
	last := s.lastClose
	s.mu.Unlock()

	s.logger.Debug(ctx, "Received kline event", map[string]interface{}{
		"symbol":    kline.Symbol,
		"interval":  string(kline.Interval),
		"closeTime": kline.CloseTime,
		"close":     kline.Close,
		"isFinal":   kline.IsFinal,
	})

	// Only final klines are graded; a forming bar can still reverse.
	if !kline.IsFinal {
		return
	}
	missed := s.fetchMissed(ctx, last, kline.CloseTime)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range missed {
		s.processClosedLocked(ctx, k, 0)
	}
	s.processClosedLocked(ctx, kline, kline.Close)
}

// fetchMissed returns the closed bars between last and the bar closing at next
// when the stream skipped any, as it does across a reconnect.
func (s *AdvisorService) fetchMissed(ctx context.Context, last, next time.Time) []*domain.Kline {
	width := s.cfg.Interval.Duration()
	if last.IsZero() || width <= 0 || next.Sub(last) <= width {
		return nil
	}
	fields := map[string]interface{}{
		"lastClose": last.UTC().Format(time.RFC3339),
		"nextClose": next.UTC().Format(time.RFC3339),
	}
	klines, err := s.market.GetKlinesRange(ctx, s.cfg.Symbol, s.cfg.Interval, last.Add(time.Millisecond), next.Add(-width))
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Warn(ctx, "Failed to refill klines missed by the stream", fields)
		return nil
	}

	out := make([]*domain.Kline, 0, len(klines))
	for _, k := range closedOnly(klines) {
		if k.CloseTime.After(last) && k.CloseTime.Before(next) {
			out = append(out, k)
		}
	}
	fields["count"] = len(out)
	s.logger.Info(ctx, "Refilled klines missed by the stream", fields)
	return out
}

// handleStreamError handles errors reported by the kline stream.
func (s *AdvisorService) handleStreamError(err error) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	s.logger.Warn(ctx, "Kline stream error reported", map[string]interface{}{"error": err.Error()})
}

// processClosedLocked appends a closed kline, asks the strategy for advice and persists it.
// Callers hold s.mu.
func (s *AdvisorService) processClosedLocked(ctx context.Context, kline *domain.Kline, price float64) {
	if !kline.CloseTime.After(s.lastClose) {
		s.logger.Debug(ctx, "Skipping kline already processed", map[string]interface{}{"closeTime": kline.CloseTime})
		return
	}
	s.appendLocked(kline)
	s.logChannelState(ctx)

	advice, ok := s.strategy.Advise(ctx, s.window, price, s.equity)
	if !ok {
		return
	}
	advice.SessionID = s.sessionID
	advice.CreatedAt = s.now().UTC()

	if _, err := s.advices.Save(ctx, advice); err != nil {
		s.logger.Error(ctx, err, "Failed to persist advice", map[string]interface{}{"tag": advice.Evaluation.Tag})
		return
	}

	fields := map[string]interface{}{
		"adviceID":   advice.ID,
		"barClose":   advice.BarCloseTime.UTC().Format(time.RFC3339),
		"tag":        advice.Evaluation.Tag,
		"suggestion": string(advice.Evaluation.Suggestion),
		"price":      advice.Price,
		"n":          advice.Evaluation.N,
	}
	if advice.Evaluation.Actionable() {
		fields["size"] = advice.Size
		fields["stopLoss"] = advice.Levels.StopLoss
		if advice.Levels.TrailingExit != nil {
			fields["trailingExit"] = *advice.Levels.TrailingExit
		}
		s.logger.Info(ctx, "Entry advice recorded", fields)
		return
	}
	s.logger.Debug(ctx, "Advice recorded", fields)
}

func (s *AdvisorService) appendLocked(kline *domain.Kline) {
	s.window = append(s.window, kline)
	if len(s.window) > s.cfg.KlineWindow {
		s.window = s.window[len(s.window)-s.cfg.KlineWindow:]
	}
	s.lastClose = kline.CloseTime
	s.rollingN.Push(kline)
	s.rollingChan.PushKline(kline)
}

func (s *AdvisorService) logChannelState(ctx context.Context) {
	fields := map[string]interface{}{"bars": len(s.window)}
	if n, ok := s.rollingN.Value(); ok {
		fields["n"] = n
	}
	if b, ok := s.rollingChan.Bands(); ok {
		fields["entryUpper"] = b.Upper
		fields["entryLower"] = b.Lower
	}
	s.logger.Debug(ctx, "Channel state", fields)
}

func closedOnly(klines []*domain.Kline) []*domain.Kline {
	out := make([]*domain.Kline, 0, len(klines))
	for _, k := range klines {
		if k != nil && k.IsFinal {
			out = append(out, k)
		}
	}
	return out
}
