package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turtleAdvisor/config"
	"turtleAdvisor/internal/adapters/logger"
	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/ports"
	"turtleAdvisor/internal/risk"
	"turtleAdvisor/internal/strategy"
	"turtleAdvisor/internal/strategy/turtle"
)

// Mock implementations
type mockMarket struct {
	mu            sync.Mutex
	klines        []*domain.Kline
	klinesErr     error
	limits        []int
	ranges        [][2]time.Time
	rangeErr      error
	balance       float64
	balanceErr    error
	price         float64
	priceErr      error
	handler       func(*domain.Kline)
	doneCh        chan struct{}
	stopCh        chan struct{}
	streamStarted chan struct{}
}

func newMockMarket(klines []*domain.Kline) *mockMarket {
	return &mockMarket{klines: klines, streamStarted: make(chan struct{})}
}

func (m *mockMarket) setKlines(klines []*domain.Kline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.klines = klines
}

func (m *mockMarket) Ping(ctx context.Context) error { return nil }

func (m *mockMarket) GetServerTime(ctx context.Context) (time.Time, error) { return time.Now(), nil }

func (m *mockMarket) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, m.priceErr
}

func (m *mockMarket) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	return m.balance, m.balanceErr
}

func (m *mockMarket) GetKlines(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]*domain.Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	if m.klinesErr != nil {
		return nil, m.klinesErr
	}
	out := m.klines
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]*domain.Kline(nil), out...), nil
}

func (m *mockMarket) GetKlinesRange(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]*domain.Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranges = append(m.ranges, [2]time.Time{start, end})
	if m.rangeErr != nil {
		return nil, m.rangeErr
	}
	var out []*domain.Kline
	for _, k := range m.klines {
		if !k.OpenTime.Before(start) && !k.OpenTime.After(end) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *mockMarket) getKlinesCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limits) + len(m.ranges)
}

func (m *mockMarket) StreamKlines(ctx context.Context, symbol string, interval domain.Interval, handler func(kline *domain.Kline), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	m.handler = handler
	m.doneCh = make(chan struct{})
	m.stopCh = make(chan struct{})
	go func() {
		<-m.stopCh
		close(m.doneCh)
	}()
	close(m.streamStarted)
	return m.doneCh, m.stopCh, nil
}

type mockAdviceRepo struct {
	mu     sync.Mutex
	saved  []*domain.Advice
	nextID int64
	err    error
}

func (r *mockAdviceRepo) Save(ctx context.Context, advice *domain.Advice) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.nextID++
	advice.ID = r.nextID
	r.saved = append(r.saved, advice)
	return advice.ID, nil
}

func (r *mockAdviceRepo) FindLatest(ctx context.Context, symbol string, interval domain.Interval) (*domain.Advice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		return nil, nil
	}
	return r.saved[len(r.saved)-1], nil
}

func (r *mockAdviceRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Advice, error) {
	return nil, nil
}

func (r *mockAdviceRepo) all() []*domain.Advice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Advice(nil), r.saved...)
}

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, high, low, close float64, final bool) *domain.Kline {
	open := base.Add(time.Duration(i) * time.Minute)
	return &domain.Kline{
		OpenTime:  open,
		CloseTime: open.Add(time.Minute - time.Millisecond),
		Symbol:    "BTCUSDT",
		Interval:  domain.Interval1m,
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
		IsFinal:   final,
	}
}

// flatBars returns count closed bars ranging 99..101 around 100.
func flatBars(count int) []*domain.Kline {
	out := make([]*domain.Kline, count)
	for i := range out {
		out[i] = bar(i, 101, 99, 100, true)
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Symbol = "BTCUSDT"
	cfg.Interval = domain.Interval1m
	cfg.Mode = config.ModeStream
	cfg.KlineWindow = 20
	cfg.AccountEquity = 10000
	cfg.EntryPeriod = 3
	cfg.ExitPeriod = 2
	cfg.ConfirmationPeriod = 5
	cfg.ATRPeriod = 3
	return cfg
}

func testStrategy(t *testing.T) *strategy.Strategy {
	t.Helper()
	s, err := strategy.New(strategy.Config{
		Params:    turtle.Params{EntryPeriod: 3, ExitPeriod: 2, ConfirmationPeriod: 5, TrueBreakoutThreshold: 0.25},
		ATRPeriod: 3,
		Risk:      risk.Config{RiskPercent: 1, SizePrecisionDigits: 3},
	}, logger.NewNop())
	require.NoError(t, err)
	return s
}

func newTestService(t *testing.T, cfg *config.Config, market *mockMarket, repo *mockAdviceRepo) *AdvisorService {
	t.Helper()
	svc, err := NewAdvisorService(cfg, logger.NewNop(), market, repo, testStrategy(t))
	require.NoError(t, err)
	return svc
}

func TestNewAdvisorService_Validation(t *testing.T) {
	market := newMockMarket(nil)
	repo := &mockAdviceRepo{}
	strat := testStrategy(t)

	_, err := NewAdvisorService(nil, logger.NewNop(), market, repo, strat)
	assert.Error(t, err)
	_, err = NewAdvisorService(testConfig(), logger.NewNop(), nil, repo, strat)
	assert.Error(t, err)

	small := testConfig()
	small.KlineWindow = 4
	_, err = NewAdvisorService(small, logger.NewNop(), market, repo, strat)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	svc, err := NewAdvisorService(testConfig(), logger.NewNop(), market, repo, strat)
	require.NoError(t, err)
	assert.NotEmpty(t, svc.SessionID())
}

func TestStart_StreamMode(t *testing.T) {
	initial := append(flatBars(10), bar(10, 101, 99, 100, false)) // last bar still forming
	market := newMockMarket(initial)
	repo := &mockAdviceRepo{}
	svc := newTestService(t, testConfig(), market, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	select {
	case <-market.streamStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not started")
	}

	// The newest closed bar of the initial window is graded once.
	saved := repo.all()
	require.Len(t, saved, 1)
	assert.Equal(t, domain.SuggestionNoEntry, saved[0].Evaluation.Suggestion)
	assert.True(t, saved[0].BarCloseTime.Equal(initial[9].CloseTime))
	assert.Equal(t, svc.SessionID(), saved[0].SessionID)
	assert.Equal(t, []int{21}, market.limits)

	// Forming bars are ignored.
	market.handler(bar(10, 111, 100, 110, false))
	assert.Len(t, repo.all(), 1)

	breakout := bar(10, 111, 100, 110, true)
	market.handler(breakout)
	saved = repo.all()
	require.Len(t, saved, 2)
	got := saved[1]
	assert.Equal(t, domain.DirectionLong, got.Evaluation.Direction)
	assert.Equal(t, domain.QualityTrue, got.Evaluation.Quality)
	assert.Equal(t, domain.SuggestionFull, got.Evaluation.Suggestion)
	assert.Equal(t, 110.0, got.Price)
	assert.InDelta(t, 5.0, got.Evaluation.N, 1e-9)
	// 1% of 10000 over N*price = 100/550, truncated to 3 digits.
	assert.Equal(t, 0.181, got.Size)
	assert.Equal(t, 100.0, got.Levels.StopLoss)

	// A replayed final bar is not graded twice.
	market.handler(breakout)
	assert.Len(t, repo.all(), 2)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(7 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestStart_StreamStopsUnexpectedly(t *testing.T) {
	market := newMockMarket(flatBars(10))
	svc := newTestService(t, testConfig(), market, &mockAdviceRepo{})

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(context.Background()) }()

	<-market.streamStarted
	market.stopCh <- struct{}{}

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ports.ErrConnectionFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not report the closed stream")
	}
}

func TestStart_InitializationErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(cfg *config.Config, m *mockMarket)
		wantErr error
	}{
		{
			name:    "too few closed klines",
			setup:   func(cfg *config.Config, m *mockMarket) { m.klines = flatBars(4) },
			wantErr: ports.ErrInsufficientData,
		},
		{
			name:    "klines unavailable",
			setup:   func(cfg *config.Config, m *mockMarket) { m.klinesErr = ports.ErrRateLimited },
			wantErr: ports.ErrRateLimited,
		},
		{
			name: "balance unavailable",
			setup: func(cfg *config.Config, m *mockMarket) {
				cfg.AccountEquity = 0
				m.balanceErr = ports.ErrAuthenticationFailed
			},
			wantErr: ports.ErrAuthenticationFailed,
		},
		{
			name: "empty wallet",
			setup: func(cfg *config.Config, m *mockMarket) {
				cfg.AccountEquity = 0
				m.balance = 0
			},
			wantErr: ports.ErrConfigurationError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			market := newMockMarket(flatBars(10))
			tt.setup(cfg, market)
			svc := newTestService(t, cfg, market, &mockAdviceRepo{})

			err := svc.Start(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestResolveEquity_FromBalance(t *testing.T) {
	cfg := testConfig()
	cfg.AccountEquity = 0
	market := newMockMarket(nil)
	market.balance = 2500
	svc := newTestService(t, cfg, market, &mockAdviceRepo{})

	require.NoError(t, svc.resolveEquity(context.Background()))
	assert.Equal(t, 2500.0, svc.equity)
}

func TestPoll_CatchesUpAndPricesNewestBar(t *testing.T) {
	market := newMockMarket(flatBars(10))
	market.price = 112
	repo := &mockAdviceRepo{}
	svc := newTestService(t, testConfig(), market, repo)
	svc.now = func() time.Time { return base.Add(12*time.Minute + 30*time.Second) }

	ctx := context.Background()
	require.NoError(t, svc.resolveEquity(ctx))
	require.NoError(t, svc.loadInitialWindow(ctx))
	require.Len(t, repo.all(), 1)

	market.setKlines(append(flatBars(11), bar(11, 111, 100, 110, true), bar(12, 111, 105, 108, false)))
	svc.poll(ctx)

	saved := repo.all()
	require.Len(t, saved, 3)
	assert.Equal(t, 4, market.limits[len(market.limits)-1], "two bars missed plus slack")

	caughtUp := saved[1]
	assert.Equal(t, 100.0, caughtUp.Price, "older bars are priced at their close")
	assert.Equal(t, domain.SuggestionNoEntry, caughtUp.Evaluation.Suggestion)

	newest := saved[2]
	assert.Equal(t, 112.0, newest.Price)
	assert.Equal(t, domain.DirectionLong, newest.Evaluation.Direction)
	assert.Greater(t, newest.Size, 0.0)

	// Nothing new on the next poll.
	svc.poll(ctx)
	assert.Len(t, repo.all(), 3)
}

func TestPoll_TickerFailureFallsBackToClose(t *testing.T) {
	market := newMockMarket(flatBars(10))
	market.priceErr = errors.New("ticker down")
	repo := &mockAdviceRepo{}
	svc := newTestService(t, testConfig(), market, repo)
	svc.now = func() time.Time { return base.Add(11*time.Minute + time.Second) }

	ctx := context.Background()
	require.NoError(t, svc.resolveEquity(ctx))
	require.NoError(t, svc.loadInitialWindow(ctx))

	market.setKlines(append(flatBars(10), bar(10, 111, 100, 110, true)))
	svc.poll(ctx)

	saved := repo.all()
	require.Len(t, saved, 2)
	assert.Equal(t, 110.0, saved[1].Price)
}

func TestStart_PollMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = config.ModePoll
	cfg.PollCron = "* * * * * *"
	market := newMockMarket(flatBars(10))
	svc := newTestService(t, cfg, market, &mockAdviceRepo{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	require.Eventually(t, func() bool { return market.getKlinesCalls() >= 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("poll scheduler did not stop")
	}
}

func TestAdviceSaveFailureIsLogged(t *testing.T) {
	market := newMockMarket(flatBars(10))
	repo := &mockAdviceRepo{err: ports.ErrQueryFailed}
	svc := newTestService(t, testConfig(), market, repo)

	ctx := context.Background()
	require.NoError(t, svc.resolveEquity(ctx))
	require.NoError(t, svc.loadInitialWindow(ctx))
	assert.Empty(t, repo.all())
	assert.True(t, svc.lastClose.Equal(flatBars(10)[9].CloseTime), "a failed save does not replay the bar")
}

func TestHandleKlineEvent_RefillsBarsMissedByStream(t *testing.T) {
	tests := []struct {
		name      string
		rangeErr  error
		wantSaved int
	}{
		{name: "missed bars are graded in order", wantSaved: 5},
		{name: "refill failure still grades the new bar", rangeErr: ports.ErrTimeout, wantSaved: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			market := newMockMarket(flatBars(10))
			repo := &mockAdviceRepo{}
			svc := newTestService(t, testConfig(), market, repo)

			ctx := context.Background()
			require.NoError(t, svc.resolveEquity(ctx))
			require.NoError(t, svc.loadInitialWindow(ctx))

			// Bars 10..12 closed while the stream was reconnecting.
			market.setKlines(flatBars(13))
			market.rangeErr = tt.rangeErr
			svc.handleKlineEvent(bar(13, 111, 100, 110, true))

			require.Len(t, market.ranges, 1)
			assert.True(t, market.ranges[0][0].Equal(bar(10, 0, 0, 0, true).OpenTime))
			assert.True(t, market.ranges[0][1].Equal(bar(12, 0, 0, 0, true).CloseTime))

			saved := repo.all()
			require.Len(t, saved, tt.wantSaved)
			for i := 1; i < len(saved); i++ {
				assert.True(t, saved[i].BarCloseTime.After(saved[i-1].BarCloseTime))
			}
			newest := saved[len(saved)-1]
			assert.True(t, newest.BarCloseTime.Equal(bar(13, 0, 0, 0, true).CloseTime))
			assert.Equal(t, domain.DirectionLong, newest.Evaluation.Direction)
			if tt.rangeErr == nil {
				assert.Len(t, svc.window, 14)
			}
		})
	}
}

func TestHandleKlineEvent_ContiguousBarSkipsRefill(t *testing.T) {
	market := newMockMarket(flatBars(10))
	repo := &mockAdviceRepo{}
	svc := newTestService(t, testConfig(), market, repo)

	ctx := context.Background()
	require.NoError(t, svc.resolveEquity(ctx))
	require.NoError(t, svc.loadInitialWindow(ctx))

	svc.handleKlineEvent(bar(10, 101, 99, 100, true))
	assert.Empty(t, market.ranges)
	assert.Len(t, repo.all(), 2)
}

func TestPoll_RefillsGapLongerThanWindow(t *testing.T) {
	market := newMockMarket(flatBars(10))
	repo := &mockAdviceRepo{}
	svc := newTestService(t, testConfig(), market, repo)
	svc.now = func() time.Time { return base.Add(40 * time.Minute) }

	ctx := context.Background()
	require.NoError(t, svc.resolveEquity(ctx))
	require.NoError(t, svc.loadInitialWindow(ctx))

	market.setKlines(flatBars(35))
	svc.poll(ctx)

	assert.Equal(t, []int{21}, market.limits, "the gap is not fetched with a capped limit")
	require.Len(t, market.ranges, 1)
	assert.True(t, market.ranges[0][0].Equal(bar(10, 0, 0, 0, true).OpenTime))

	saved := repo.all()
	require.Len(t, saved, 26)
	for i := 1; i < len(saved); i++ {
		assert.Equal(t, time.Minute, saved[i].BarCloseTime.Sub(saved[i-1].BarCloseTime))
	}
	assert.Len(t, svc.window, 20)
	assert.True(t, svc.lastClose.Equal(bar(34, 0, 0, 0, true).CloseTime))
}
