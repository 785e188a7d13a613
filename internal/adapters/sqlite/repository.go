package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.AdviceRepository and ports.TradeRepository interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

var (
	_ ports.AdviceRepository = (*Repository)(nil)
	_ ports.TradeRepository  = (*Repository)(nil)
)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/advisor.db" // Default path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w: %w", filepath.Dir(dbPath), ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS advices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		bar_close_time TIMESTAMP NOT NULL,
		price REAL NOT NULL,
		direction TEXT NOT NULL,
		strength TEXT NOT NULL,
		quality TEXT NOT NULL,
		tag TEXT NOT NULL,
		suggestion TEXT NOT NULL,
		close REAL NOT NULL,
		atr REAL NOT NULL,
		entry_upper REAL NOT NULL,
		entry_lower REAL NOT NULL,
		confirmation_upper REAL NOT NULL,
		confirmation_lower REAL NOT NULL,
		volume_ratio REAL NULL,
		size REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NULL,
		trailing_exit REAL NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quality TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		position_id INTEGER NULL,
		close_reason TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_advices_symbol_interval_time ON advices (symbol, interval, bar_close_time);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_entry_time ON trade_history (symbol, entry_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w: %w", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- AdviceRepository Implementation ---

const adviceColumns = `id, session_id, symbol, interval, bar_close_time, price,
	       direction, strength, quality, tag, suggestion,
	       close, atr, entry_upper, entry_lower, confirmation_upper, confirmation_lower, volume_ratio,
	       size, stop_loss, take_profit, trailing_exit, created_at`

// Save stores an advice and returns its assigned ID.
func (r *Repository) Save(ctx context.Context, advice *domain.Advice) (int64, error) {
	const query = `
	INSERT INTO advices (session_id, symbol, interval, bar_close_time, price,
	                     direction, strength, quality, tag, suggestion,
	                     close, atr, entry_upper, entry_lower, confirmation_upper, confirmation_lower, volume_ratio,
	                     size, stop_loss, take_profit, trailing_exit, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if advice.CreatedAt.IsZero() {
		advice.CreatedAt = time.Now()
	}
	ev := advice.Evaluation
	result, err := r.db.ExecContext(ctx, query,
		advice.SessionID, advice.Symbol, string(advice.Interval), advice.BarCloseTime.UTC(), advice.Price,
		string(ev.Direction), string(ev.Strength), string(ev.Quality), ev.Tag, string(ev.Suggestion),
		ev.Close, ev.N, ev.EntryBands.Upper, ev.EntryBands.Lower, ev.ConfirmationBands.Upper, ev.ConfirmationBands.Lower,
		nullFloat(ev.VolumeRatio),
		advice.Size, advice.Levels.StopLoss, nullFloat(advice.Levels.TakeProfit), nullFloat(advice.Levels.TrailingExit),
		advice.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert advice for symbol %s: %w: %w", advice.Symbol, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for advice %s: %w: %w", advice.Symbol, ports.ErrQueryFailed, err)
	}
	advice.ID = id
	r.logger.Debug(ctx, "Advice saved", map[string]interface{}{"adviceID": id, "symbol": advice.Symbol, "tag": ev.Tag})
	return id, nil
}

// FindLatest retrieves the advice with the newest bar close time for a symbol and interval.
func (r *Repository) FindLatest(ctx context.Context, symbol string, interval domain.Interval) (*domain.Advice, error) {
	query := `SELECT ` + adviceColumns + `
	FROM advices
	WHERE symbol = ? AND interval = ?
	ORDER BY bar_close_time DESC, id DESC
	LIMIT 1`

	advice, err := scanAdvice(r.db.QueryRowContext(ctx, query, symbol, string(interval)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "No advice found", map[string]interface{}{"symbol": symbol, "interval": string(interval)})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest advice for %s/%s: %w: %w", symbol, interval, ports.ErrQueryFailed, err)
	}
	return advice, nil
}

// FindBySymbol retrieves the most recent advices for a symbol, newest first.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Advice, error) {
	query := `SELECT ` + adviceColumns + `
	FROM advices
	WHERE symbol = ?
	ORDER BY bar_close_time DESC, id DESC
	LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query advices for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	advices := make([]*domain.Advice, 0)
	for rows.Next() {
		advice, err := scanAdvice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan advice during FindBySymbol: %w", err)
		}
		advices = append(advices, advice)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating advice rows: %w", err)
	}
	return advices, nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (symbol, side, quality, entry_price, exit_price, quantity, leverage, pnl,
	                           entry_time, exit_time, position_id, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var positionID sql.NullInt64
	if trade.PositionID != 0 {
		positionID = sql.NullInt64{Int64: trade.PositionID, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		trade.Symbol, string(trade.Side), string(trade.Quality), trade.EntryPrice, trade.ExitPrice, trade.Quantity,
		trade.Leverage, trade.PNL, trade.EntryTime.UTC(), trade.ExitTime.UTC(), positionID, string(trade.CloseReason))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for symbol %s: %w: %w", trade.Symbol, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade history %s: %w: %w", trade.Symbol, ports.ErrQueryFailed, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade history created", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PNL})
	return id, nil
}

// FindTradesBySymbol retrieves the most recent trades for a given symbol, up to a limit.
func (r *Repository) FindTradesBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, side, quality, entry_price, exit_price, quantity, leverage, pnl,
	       entry_time, exit_time, position_id, close_reason
	FROM trade_history
	WHERE symbol = ? ORDER BY entry_time DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history during FindTradesBySymbol: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAdvice(s scanner) (*domain.Advice, error) {
	a := &domain.Advice{}
	ev := &a.Evaluation
	var (
		interval, direction, strength, quality, suggestion string
		volumeRatio, takeProfit, trailingExit              sql.NullFloat64
	)
	err := s.Scan(
		&a.ID, &a.SessionID, &a.Symbol, &interval, &a.BarCloseTime, &a.Price,
		&direction, &strength, &quality, &ev.Tag, &suggestion,
		&ev.Close, &ev.N, &ev.EntryBands.Upper, &ev.EntryBands.Lower,
		&ev.ConfirmationBands.Upper, &ev.ConfirmationBands.Lower, &volumeRatio,
		&a.Size, &a.Levels.StopLoss, &takeProfit, &trailingExit, &a.CreatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	a.Interval = domain.Interval(interval)
	ev.Direction = domain.Direction(direction)
	ev.Strength = domain.Strength(strength)
	ev.Quality = domain.Quality(quality)
	ev.Suggestion = domain.Suggestion(suggestion)
	ev.EntryBands.Middle = (ev.EntryBands.Upper + ev.EntryBands.Lower) / 2
	ev.ConfirmationBands.Middle = (ev.ConfirmationBands.Upper + ev.ConfirmationBands.Lower) / 2
	ev.VolumeRatio = floatPtr(volumeRatio)
	a.Levels.TakeProfit = floatPtr(takeProfit)
	a.Levels.TrailingExit = floatPtr(trailingExit)
	return a, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	th := &domain.Trade{}
	var (
		side, quality string
		positionID    sql.NullInt64
		closeReason   sql.NullString
	)
	err := s.Scan(
		&th.ID, &th.Symbol, &side, &quality, &th.EntryPrice, &th.ExitPrice, &th.Quantity, &th.Leverage, &th.PNL,
		&th.EntryTime, &th.ExitTime, &positionID, &closeReason)
	if err != nil {
		return nil, err
	}
	th.Side = domain.Direction(side)
	th.Quality = domain.Quality(quality)
	if positionID.Valid {
		th.PositionID = positionID.Int64
	}
	if closeReason.Valid && closeReason.String != "" {
		th.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		th.CloseReason = domain.CloseReasonUnknown
	}
	return th, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
