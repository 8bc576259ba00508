package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the signal, position, trade, portfolio and setup
// stat repositories using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (creating if needed) the database at cfg.DBPath and
// applies the schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: SQLite repository needs a logger", ports.ErrConfigurationError)
	}
	ctx := context.Background()
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/signal_bot.db"
	}
	fail := func(err error) (*Repository, error) {
		cfg.Logger.Error(ctx, err, "NewRepository: Open failed", map[string]interface{}{"path": dbPath})
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fail(fmt.Errorf("create data directory: %w", err))
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fail(fmt.Errorf("open database: %w", err))
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fail(fmt.Errorf("%w: %v", ports.ErrDBConnection, err))
	}

	// Single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(ctx); err != nil {
		db.Close()
		return fail(err)
	}
	cfg.Logger.Info(ctx, "NewRepository: Database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		profile TEXT NOT NULL,
		mode TEXT NOT NULL,
		direction TEXT NOT NULL,
		score REAL NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		tp1 REAL NOT NULL,
		tp2 REAL NOT NULL,
		tp3 REAL NOT NULL,
		leverage INTEGER NOT NULL,
		quantity REAL NOT NULL,
		margin REAL NOT NULL,
		atr REAL NOT NULL,
		setup_type TEXT NOT NULL,
		layers TEXT NOT NULL,
		reasons TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		signal_id TEXT NOT NULL,
		profile TEXT NOT NULL,
		symbol TEXT NOT NULL,
		mode TEXT NOT NULL,
		setup_type TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		original_qty REAL NOT NULL,
		remaining_qty REAL NOT NULL,
		stop_loss REAL NOT NULL,
		tp1 REAL NOT NULL,
		tp2 REAL NOT NULL,
		tp3 REAL NOT NULL,
		tp1_hit INTEGER NOT NULL DEFAULT 0,
		tp2_hit INTEGER NOT NULL DEFAULT 0,
		tp3_hit INTEGER NOT NULL DEFAULT 0,
		trail_distance REAL NOT NULL,
		state TEXT NOT NULL,
		margin_required REAL NOT NULL,
		leverage INTEGER NOT NULL,
		realized_pnl REAL NOT NULL DEFAULT 0,
		fills TEXT NOT NULL DEFAULT '[]',
		outcome TEXT NOT NULL DEFAULT '',
		close_reason TEXT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		context TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL,
		profile TEXT NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		setup_type TEXT NOT NULL,
		mode TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL,
		outcome TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS portfolios (
		profile TEXT PRIMARY KEY,
		initial_balance REAL NOT NULL,
		current_balance REAL NOT NULL,
		reserved_margin REAL NOT NULL,
		wins INTEGER NOT NULL,
		losses INTEGER NOT NULL,
		total_pnl REAL NOT NULL,
		open_positions INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS setup_stats (
		setup_type TEXT NOT NULL,
		symbol TEXT NOT NULL,
		mode TEXT NOT NULL,
		wins INTEGER NOT NULL,
		losses INTEGER NOT NULL,
		disabled INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (setup_type, symbol, mode)
	);

	CREATE INDEX IF NOT EXISTS idx_signals_profile_created ON signals (profile, created_at);
	CREATE INDEX IF NOT EXISTS idx_positions_profile_state ON positions (profile, state);
	CREATE INDEX IF NOT EXISTS idx_trade_history_profile_exit_time ON trade_history (profile, exit_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	r.logger.Debug(context.Background(), "Repository.Close: Closing database")
	return r.db.Close()
}

// --- SignalRepository Implementation ---

// CreateSignal saves a new signal.
func (r *Repository) CreateSignal(ctx context.Context, sig *domain.Signal) error {
	const query = `
	INSERT INTO signals (id, symbol, profile, mode, direction, score, entry_price, stop_loss,
	                     tp1, tp2, tp3, leverage, quantity, margin, atr, setup_type, layers,
	                     reasons, created_at, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	layers, err := json.Marshal(sig.Layers)
	if err != nil {
		return fmt.Errorf("failed to encode layers of signal %s: %w", sig.ID, err)
	}
	reasons, err := json.Marshal(sig.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode reasons of signal %s: %w", sig.ID, err)
	}

	_, err = r.db.ExecContext(ctx, query,
		sig.ID, sig.Symbol, sig.Profile, sig.Mode, sig.Direction, sig.Score, sig.EntryPrice, sig.StopLoss,
		sig.TP1, sig.TP2, sig.TP3, sig.Leverage, sig.Quantity, sig.Margin, sig.ATR, sig.SetupType, string(layers),
		string(reasons), sig.CreatedAt, sig.Status)
	if err != nil {
		return fmt.Errorf("failed to insert signal %s for symbol %s: %w", sig.ID, sig.Symbol, err)
	}
	r.logger.Debug(ctx, "Signal created", map[string]interface{}{"signalID": sig.ID, "symbol": sig.Symbol, "profile": sig.Profile})
	return nil
}

// UpdateSignalStatus changes the status of an existing signal.
func (r *Repository) UpdateSignalStatus(ctx context.Context, id string, status domain.SignalStatus) error {
	const query = `UPDATE signals SET status = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update status of signal %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for signal %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("signal %s not found for update: %w", id, ports.ErrNotFound)
	}
	return nil
}

const signalColumns = `
	SELECT id, symbol, profile, mode, direction, score, entry_price, stop_loss, tp1, tp2, tp3,
	       leverage, quantity, margin, atr, setup_type, layers, reasons, created_at, status
	FROM signals`

// FindSignalByID retrieves a signal by ID.
func (r *Repository) FindSignalByID(ctx context.Context, id string) (*domain.Signal, error) {
	row := r.db.QueryRowContext(ctx, signalColumns+` WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query signal %s: %w", id, err)
	}
	return sig, nil
}

// FindRecentSignals retrieves the latest signals of a profile, newest first.
func (r *Repository) FindRecentSignals(ctx context.Context, profile string, limit int) ([]*domain.Signal, error) {
	rows, err := r.db.QueryContext(ctx, signalColumns+` WHERE profile = ? ORDER BY created_at DESC LIMIT ?`, profile, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals for profile %s: %w", profile, err)
	}
	defer rows.Close()

	signals := make([]*domain.Signal, 0)
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal during FindRecentSignals: %w", err)
		}
		signals = append(signals, sig)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signal rows: %w", err)
	}
	return signals, nil
}

// --- PositionRepository Implementation ---

// SavePosition inserts or replaces a position.
func (r *Repository) SavePosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT OR REPLACE INTO positions (id, signal_id, profile, symbol, mode, setup_type, direction,
	    entry_price, original_qty, remaining_qty, stop_loss, tp1, tp2, tp3, tp1_hit, tp2_hit, tp3_hit,
	    trail_distance, state, margin_required, leverage, realized_pnl, fills, outcome, close_reason,
	    opened_at, closed_at, context)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	fills := pos.Fills
	if fills == nil {
		fills = []domain.Fill{}
	}
	encoded, err := json.Marshal(fills)
	if err != nil {
		return fmt.Errorf("failed to encode fills of position %s: %w", pos.ID, err)
	}
	tradeCtx, err := json.Marshal(pos.Context)
	if err != nil {
		return fmt.Errorf("failed to encode context of position %s: %w", pos.ID, err)
	}

	var closedAt sql.NullTime
	if !pos.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: pos.ClosedAt, Valid: true}
	}
	var closeReason sql.NullString
	if pos.CloseReason != "" {
		closeReason = sql.NullString{String: string(pos.CloseReason), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, query,
		pos.ID, pos.SignalID, pos.Profile, pos.Symbol, pos.Mode, pos.SetupType, pos.Direction,
		pos.EntryPrice, pos.OriginalQty, pos.RemainingQty, pos.StopLoss, pos.TP1, pos.TP2, pos.TP3, pos.TP1Hit, pos.TP2Hit, pos.TP3Hit,
		pos.TrailDistance, pos.State, pos.MarginRequired, pos.Leverage, pos.RealizedPnL, string(encoded), pos.Outcome, closeReason,
		pos.OpenedAt, closedAt, string(tradeCtx))
	if err != nil {
		return fmt.Errorf("failed to save position %s: %w", pos.ID, err)
	}
	r.logger.Debug(ctx, "Position saved", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol, "state": pos.State})
	return nil
}

const positionColumns = `
	SELECT id, signal_id, profile, symbol, mode, setup_type, direction, entry_price, original_qty,
	       remaining_qty, stop_loss, tp1, tp2, tp3, tp1_hit, tp2_hit, tp3_hit, trail_distance, state,
	       margin_required, leverage, realized_pnl, fills, outcome, close_reason, opened_at, closed_at, context
	FROM positions`

// FindPositionByID retrieves a position by its unique ID.
func (r *Repository) FindPositionByID(ctx context.Context, id string) (*domain.Position, error) {
	row := r.db.QueryRowContext(ctx, positionColumns+` WHERE id = ?`, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Position not found by ID", map[string]interface{}{"positionID": id})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query position by ID %s: %w", id, err)
	}
	return pos, nil
}

// FindOpenPositions retrieves the non-closed positions of a profile, oldest first.
func (r *Repository) FindOpenPositions(ctx context.Context, profile string) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, positionColumns+` WHERE profile = ? AND state != ? ORDER BY opened_at`, profile, domain.StateClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions for profile %s: %w", profile, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindOpenPositions: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (position_id, profile, symbol, direction, setup_type, mode, entry_price,
	                           exit_price, quantity, leverage, pnl, entry_time, exit_time, close_reason, outcome, context)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var closeReason sql.NullString
	if trade.CloseReason != "" {
		closeReason = sql.NullString{String: string(trade.CloseReason), Valid: true}
	}
	tradeCtx, err := json.Marshal(trade.Context)
	if err != nil {
		return 0, fmt.Errorf("failed to encode context of trade %s: %w", trade.PositionID, err)
	}

	result, err := r.db.ExecContext(ctx, query,
		trade.PositionID, trade.Profile, trade.Symbol, trade.Direction, trade.SetupType, trade.Mode, trade.EntryPrice,
		trade.ExitPrice, trade.Quantity, trade.Leverage, trade.PNL, trade.EntryTime, trade.ExitTime, closeReason, trade.Outcome, string(tradeCtx))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade history %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade history created", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PNL})
	return id, nil
}

// FindTradesByProfile retrieves the trades of a profile, oldest first.
func (r *Repository) FindTradesByProfile(ctx context.Context, profile string) ([]*domain.Trade, error) {
	const query = `
	SELECT id, position_id, profile, symbol, direction, setup_type, mode, entry_price, exit_price,
	       quantity, leverage, pnl, entry_time, exit_time, close_reason, outcome, context
	FROM trade_history
	WHERE profile = ? ORDER BY exit_time, id`

	rows, err := r.db.QueryContext(ctx, query, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history for profile %s: %w", profile, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history during FindTradesByProfile: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

// DeleteTradesByProfile removes the trades of a profile.
func (r *Repository) DeleteTradesByProfile(ctx context.Context, profile string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM trade_history WHERE profile = ?`, profile)
	if err != nil {
		return fmt.Errorf("failed to delete trade history for profile %s: %w", profile, err)
	}
	deleted, _ := result.RowsAffected()
	r.logger.Info(ctx, "Trade history deleted", map[string]interface{}{"profile": profile, "trades": deleted})
	return nil
}

// --- PortfolioRepository Implementation ---

// SavePortfolio inserts or replaces the portfolio of a profile.
func (r *Repository) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	const query = `
	INSERT OR REPLACE INTO portfolios (profile, initial_balance, current_balance, reserved_margin,
	                                   wins, losses, total_pnl, open_positions, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		p.Profile, p.InitialBalance, p.CurrentBalance, p.ReservedMargin,
		p.Wins, p.Losses, p.TotalPnL, p.OpenPositions, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save portfolio %s: %w", p.Profile, err)
	}
	return nil
}

// FindPortfolio retrieves the portfolio of a profile.
func (r *Repository) FindPortfolio(ctx context.Context, profile string) (*domain.Portfolio, error) {
	const query = `
	SELECT profile, initial_balance, current_balance, reserved_margin, wins, losses, total_pnl,
	       open_positions, updated_at
	FROM portfolios
	WHERE profile = ?`

	p := &domain.Portfolio{}
	err := r.db.QueryRowContext(ctx, query, profile).Scan(
		&p.Profile, &p.InitialBalance, &p.CurrentBalance, &p.ReservedMargin, &p.Wins, &p.Losses, &p.TotalPnL,
		&p.OpenPositions, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query portfolio %s: %w", profile, err)
	}
	return p, nil
}

// --- SetupStatRepository Implementation ---

// SaveSetupStat inserts or replaces the stat of a combination.
func (r *Repository) SaveSetupStat(ctx context.Context, stat *domain.SetupStat) error {
	const query = `
	INSERT OR REPLACE INTO setup_stats (setup_type, symbol, mode, wins, losses, disabled, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		stat.SetupType, stat.Symbol, stat.Mode, stat.Wins, stat.Losses, stat.Disabled, stat.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save setup stat %s: %w", stat.Key(), err)
	}
	return nil
}

// FindAllSetupStats retrieves every stored combination.
func (r *Repository) FindAllSetupStats(ctx context.Context) ([]domain.SetupStat, error) {
	const query = `
	SELECT setup_type, symbol, mode, wins, losses, disabled, updated_at
	FROM setup_stats
	ORDER BY setup_type, symbol, mode`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query setup stats: %w", err)
	}
	defer rows.Close()

	stats := make([]domain.SetupStat, 0)
	for rows.Next() {
		var s domain.SetupStat
		var setup, mode string
		if err := rows.Scan(&setup, &s.Symbol, &mode, &s.Wins, &s.Losses, &s.Disabled, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setup stat: %w", err)
		}
		s.SetupType = domain.SetupType(setup)
		s.Mode = domain.Mode(mode)
		stats = append(stats, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating setup stat rows: %w", err)
	}
	return stats, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(s scanner) (*domain.Signal, error) {
	sig := &domain.Signal{}
	var mode, direction, setup, status, layers, reasons string
	err := s.Scan(
		&sig.ID, &sig.Symbol, &sig.Profile, &mode, &direction, &sig.Score, &sig.EntryPrice, &sig.StopLoss,
		&sig.TP1, &sig.TP2, &sig.TP3, &sig.Leverage, &sig.Quantity, &sig.Margin, &sig.ATR, &setup,
		&layers, &reasons, &sig.CreatedAt, &status)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	sig.Mode = domain.Mode(mode)
	sig.Direction = domain.Direction(direction)
	sig.SetupType = domain.SetupType(setup)
	sig.Status = domain.SignalStatus(status)
	if err := json.Unmarshal([]byte(layers), &sig.Layers); err != nil {
		return nil, fmt.Errorf("failed to decode layers of signal %s: %w", sig.ID, err)
	}
	if err := json.Unmarshal([]byte(reasons), &sig.Reasons); err != nil {
		return nil, fmt.Errorf("failed to decode reasons of signal %s: %w", sig.ID, err)
	}
	return sig, nil
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var mode, setup, direction, state, fills, outcome, tradeCtx string
	var closeReason sql.NullString
	var closedAt sql.NullTime
	err := s.Scan(
		&p.ID, &p.SignalID, &p.Profile, &p.Symbol, &mode, &setup, &direction, &p.EntryPrice, &p.OriginalQty,
		&p.RemainingQty, &p.StopLoss, &p.TP1, &p.TP2, &p.TP3, &p.TP1Hit, &p.TP2Hit, &p.TP3Hit, &p.TrailDistance, &state,
		&p.MarginRequired, &p.Leverage, &p.RealizedPnL, &fills, &outcome, &closeReason, &p.OpenedAt, &closedAt, &tradeCtx)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.Mode = domain.Mode(mode)
	p.SetupType = domain.SetupType(setup)
	p.Direction = domain.Direction(direction)
	p.State = domain.PositionState(state)
	p.Outcome = domain.Outcome(outcome)
	if closeReason.Valid {
		p.CloseReason = domain.CloseReason(closeReason.String)
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	if err := json.Unmarshal([]byte(fills), &p.Fills); err != nil {
		return nil, fmt.Errorf("failed to decode fills of position %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(tradeCtx), &p.Context); err != nil {
		return nil, fmt.Errorf("failed to decode context of position %s: %w", p.ID, err)
	}
	return p, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	th := &domain.Trade{}
	var direction, setup, mode, outcome, tradeCtx string
	var closeReason sql.NullString
	err := s.Scan(
		&th.ID, &th.PositionID, &th.Profile, &th.Symbol, &direction, &setup, &mode, &th.EntryPrice, &th.ExitPrice,
		&th.Quantity, &th.Leverage, &th.PNL, &th.EntryTime, &th.ExitTime, &closeReason, &outcome, &tradeCtx)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	th.Direction = domain.Direction(direction)
	th.SetupType = domain.SetupType(setup)
	th.Mode = domain.Mode(mode)
	th.Outcome = domain.Outcome(outcome)
	if closeReason.Valid {
		th.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		th.CloseReason = domain.CloseReasonUnknown // Default if NULL
	}
	if err := json.Unmarshal([]byte(tradeCtx), &th.Context); err != nil {
		return nil, fmt.Errorf("failed to decode context of trade %d: %w", th.ID, err)
	}
	return th, nil
}
