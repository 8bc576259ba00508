package ports

import (
	"context"

	"cryptoSignalBot/internal/domain"
)

// SignalRepository stores signals and their status transitions.
type SignalRepository interface {
	// CreateSignal saves a new signal.
	CreateSignal(ctx context.Context, sig *domain.Signal) error
	// UpdateSignalStatus changes the status of an existing signal.
	UpdateSignalStatus(ctx context.Context, id string, status domain.SignalStatus) error
	// FindSignalByID retrieves a signal by ID.
	// Returns nil, nil if not found.
	FindSignalByID(ctx context.Context, id string) (*domain.Signal, error)
	// FindRecentSignals retrieves the latest signals of a profile, newest first.
	FindRecentSignals(ctx context.Context, profile string, limit int) ([]*domain.Signal, error)
}

// PositionRepository defines the interface for storing and retrieving simulated positions.
type PositionRepository interface {
	// SavePosition inserts or replaces a position.
	SavePosition(ctx context.Context, pos *domain.Position) error
	// FindPositionByID retrieves a position by its unique ID.
	// Returns nil, nil if not found.
	FindPositionByID(ctx context.Context, id string) (*domain.Position, error)
	// FindOpenPositions retrieves the non-closed positions of a profile.
	FindOpenPositions(ctx context.Context, profile string) ([]*domain.Position, error)
}

// TradeRepository defines the interface for storing and retrieving completed trades.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindTradesByProfile retrieves the trades of a profile, oldest first.
	FindTradesByProfile(ctx context.Context, profile string) ([]*domain.Trade, error)
	// DeleteTradesByProfile removes the trades of a profile.
	DeleteTradesByProfile(ctx context.Context, profile string) error
}

// PortfolioRepository persists the per-profile ledger state.
type PortfolioRepository interface {
	// SavePortfolio inserts or replaces the portfolio of a profile.
	SavePortfolio(ctx context.Context, p *domain.Portfolio) error
	// FindPortfolio retrieves the portfolio of a profile.
	// Returns nil, nil if not found.
	FindPortfolio(ctx context.Context, profile string) (*domain.Portfolio, error)
}

// SetupStatRepository persists the learner statistics.
type SetupStatRepository interface {
	// SaveSetupStat inserts or replaces the stat of a combination.
	SaveSetupStat(ctx context.Context, stat *domain.SetupStat) error
	// FindAllSetupStats retrieves every stored combination.
	FindAllSetupStats(ctx context.Context) ([]domain.SetupStat, error)
}
