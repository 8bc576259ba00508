package ports

import "errors"

// Sentinel errors. Adapters translate exchange, redis and sqlite failures into
// these; callers test with errors.Is.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Market Data Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrDataGap              = errors.New("market data missing or insufficient")
	ErrStreamClosed         = errors.New("price stream closed")

	// Pipeline Errors
	ErrProfileNotFound     = errors.New("profile not found")
	ErrSignalExpired       = errors.New("signal expired")
	ErrSignalNotExecutable = errors.New("signal is not pending")

	// Ledger Errors
	ErrInsufficientBalance = errors.New("insufficient balance for margin")
	ErrMaxPositions        = errors.New("maximum open positions reached")
	ErrDuplicatePosition   = errors.New("position already open for symbol and direction")
	ErrCorrelationLimit    = errors.New("correlated exposure limit reached")

	// Storage Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)
