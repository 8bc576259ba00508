package ports

import "context"

// Logger is the only logging API used by the core. Messages are prefixed
// with the operation ("Engine.Execute: Position opened"); fields carry the
// structured context. Adapters merge multiple field maps, later maps winning.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs err alongside msg.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
