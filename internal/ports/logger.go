package ports

import "context"

// Logger is the structured logging seam shared by the loops and every
// adapter. Optional field maps carry the per-record context (record id,
// remote id, operation) that makes a failed tick diagnosable after the fact.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error attaches err to the entry in addition to any fields.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
