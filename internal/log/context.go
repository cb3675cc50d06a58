package log

import "context"

type ctxKey string

const jobIDKey ctxKey = "job_id"

// ContextWithJobID stores a correlation id on ctx (the encoder worker uses a
// fresh UUID per encode job, the scanner one per scan), so every log line
// emitted during that job can be correlated by job_id regardless of which
// goroutine emits it.
func ContextWithJobID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job id from ctx, or "" if absent.
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(jobIDKey).(string); ok {
		return v
	}
	return ""
}
