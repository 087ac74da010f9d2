// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"
)

// Logger wraps slog.Logger so packages below the HTTP layer can log without
// importing it.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

var repoLogging atomic.Bool

func init() {
	GlobalLogger = &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stdout, nil))}
	repoLogging.Store(true)
}

// SetLogger replaces the global logger. Commands install the request-aware
// logger here so request and user ids reach repository and reaper logs.
func SetLogger(l *slog.Logger) {
	GlobalLogger = &Logger{Logger: l}
}

// SetRepoLogging toggles the per-row create/update/delete lines.
func SetRepoLogging(enabled bool) {
	repoLogging.Store(enabled)
}

func withFields(attrs []any, fields map[string]any) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	return attrs
}

// RepoLogger writes one line per write to a table: users, posts or comments.
type RepoLogger struct {
	table string
}

// NewRepoLogger creates a RepoLogger for table.
func NewRepoLogger(table string) *RepoLogger {
	return &RepoLogger{table: table}
}

func (l *RepoLogger) write(ctx context.Context, level slog.Level, op string, fields map[string]any) {
	if level < slog.LevelError && !repoLogging.Load() {
		return
	}
	attrs := withFields([]any{slog.String("table", l.table), slog.String("op", op)}, fields)
	GlobalLogger.Log(ctx, level, l.table+" "+op, attrs...)
}

// LogCreate records an inserted row.
func (l *RepoLogger) LogCreate(ctx context.Context, fields map[string]any) {
	l.write(ctx, slog.LevelInfo, "create", fields)
}

// LogUpdate records a changed row.
func (l *RepoLogger) LogUpdate(ctx context.Context, fields map[string]any) {
	l.write(ctx, slog.LevelInfo, "update", fields)
}

// LogDelete records removed rows.
func (l *RepoLogger) LogDelete(ctx context.Context, fields map[string]any) {
	l.write(ctx, slog.LevelInfo, "delete", fields)
}

// LogError is always written, whatever SetRepoLogging says.
func (l *RepoLogger) LogError(ctx context.Context, err error, op string) {
	l.write(ctx, slog.LevelError, op, map[string]any{"error": err.Error()})
}

func logJob(ctx context.Context, level slog.Level, msg, job, phase string, fields map[string]any) {
	attrs := withFields([]any{slog.String("job", job), slog.String("phase", phase)}, fields)
	GlobalLogger.Log(ctx, level, msg, attrs...)
}

// LogAsyncOperationStart marks the start of a background job run such as a
// reaper sweep.
func LogAsyncOperationStart(ctx context.Context, job string, fields map[string]any) {
	logJob(ctx, slog.LevelInfo, job+" started", job, "start", fields)
}

// LogAsyncOperationEnd marks a finished background job run.
func LogAsyncOperationEnd(ctx context.Context, job string, fields map[string]any) {
	logJob(ctx, slog.LevelInfo, job+" finished", job, "end", fields)
}

// LogAsyncOperationError reports a failed background job run.
func LogAsyncOperationError(ctx context.Context, job string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	fields["error"] = err.Error()
	logJob(ctx, slog.LevelError, job+" failed", job, "error", fields)
}
