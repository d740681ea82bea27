// Package log is a thin structured-logging wrapper matching the call
// shape of the teacher's pkg/util/log (Infof/Warningf/Errorf/Fatalf,
// VEventf for verbosity-gated tracing, Event for untyped trace points).
// It is backed by log/slog, since no concrete sink implementation for
// util/log was retrieved from the example pack — only call sites and
// helpers (every_n.go, formats.go) were available to ground the shape.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
)

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

type ctxTagsKey struct{}

// WithLogTag returns a context annotated with a key/value pair that is
// rendered on every subsequent log line, mirroring logtags.AddTag usage
// across the teacher's request-scoped contexts (e.g. session id, txn id).
func WithLogTag(ctx context.Context, key string, value interface{}) context.Context {
	tags, _ := ctx.Value(ctxTagsKey{}).(*logtags.Buffer)
	if tags == nil {
		tags = &logtags.Buffer{}
	}
	tags = tags.Add(key, value)
	return context.WithValue(ctx, ctxTagsKey{}, tags)
}

func tagArgs(ctx context.Context) []interface{} {
	tags, _ := ctx.Value(ctxTagsKey{}).(*logtags.Buffer)
	if tags == nil {
		return nil
	}
	args := make([]interface{}, 0, 2*len(tags.Get()))
	for _, t := range tags.Get() {
		args = append(args, t.Key(), t.Value())
	}
	return args
}

// Infof logs at info level with the given printf-style format.
func Infof(ctx context.Context, format string, args ...interface{}) {
	defaultLogger.With(tagArgs(ctx)...).Info(fmt.Sprintf(format, args...))
}

// Warningf logs at warn level with the given printf-style format.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	defaultLogger.With(tagArgs(ctx)...).Warn(fmt.Sprintf(format, args...))
}

// Errorf logs at error level with the given printf-style format.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	defaultLogger.With(tagArgs(ctx)...).Error(fmt.Sprintf(format, args...))
}

// Fatalf logs at error level and then terminates the process, matching
// the teacher's log.Fatalf semantics.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	defaultLogger.With(tagArgs(ctx)...).Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// VEventf logs a verbosity-gated trace event at debug level. Levels
// above vLevel are dropped; this core defaults to a fixed threshold rather than the
// teacher's per-file --vmodule flag since no flag-parsing layer is in
// scope here.
func VEventf(ctx context.Context, level int, format string, args ...interface{}) {
	if level > vLevel {
		return
	}
	defaultLogger.With(tagArgs(ctx)...).Debug(fmt.Sprintf(format, args...))
}

// Event logs an untyped trace point, mirroring log.Event(ctx, msg) call
// sites in pkg/storage/concurrency/concurrency_manager.go.
func Event(ctx context.Context, msg string) {
	VEventf(ctx, 1, "%s", msg)
}

var vLevel = 1

// SetVLevel adjusts the verbosity threshold used by VEventf/Event.
func SetVLevel(level int) { vLevel = level }

// SQLText marks raw SQL statement text as redactable user data, mirroring
// the teacher's redact.Safe/redact.Sprint convention: everything passed
// through Sprint that isn't wrapped in Safe is treated as sensitive and is
// replaced by a placeholder wherever the log output is later redacted
// (e.g. before attaching a trace to a support bundle).
func SQLText(sql string) redact.RedactableString {
	return redact.Sprint(redact.SafeString("sql="), sql)
}
