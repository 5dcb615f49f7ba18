// diag.go defines the diagnostic sink consumed by the engine's internals.
// Bookkeeping failures are reported here and then downgraded to a safe
// default; they are never surfaced to the caller.
package track

import (
	"context"
	"log/slog"
)

// Diagnostic receives reports about internal failures the engine absorbed,
// such as a discarded corrupted configuration or an ignored empty field name.
// The default sink is NopDiagnostic, so diagnostics cost nothing unless a
// caller opts in. The engine guards every Emit call; a misbehaving sink can
// never alter tracking behavior.
type Diagnostic interface {
	Emit(level slog.Level, msg string, err error, fields map[string]any)
}

// NopDiagnostic discards every report. It is the default.
type NopDiagnostic struct{}

// Emit implements Diagnostic.
func (NopDiagnostic) Emit(slog.Level, string, error, map[string]any) {}

// SlogDiagnostic forwards reports to a slog logger.
type SlogDiagnostic struct {
	logger *slog.Logger
}

// NewSlogDiagnostic returns a sink logging through l, or through the process
// default logger when l is nil.
func NewSlogDiagnostic(l *slog.Logger) *SlogDiagnostic {
	if l == nil {
		l = slog.Default()
	}
	return &SlogDiagnostic{logger: l}
}

// Emit implements Diagnostic.
func (d *SlogDiagnostic) Emit(level slog.Level, msg string, err error, fields map[string]any) {
	attrs := make([]slog.Attr, 0, len(fields)+1)
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	d.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// emit reports through d, swallowing sink panics so that diagnostics stay
// strictly one-way.
func emit(d Diagnostic, level slog.Level, msg string, err error, fields map[string]any) {
	if d == nil {
		return
	}
	if _, nop := d.(NopDiagnostic); nop {
		return
	}
	defer func() {
		_ = recover()
	}()
	d.Emit(level, msg, err, fields)
}
