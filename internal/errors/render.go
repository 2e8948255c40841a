package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Render formats err for a person reading terminal output: the message
// and cause first, the stable code for searchability, and a hint line
// for the handful of codes an operator can act on directly.
func Render(err error) string {
	if err == nil {
		return ""
	}
	var ce *Error
	if !errors.As(err, &ce) {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString(ce.Message)
	if ce.Cause != nil {
		fmt.Fprintf(&sb, ": %v", ce.Cause)
	}
	fmt.Fprintf(&sb, " (%s)", ce.Code)
	if hint := hintFor(ce.Code); hint != "" {
		sb.WriteString("\n  hint: ")
		sb.WriteString(hint)
	}
	return sb.String()
}

// hintFor maps codes with an obvious operator remedy to a one-line
// suggestion. Codes without one render with no hint line.
func hintFor(code string) string {
	switch code {
	case ErrCodeWriteLockHeld:
		return "another catalog process is writing to this root; wait for it to finish or remove a stale write.lock"
	case ErrCodeCorruptIndex:
		return "run 'cbird vacuum' to drop orphaned index entries, or delete the algo database under the index directory to force a rebuild"
	case ErrCodeConfigInvalid:
		return "run 'cbird config list' and 'cbird config restore' to roll the user config back to a known-good backup"
	}
	return ""
}

// LogAttrs renders err as slog attributes for structured logging. A
// plain error becomes a single "error" attribute.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}
	var ce *Error
	if !errors.As(err, &ce) {
		return []slog.Attr{slog.String("error", err.Error())}
	}
	attrs := []slog.Attr{
		slog.String("error_code", ce.Code),
		slog.String("error", ce.Message),
		slog.String("severity", string(ce.Severity())),
	}
	if ce.Cause != nil {
		attrs = append(attrs, slog.String("cause", ce.Cause.Error()))
	}
	return attrs
}
