package errors

import (
	"fmt"
	"log/slog"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	we := AsWorkerError(err)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", we.Message))
	if we.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", we.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", we.Code))

	return sb.String()
}

// FormatForLog returns slog attributes describing err.
func FormatForLog(err error) []slog.Attr {
	if err == nil {
		return nil
	}

	we := AsWorkerError(err)

	attrs := []slog.Attr{
		slog.String("error_code", we.Code),
		slog.String("message", we.Message),
		slog.String("category", string(we.Category)),
		slog.String("severity", string(we.Severity)),
		slog.Bool("retryable", we.Retryable),
	}
	if we.Cause != nil {
		attrs = append(attrs, slog.String("cause", we.Cause.Error()))
	}
	for k, v := range we.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}
