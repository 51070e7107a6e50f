// Package logging configures slog for the worker. With --debug, JSON logs are
// written to a size-rotated file under ~/.annworker/logs/; otherwise logs go to
// stderr only. Stdout is never used because the stdio transport owns it.
package logging
