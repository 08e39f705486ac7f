// Package logging provides structured, rotating file logging for imsearch.
// Logs are JSON-formatted via log/slog; level is controlled by LOG_LEVEL
// and defaults to writing to both <config-dir>/logs/imsearch.log
// and stderr.
package logging
