// Package logging configures structured slog output for searchme.
//
// Logs are JSON lines written to ~/.searchme/logs/searchme.log with
// size-based rotation, optionally mirrored to stderr when --debug is set.
// 'searchme logs' reads them back through Viewer.
package logging
