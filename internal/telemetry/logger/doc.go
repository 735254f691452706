// Package logger configures structured logging for tabsession.
//
// It builds a log/slog logger with:
//
//   - JSON (default) or text output
//   - a process-wide level that can be changed at runtime
//   - redaction of tokens, secrets and PKCE material in attributes
//
// Components take a *slog.Logger and default to slog.Default().
package logger
