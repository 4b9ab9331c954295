/*
Package log provides structured logging for backupd using zerolog.

It wraps zerolog to give every component a JSON- or console-formatted
logger with a consistent timestamp and component field, configured once
at startup via Init and handed out per-component via WithComponent.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("backup-manager")
	logger.Info().Str("set", "photos").Msg("backup started")

Daemon code should prefer a component logger over the package-level
helper functions (Info, Warn, ...), which log without a component field
and exist mainly for startup code that runs before any component logger
would make sense.
*/
package log
