/*
Package log provides structured logging for Coldstore built on zerolog.

Init configures the global logger once at process start (level, JSON or
console output); components then derive child loggers carrying stable
fields:

	logger := log.WithComponent("orchestrator")
	logger.Info().Str("mirror_id", id).Msg("pushing sync instruction")

JSON output is for production scraping, the console writer for local
development. Helper functions (Info, Warn, Errorf, ...) cover one-off
messages that don't warrant a child logger.
*/
package log
