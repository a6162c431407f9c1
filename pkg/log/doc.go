/*
Package log provides structured logging for Burrow built on zerolog.

Call Init once at startup, then use the global Logger or the With* helpers
to create component-scoped child loggers:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("scheduler")
	logger.Info().Str("service", name).Int("deficit", d).Msg("placing tasks")
*/
package log
