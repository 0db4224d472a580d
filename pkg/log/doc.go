/*
Package log provides structured logging for Burrow using zerolog.

The package wraps zerolog with a global logger, configurable level and
output, and child-logger helpers for the fields the coordinator tags
everywhere: component, work correlation id (work-<id>), VM, host and
peer. Every work execution logs through WithWorkID so one recovery's
lines can be pulled out of a busy peer's output.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("ha")
	logger.Info().Msg("ha coordinator started")

	wlog := log.WithWorkID(work.ID)
	wlog.Info().Str("work_type", "ha").Msg("processing work")
*/
package log
