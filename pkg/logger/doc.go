// Package logger builds the slog loggers used across apubsub engines and
// tools, and provides attribute helpers so every component names broker
// identifiers the same way (channel_id, subscription_id, message_id,
// queue_id, subscriber, engine).
//
// New creates a *slog.Logger from functional options: output format (json
// or text), minimum level, static attributes, and ContextExtractor callbacks
// run on every record by LogHandlerDecorator. FromConfig does the same from
// environment variables (APUBSUB_LOG_LEVEL, APUBSUB_LOG_FORMAT, APUBSUB_ENV,
// APUBSUB_SERVICE_NAME).
//
// # Usage
//
//	log := logger.New(logger.WithDevelopment("janitor"))
//	log.InfoContext(ctx, "message sent",
//	    logger.ChannelID("foo"),
//	    logger.MessageID(msg.ID),
//	)
//
// Error and Errors return an empty attribute for nil errors so they can be
// passed unconditionally:
//
//	log.Warn("garbage collection failed", logger.Error(err))
package logger
