// Package logging builds the structured logger used by the TieDie demo.
//
// It wraps log/slog with a JSON or text handler and stamps every entry with
// the service name and version:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("connected", "device_id", id)
//
// New returns a *Logger, which embeds *slog.Logger and so satisfies the
// Logger interfaces of the nipc and telemetry packages. Never log API keys
// or tokens.
package logging
