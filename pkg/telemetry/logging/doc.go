// Package logging builds the gateway's zap logger.
//
// Every logger returned by New wraps its core in a redacting core, so
// provider credentials (sk- keys, bearer tokens, api_key fields) are masked
// in messages and field values before reaching the output:
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	logger.Info("provider added",
//	    zap.String("provider", "anthropic"),
//	    zap.String("api_key", key), // logged as "sk-a***"
//	)
//
// Request-scoped loggers are carried in the context:
//
//	ctx = logging.WithRequestID(ctx, id)
//	logging.FromContext(ctx, base).Info("routing") // includes request_id
package logging
