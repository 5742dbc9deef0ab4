// Package logger is a thin factory around log/slog with functional options,
// helper attribute constructors, and transparent injection of values stored
// in context.Context.
//
// New builds a *slog.Logger: it picks a text or JSON handler, applies static
// attributes, and wraps the handler in LogHandlerDecorator, which runs any
// registered ContextExtractor callbacks on every record so request-scoped
// values (like a request id) appear automatically.
//
// Helper constructors in attr.go keep attribute naming consistent across the
// codebase.
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Environment, "billingd"),
//	    logger.WithContextValue("request_id", middleware.RequestIDKey),
//	)
//	logger.SetAsDefault(log)
//
// Error and Errors produce attributes only for non-nil errors, so they are
// safe to pass unconditionally.
package logger
