// Package httpserver wraps net/http's Server with environment-driven
// configuration, graceful shutdown on context cancellation or OS signals,
// and health probe handlers.
//
//	cfg := config.MustLoad[httpserver.Config]()
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//	    log.Error("server stopped", logger.Error(err))
//	}
package httpserver
