// Package redis provides helpers for connecting to a Redis server.
//
// Connect establishes a client from a Config (typically populated from
// environment variables via github.com/caarlos0/env) and retries the initial
// ping according to the retry settings. Healthcheck returns a probe function
// suitable for liveness and readiness endpoints.
//
//	cfg := redis.Config{ConnectionURL: "redis://localhost:6379/0"}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package redis
