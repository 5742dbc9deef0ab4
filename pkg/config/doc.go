// Package config loads application configuration from environment variables
// into typed structs.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11: the
// default .env file is loaded once per process (missing files are fine), then
// env.Parse populates any struct annotated with `env` tags. Each
// configuration type is parsed at most once and cached by type name, so
// repeated Load calls across packages are cheap and always agree.
//
//	type PGConfig struct {
//	    ConnURL string `env:"PG_CONN_URL,required"`
//	    MaxConns int   `env:"PG_MAX_CONNS" envDefault:"10"`
//	}
//
//	var cfg PGConfig
//	config.MustLoad(&cfg)
//
// Sentinel errors (ErrParsingConfig, ErrConfigNotLoaded, ErrNilPointer) can
// be compared with errors.Is.
package config
