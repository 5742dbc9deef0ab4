package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	mu      sync.RWMutex
	loaded  = make(map[string]any)
	parsing = make(map[string]*sync.Once)

	dotenvOnce sync.Once
)

// Load fills v from environment variables according to its `env` struct
// tags. A .env file, when present, is loaded into the process environment on
// the first call. Each config type is parsed exactly once per process;
// later calls for the same type return the cached value, so different
// components can load the same config independently.
func Load[T any](v *T) error {
	dotenvOnce.Do(func() {
		// Missing .env is fine; real deployments use the environment.
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}

	key := typeKey[T]()

	mu.RLock()
	cached, ok := loaded[key]
	mu.RUnlock()
	if ok {
		*v = cached.(T)
		return nil
	}

	mu.Lock()
	once, ok := parsing[key]
	if !ok {
		once = new(sync.Once)
		parsing[key] = once
	}
	mu.Unlock()

	var parseErr error
	once.Do(func() {
		if err := env.Parse(v); err != nil {
			parseErr = errors.Join(ErrParsingConfig, err)
			return
		}
		mu.Lock()
		loaded[key] = *v
		mu.Unlock()
	})
	if parseErr != nil {
		return parseErr
	}

	// Concurrent callers that lost the once race read the winner's value.
	mu.RLock()
	cached, ok = loaded[key]
	mu.RUnlock()
	if !ok {
		return ErrConfigNotLoaded
	}
	*v = cached.(T)
	return nil
}

// MustLoad is Load for configs the process cannot start without; it panics
// on failure.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

func typeKey[T any]() string {
	t := reflect.TypeOf(*new(T))
	if t == nil {
		return fmt.Sprintf("%T", *new(T))
	}
	return t.String()
}
