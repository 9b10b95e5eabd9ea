package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const detachedTimeout = 15 * time.Second

// fireAndForget runs op in its own goroutine with a fresh bounded context.
// The triggering request never waits for it and never sees its error; a
// failure is logged under the given name and dropped.
func fireAndForget(name string, op func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), detachedTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("task", name).Msg("detached task panicked")
			}
		}()
		if err := op(ctx); err != nil {
			log.Warn().Err(err).Str("task", name).Msg("detached task failed")
		}
	}()
}
