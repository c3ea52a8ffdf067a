package main

import (
	"fmt"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/queue"

	"github.com/rs/zerolog"
)

// openCache opens the partition storage. The db name `memory` gives an in-memory db.
func openCache(fc FileConfig) (cache.CacheProvider, error) {
	if fc.DB == "memory" {
		return cache.NewMemCache(), nil
	}
	return cache.NewSQLiteCache(fc.DB)
}

// openQueue opens the mutation queue of the configured provider.
func openQueue(fc FileConfig, logger zerolog.Logger) (queue.Queue, error) {
	switch fc.Queue.Provider {
	case "sqlite", "":
		return queue.NewSQLiteQueue(fc.Queue.Path)
	case "badger":
		return queue.NewBadgerQueue(fc.Queue.Path, logger.With().Str("component", "badger").Logger())
	case "memory":
		return queue.NewMemQueue(), nil
	}
	return nil, fmt.Errorf("unsupported queue provider: %s", fc.Queue.Provider)
}
