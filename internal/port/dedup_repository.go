package port

import "context"

// Deduplicator caches keys of events that already reached a terminal outcome.
// It is a shortcut only; the unit of work is the source of truth.
type Deduplicator interface {
	// Seen reports whether key was remembered
	Seen(ctx context.Context, key string) (bool, error)

	// Remember stores key once its event is finished
	Remember(ctx context.Context, key string) error
}
