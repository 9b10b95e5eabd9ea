package services

import (
	"context"
	"sync"
	"time"
)

// replayTTL is how long a settled creation result is replayed to identical
// retries after the original request completed.
const replayTTL = 12 * time.Second

type inflightEntry[V any] struct {
	done  chan struct{}
	value V
	err   error
}

type replayEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// Deduplicator collapses concurrent and near-in-time duplicate creation
// attempts that share a fingerprint. A follower arriving while the leader is
// still running awaits the leader's outcome; one arriving shortly after a
// success gets the cached result. Both are reported as deduplicated.
//
// This is a process-local optimization only. Store-level unique constraints
// remain the correctness backstop across instances.
type Deduplicator[V any] struct {
	mu       sync.Mutex
	inflight map[string]*inflightEntry[V]
	replay   map[string]replayEntry[V]
	now      func() time.Time
}

// NewDeduplicator creates an empty deduplicator.
func NewDeduplicator[V any]() *Deduplicator[V] {
	return &Deduplicator[V]{
		inflight: make(map[string]*inflightEntry[V]),
		replay:   make(map[string]replayEntry[V]),
		now:      time.Now,
	}
}

// Do executes op under the fingerprint key. The boolean result is true when
// the returned value came from another request's execution rather than op.
// Only successful results enter the replay cache; failures release the key
// immediately so a genuine retry can run.
func (d *Deduplicator[V]) Do(ctx context.Context, key string, op func(ctx context.Context) (V, error)) (V, bool, error) {
	d.mu.Lock()
	d.pruneLocked()

	if cached, ok := d.replay[key]; ok {
		d.mu.Unlock()
		return cached.value, true, nil
	}
	if leader, ok := d.inflight[key]; ok {
		d.mu.Unlock()
		select {
		case <-leader.done:
			return leader.value, true, leader.err
		case <-ctx.Done():
			var zero V
			return zero, false, ctx.Err()
		}
	}

	entry := &inflightEntry[V]{done: make(chan struct{})}
	d.inflight[key] = entry
	d.mu.Unlock()

	value, err := op(ctx)

	d.mu.Lock()
	entry.value, entry.err = value, err
	delete(d.inflight, key)
	if err == nil {
		d.replay[key] = replayEntry[V]{value: value, expiresAt: d.now().Add(replayTTL)}
	}
	d.mu.Unlock()
	close(entry.done)

	return value, false, err
}

// pruneLocked drops expired replay entries. Called with mu held; there is no
// background sweeper.
func (d *Deduplicator[V]) pruneLocked() {
	now := d.now()
	for key, entry := range d.replay {
		if now.After(entry.expiresAt) {
			delete(d.replay, key)
		}
	}
}
