package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeduplicatorCollapsesConcurrentCalls(t *testing.T) {
	t.Parallel()

	dedup := NewDeduplicator[int]()
	release := make(chan struct{})
	var executions int32

	var wg sync.WaitGroup
	results := make([]int, 5)
	dedupFlags := make([]bool, 5)
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, deduped, err := dedup.Do(context.Background(), "fp", func(context.Context) (int, error) {
				atomic.AddInt32(&executions, 1)
				<-release
				return 42, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = value
			dedupFlags[i] = deduped
		}()
	}

	// Give the followers a moment to pile up behind the leader.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&executions); got != 1 {
		t.Fatalf("op executed %d times, want 1", got)
	}
	leaderCount := 0
	for i := range results {
		if results[i] != 42 {
			t.Fatalf("result[%d] = %d, want 42", i, results[i])
		}
		if !dedupFlags[i] {
			leaderCount++
		}
	}
	if leaderCount != 1 {
		t.Fatalf("expected exactly one non-deduped caller, got %d", leaderCount)
	}
}

func TestDeduplicatorReplaysRecentSuccess(t *testing.T) {
	t.Parallel()

	dedup := NewDeduplicator[string]()
	current := time.Unix(1000, 0)
	dedup.now = func() time.Time { return current }

	first, deduped, err := dedup.Do(context.Background(), "fp", func(context.Context) (string, error) {
		return "created", nil
	})
	if err != nil || deduped || first != "created" {
		t.Fatalf("first call = (%q, %v, %v)", first, deduped, err)
	}

	second, deduped, err := dedup.Do(context.Background(), "fp", func(context.Context) (string, error) {
		t.Fatal("op must not run inside the replay window")
		return "", nil
	})
	if err != nil || !deduped || second != "created" {
		t.Fatalf("replay call = (%q, %v, %v), want cached result", second, deduped, err)
	}

	current = current.Add(replayTTL + time.Second)
	third, deduped, err := dedup.Do(context.Background(), "fp", func(context.Context) (string, error) {
		return "created again", nil
	})
	if err != nil || deduped || third != "created again" {
		t.Fatalf("post-expiry call = (%q, %v, %v), want fresh execution", third, deduped, err)
	}
}

func TestDeduplicatorDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	dedup := NewDeduplicator[string]()
	opErr := errors.New("insert failed")

	_, _, err := dedup.Do(context.Background(), "fp", func(context.Context) (string, error) {
		return "", opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("expected op error, got %v", err)
	}

	value, deduped, err := dedup.Do(context.Background(), "fp", func(context.Context) (string, error) {
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if deduped {
		t.Fatal("retry after failure must run op, not replay")
	}
	if value != "recovered" {
		t.Fatalf("retry value = %q, want %q", value, "recovered")
	}
}

func TestDeduplicatorFollowerHonorsContext(t *testing.T) {
	t.Parallel()

	dedup := NewDeduplicator[int]()
	release := make(chan struct{})
	leaderStarted := make(chan struct{})

	go func() {
		dedup.Do(context.Background(), "fp", func(context.Context) (int, error) {
			close(leaderStarted)
			<-release
			return 1, nil
		})
	}()

	<-leaderStarted
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := dedup.Do(ctx, "fp", func(context.Context) (int, error) {
		return 2, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	close(release)
}
