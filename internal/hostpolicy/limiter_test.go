package hostpolicy

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestWaitEnforcesMinimumDelay(t *testing.T) {
	l := NewLimiter(RateSettings{})
	ctx := context.Background()

	if err := l.Wait(ctx, "example.com", 50*time.Millisecond); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "example.com", 50*time.Millisecond); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("expected second request to wait ~50ms, waited %s", elapsed)
	}
}

func TestWaitDistinctHostsDoNotContend(t *testing.T) {
	l := NewLimiter(RateSettings{})
	ctx := context.Background()

	if err := l.Wait(ctx, "a.example.com", time.Second); err != nil {
		t.Fatalf("wait a: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "b.example.com", time.Second); err != nil {
		t.Fatalf("wait b: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("expected no delay for a different host, waited %s", elapsed)
	}
}

func TestWaitZeroDelayReturnsImmediately(t *testing.T) {
	l := NewLimiter(RateSettings{})
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := l.Wait(context.Background(), "example.com", 0); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("expected no waiting with zero delay, waited %s", elapsed)
	}
}

func TestWaitHostCaseInsensitive(t *testing.T) {
	l := NewLimiter(RateSettings{})
	ctx := context.Background()

	if err := l.Wait(ctx, "Example.COM", 50*time.Millisecond); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "example.com", 50*time.Millisecond); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("expected case-folded hosts to share state, waited %s", elapsed)
	}
}

func TestWaitConcurrentSameHostSerializes(t *testing.T) {
	l := NewLimiter(RateSettings{})
	ctx := context.Background()
	const delay = 60 * time.Millisecond
	const workers = 4

	var (
		mu         sync.Mutex
		admissions []time.Time
		start      = make(chan struct{})
		wg         sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := l.Wait(ctx, "shared.example.com", delay); err != nil {
				t.Errorf("wait: %v", err)
				return
			}
			mu.Lock()
			admissions = append(admissions, time.Now())
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	sort.Slice(admissions, func(i, j int) bool { return admissions[i].Before(admissions[j]) })
	for i := 1; i < len(admissions); i++ {
		if gap := admissions[i].Sub(admissions[i-1]); gap < delay-10*time.Millisecond {
			t.Errorf("admissions %d and %d only %s apart, want >= %s", i-1, i, gap, delay)
		}
	}
}

func TestWaitCancelledContext(t *testing.T) {
	l := NewLimiter(RateSettings{})
	ctx := context.Background()
	if err := l.Wait(ctx, "example.com", time.Hour); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := l.Wait(cancelled, "example.com", time.Hour); err == nil {
		t.Fatal("expected context error, got nil")
	}
}

func TestTokenBucketThrottles(t *testing.T) {
	l := NewLimiter(RateSettings{Requests: 2, Window: 200 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := l.Wait(ctx, "example.com", 0); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	// Burst of 2 admitted immediately, then one token per 100ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("expected bucket to throttle 4 requests, took %s", elapsed)
	}
}
