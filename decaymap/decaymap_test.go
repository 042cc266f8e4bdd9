package decaymap

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type clock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)}
}

func TestImpl(t *testing.T) {
	clk := newClock()
	dm := New[string, string](WithClock(clk.Now))

	if !dm.Now().Equal(clk.Now()) {
		t.Errorf("wanted map clock %s, got: %s", clk.Now(), dm.Now())
	}

	dm.Set("test", "hi", 5*time.Minute)

	if n := dm.Len(); n != 1 {
		t.Errorf("wanted 1 entry, got: %d", n)
	}

	var seen string
	if got := dm.Consume("test", func(v string) bool { seen = v; return true }); got != Consumed {
		t.Errorf("wanted %s, got: %s", Consumed, got)
	}

	if seen != "hi" {
		t.Errorf("wanted value %q, got: %q", "hi", seen)
	}

	dm.Set("test", "hi", time.Minute)
	clk.Advance(time.Minute + time.Second)

	if got := dm.Consume("test", func(string) bool { return true }); got != Expired {
		t.Errorf("wanted %s, got: %s", Expired, got)
	}

	if n := dm.Len(); n != 0 {
		t.Errorf("expired entry should have been removed, %d entries left", n)
	}
}

func TestConsume(t *testing.T) {
	for _, tt := range []struct {
		name    string
		setup   func(dm *Impl[string, string], clk *clock)
		guess   string
		want    Outcome
		wantLen int
	}{
		{
			name:  "missing",
			setup: func(*Impl[string, string], *clock) {},
			guess: "x",
			want:  Missing,
		},
		{
			name: "expired",
			setup: func(dm *Impl[string, string], clk *clock) {
				dm.Set("key", "x", time.Second)
				clk.Advance(2 * time.Second)
			},
			guess: "x",
			want:  Expired,
		},
		{
			name: "mismatch keeps entry",
			setup: func(dm *Impl[string, string], clk *clock) {
				dm.Set("key", "x", time.Minute)
			},
			guess:   "y",
			want:    Mismatch,
			wantLen: 1,
		},
		{
			name: "consumed",
			setup: func(dm *Impl[string, string], clk *clock) {
				dm.Set("key", "x", time.Minute)
			},
			guess: "x",
			want:  Consumed,
		},
		{
			name: "exactly at expiry is still live",
			setup: func(dm *Impl[string, string], clk *clock) {
				dm.Set("key", "x", time.Minute)
				clk.Advance(time.Minute)
			},
			guess: "x",
			want:  Consumed,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			clk := newClock()
			dm := New[string, string](WithClock(clk.Now))
			tt.setup(dm, clk)

			got := dm.Consume("key", func(v string) bool { return v == tt.guess })
			if got != tt.want {
				t.Errorf("wanted outcome %s, got: %s", tt.want, got)
			}

			if n := dm.Len(); n != tt.wantLen {
				t.Errorf("wanted %d entries left, got: %d", tt.wantLen, n)
			}
		})
	}
}

func TestConsumeAtMostOnce(t *testing.T) {
	dm := New[string, int](WithShards(4))

	const keys = 64
	const workers = 16

	for i := range keys {
		dm.Set(fmt.Sprintf("key-%d", i), i, time.Minute)
	}

	var wins [keys]atomic.Int32
	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range keys {
				if dm.Consume(fmt.Sprintf("key-%d", i), func(v int) bool { return v == i }) == Consumed {
					wins[i].Add(1)
				}
			}
		}()
	}

	wg.Wait()

	for i := range keys {
		if n := wins[i].Load(); n != 1 {
			t.Errorf("key-%d was consumed %d times, wanted exactly once", i, n)
		}
	}
}

func TestCleanup(t *testing.T) {
	clk := newClock()
	dm := New[string, string](WithClock(clk.Now), WithShards(3))

	dm.Set("short-1", "a", time.Second)
	dm.Set("short-2", "b", time.Second)
	dm.Set("long", "c", time.Hour)

	if n := dm.Cleanup(); n != 0 {
		t.Errorf("nothing has expired yet but %d entries were removed", n)
	}

	clk.Advance(time.Minute)

	if n := dm.Cleanup(); n != 2 {
		t.Errorf("wanted 2 expired entries removed, got: %d", n)
	}

	if n := dm.Cleanup(); n != 0 {
		t.Errorf("cleanup is not idempotent, second pass removed %d", n)
	}

	if got := dm.Consume("long", func(string) bool { return false }); got != Mismatch {
		t.Errorf("live entry was removed by cleanup: %s", got)
	}
}

func TestCleanupConcurrentWithWriters(t *testing.T) {
	dm := New[string, int]()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				dm.Cleanup()
			}
		}
	}()

	for i := range 1000 {
		key := fmt.Sprintf("k%d", i)
		dm.Set(key, i, time.Minute)
		if got := dm.Consume(key, func(v int) bool { return v == i }); got != Consumed {
			t.Errorf("%s: wanted consumed, got: %s", key, got)
		}
	}

	close(stop)
	wg.Wait()
}
