package keymutex

import (
	"sync"
	"testing"
)

func TestSerializesSameKey(t *testing.T) {
	t.Parallel()
	km := New()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Do("member-1", func() {
				counter++
			})
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestReleasesIdleEntries(t *testing.T) {
	t.Parallel()
	km := New()

	km.Lock("a")
	km.Unlock("a")
	km.Do("b", func() {})

	km.mu.Lock()
	n := len(km.entries)
	km.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected empty entry map, got %d entries", n)
	}
}

func TestIndependentKeysDoNotBlock(t *testing.T) {
	t.Parallel()
	km := New()

	km.Lock("a")
	done := make(chan struct{})
	go func() {
		km.Do("b", func() {})
		close(done)
	}()
	<-done
	km.Unlock("a")
}
