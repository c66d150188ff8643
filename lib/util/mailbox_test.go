package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestBasicOperations tests push and pop order of a single producer
func TestBasicOperations(t *testing.T) {
	m := NewMailbox[int]()

	if _, ok := m.TryPop(); ok {
		t.Fatal("new mailbox should be empty")
	}

	for i := 0; i < 10; i++ {
		if !m.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}
	if m.Len() != 10 {
		t.Errorf("Len = %d, want 10", m.Len())
	}

	select {
	case <-m.Notify():
	default:
		t.Fatal("push should wake the consumer")
	}

	for i := 0; i < 10; i++ {
		v, ok := m.TryPop()
		if !ok || v != i {
			t.Fatalf("TryPop = %d,%v want %d", v, ok, i)
		}
	}
	if _, ok := m.TryPop(); ok {
		t.Error("mailbox should be empty")
	}
}

// TestConcurrentProducers verifies that every item of every producer arrives exactly once and that
// the items of one producer keep their order
func TestConcurrentProducers(t *testing.T) {
	m := NewMailbox[[2]int]()

	const numProducers = 10
	const itemsPerProducer = 1000

	var wg sync.WaitGroup
	for p := 0; p < numProducers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				m.Push([2]int{p, i})
			}
		}(p)
	}

	next := make([]int, numProducers)
	received := 0
	deadline := time.After(5 * time.Second)
	for received < numProducers*itemsPerProducer {
		v, ok := m.TryPop()
		if !ok {
			select {
			case <-m.Notify():
			case <-deadline:
				t.Fatalf("timeout after %d items", received)
			}
			continue
		}
		if v[1] != next[v[0]] {
			t.Fatalf("producer %d: got item %d, want %d", v[0], v[1], next[v[0]])
		}
		next[v[0]]++
		received++
	}
	wg.Wait()
}

// TestCloseDrains verifies that Close hands back queued items and that no accepted item is lost
// when producers race with Close
func TestCloseDrains(t *testing.T) {
	m := NewMailbox[int]()

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if m.Push(i) {
					accepted.Add(1)
				}
			}
		}()
	}

	popped := 0
	for popped < 100 {
		if _, ok := m.TryPop(); ok {
			popped++
		}
	}
	rest := m.Close()
	wg.Wait()

	if !m.IsClosed() {
		t.Error("mailbox should be closed")
	}
	if m.Push(1) {
		t.Error("push after close should fail")
	}
	if got := int64(popped + len(rest)); got != accepted.Load() {
		t.Errorf("popped %d + drained %d = %d, but %d pushes were accepted", popped, len(rest), got, accepted.Load())
	}
}
