package ringbuf

import (
	"sync"
	"testing"
	"time"

	"chartcore/internal/model"
)

func TestRing_BasicPushPop(t *testing.T) {
	r := New(4)

	if !r.Push(model.Tick{Timestamp: 1, Price: 100}) {
		t.Fatal("push 1 should succeed")
	}
	if !r.Push(model.Tick{Timestamp: 2, Price: 200}) {
		t.Fatal("push 2 should succeed")
	}
	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got, ok := r.Pop()
	if !ok || got.Price != 100 {
		t.Fatalf("expected price 100, got %v ok=%v", got.Price, ok)
	}
	got, ok = r.Pop()
	if !ok || got.Price != 200 {
		t.Fatalf("expected price 200, got %v ok=%v", got.Price, ok)
	}
	if _, ok = r.Pop(); ok {
		t.Fatal("pop from empty should return false")
	}
}

func TestRing_Overflow(t *testing.T) {
	r := New(2)

	r.Push(model.Tick{Timestamp: 1})
	r.Push(model.Tick{Timestamp: 2})

	if r.Push(model.Tick{Timestamp: 3}) {
		t.Fatal("push to full buffer should return false")
	}
	if r.Overflow() != 1 {
		t.Fatalf("expected overflow=1, got %d", r.Overflow())
	}
	// The dropped tick never shows up.
	first, _ := r.Pop()
	second, _ := r.Pop()
	if first.Timestamp != 1 || second.Timestamp != 2 {
		t.Fatalf("unexpected order %v, %v", first.Timestamp, second.Timestamp)
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New(4)

	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			if !r.Push(model.Tick{Price: float64(round*10 + i)}) {
				t.Fatalf("round %d push %d failed", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			tk, ok := r.Pop()
			if !ok {
				t.Fatalf("round %d pop %d failed", round, i)
			}
			if tk.Price != float64(round*10+i) {
				t.Fatalf("round %d pop %d: expected price=%d, got %v", round, i, round*10+i, tk.Price)
			}
		}
	}
}

func TestRing_Drain(t *testing.T) {
	r := New(8)
	for i := 0; i < 5; i++ {
		r.Push(model.Tick{Timestamp: float64(i)})
	}
	var seen []float64
	n := r.Drain(func(tk model.Tick) { seen = append(seen, tk.Timestamp) })
	if n != 5 || len(seen) != 5 {
		t.Fatalf("drained %d ticks, want 5", n)
	}
	for i, ts := range seen {
		if ts != float64(i) {
			t.Fatalf("index %d: got ts %v", i, ts)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("ring should be empty after drain, len=%d", r.Len())
	}
}

func TestRing_SPSC_Concurrent(t *testing.T) {
	const count = 100_000
	r := New(1024)

	var wg sync.WaitGroup
	wg.Add(2)

	// Producer
	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			for !r.Push(model.Tick{Timestamp: float64(i)}) {
				// spin-wait (busy loop for test only)
			}
		}
	}()

	// Consumer
	received := make([]float64, 0, count)
	go func() {
		defer wg.Done()
		for len(received) < count {
			if tk, ok := r.Pop(); ok {
				received = append(received, tk.Timestamp)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("SPSC test timed out")
	}

	for i, v := range received {
		if v != float64(i) {
			t.Fatalf("at index %d: expected %d, got %v", i, i, v)
		}
	}
}

func TestRing_NextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		if got := nextPow2(tc.in); got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if New(3).Cap() != 4 || New(0).Cap() != 2 {
		t.Error("capacity rounding")
	}
}
