package bsp

import (
	"sync"
	"testing"

	"github.com/dashaylan/bsp/transport/local"
)

// runAll spawns one goroutine per processor, each running fn against its
// own World, and waits for all of them to finish. Any error reported by fn
// fails the test. This matches the way hivemind_test.go drives HM against
// tipc: every simulated drone is a goroutine sharing one test process.
func runAll(t *testing.T, p int, fn func(t *testing.T, w *World)) {
	t.Helper()
	ts := local.New(p)
	worlds := make([]*World, p)
	for i, tp := range ts {
		worlds[i] = New(tp)
	}

	var wg sync.WaitGroup
	for i := 0; i < p; i++ {
		wg.Add(1)
		go func(w *World) {
			defer wg.Done()
			fn(t, w)
		}(worlds[i])
	}
	wg.Wait()
}

func next(w *World) int { return (w.ProcessorID() + 1) % w.ActiveProcessors() }
func prev(w *World) int { return (w.ProcessorID() - 1 + w.ActiveProcessors()) % w.ActiveProcessors() }

// Scenario 1: rotate-put.
func TestRotatePut(t *testing.T) {
	runAll(t, 4, func(t *testing.T, w *World) {
		a, err := NewVar[int](w)
		if err != nil {
			t.Fatal(err)
		}
		img, err := a.Image(next(w))
		if err != nil {
			t.Fatal(err)
		}
		if err := img.Put(w.ProcessorID()); err != nil {
			t.Fatal(err)
		}
		if err := w.Sync(); err != nil {
			t.Fatal(err)
		}
		want := prev(w)
		if got := *a.Value(); got != want {
			t.Errorf("processor %d: a.Value()=%d, want %d", w.ProcessorID(), got, want)
		}
	})
}

// Scenario 2: self put.
func TestSelfPut(t *testing.T) {
	runAll(t, 4, func(t *testing.T, w *World) {
		a, err := NewVar[int](w)
		if err != nil {
			t.Fatal(err)
		}
		img, err := a.Image(w.ProcessorID())
		if err != nil {
			t.Fatal(err)
		}
		if err := img.Put(w.ProcessorID()); err != nil {
			t.Fatal(err)
		}
		if err := w.Sync(); err != nil {
			t.Fatal(err)
		}
		if got := *a.Value(); got != w.ProcessorID() {
			t.Errorf("processor %d: a.Value()=%d, want %d", w.ProcessorID(), got, w.ProcessorID())
		}
	})
}

// Scenario 3: deferred get across rotation.
func TestDeferredGetAcrossRotation(t *testing.T) {
	runAll(t, 4, func(t *testing.T, w *World) {
		b, err := NewVar[int](w)
		if err != nil {
			t.Fatal(err)
		}
		*b.Value() = w.ProcessorID()
		if err := w.Sync(); err != nil {
			t.Fatal(err)
		}

		img, err := b.Image(next(w))
		if err != nil {
			t.Fatal(err)
		}
		c, err := img.Get()
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Sync(); err != nil {
			t.Fatal(err)
		}
		got, err := c.Value()
		if err != nil {
			t.Fatal(err)
		}
		if want := next(w); got != want {
			t.Errorf("processor %d: c.Value()=%d, want %d", w.ProcessorID(), got, want)
		}
	})
}

// Scenario 4: multi-get same source.
func TestMultiGetSameSource(t *testing.T) {
	runAll(t, 4, func(t *testing.T, w *World) {
		b, err := NewVar[int](w)
		if err != nil {
			t.Fatal(err)
		}
		*b.Value() = w.ProcessorID()
		if err := w.Sync(); err != nil {
			t.Fatal(err)
		}

		img, err := b.Image(next(w))
		if err != nil {
			t.Fatal(err)
		}
		var ys [5]*Future[int]
		for i := range ys {
			ys[i], err = img.Get()
			if err != nil {
				t.Fatal(err)
			}
		}
		if err := w.Sync(); err != nil {
			t.Fatal(err)
		}
		want := next(w)
		for i, y := range ys {
			got, err := y.Value()
			if err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Errorf("processor %d: y[%d]=%d, want %d", w.ProcessorID(), i, got, want)
			}
		}
	})
}

// Scenario 5: heterogeneous puts then get.
func TestHeterogeneousPutsThenGet(t *testing.T) {
	const size = 5
	runAll(t, 3, func(t *testing.T, w *World) {
		p := w.ActiveProcessors()
		var xs [size]*Var[int]
		var err error
		for j := 0; j < size; j++ {
			xs[j], err = NewVar[int](w)
			if err != nil {
				t.Fatal(err)
			}
		}

		if w.ProcessorID() == 0 {
			for i := 1; i < p; i++ {
				for j := 0; j < size; j++ {
					img, err := xs[j].Image(i)
					if err != nil {
						t.Fatal(err)
					}
					if err := img.Put(i); err != nil {
						t.Fatal(err)
					}
				}
			}
		}
		if err := w.Sync(); err != nil {
			t.Fatal(err)
		}

		if w.ProcessorID() == 0 {
			img, err := xs[size-1].Image(p - 1)
			if err != nil {
				t.Fatal(err)
			}
			a, err := img.Get()
			if err != nil {
				t.Fatal(err)
			}
			if err := w.Sync(); err != nil {
				t.Fatal(err)
			}
			got, err := a.Value()
			if err != nil {
				t.Fatal(err)
			}
			if got != p-1 {
				t.Errorf("a.Value()=%d, want %d", got, p-1)
			}
		} else {
			if err := w.Sync(); err != nil {
				t.Fatal(err)
			}
		}
	})
}

// Idempotence of an empty sync: no pending work, no observable change.
func TestEmptySyncIsPureBarrier(t *testing.T) {
	runAll(t, 3, func(t *testing.T, w *World) {
		a, err := NewVarWith[int](w, 42)
		if err != nil {
			t.Fatal(err)
		}
		q, err := NewQueue[int, int](w)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Sync(); err != nil {
			t.Fatal(err)
		}
		if got := *a.Value(); got != 42 {
			t.Errorf("a.Value()=%d, want 42", got)
		}
		if len(q.Messages()) != 0 {
			t.Errorf("q.Messages() has %d entries, want 0", len(q.Messages()))
		}
	})
}

func TestImageOutOfRangeFails(t *testing.T) {
	runAll(t, 3, func(t *testing.T, w *World) {
		a, err := NewVar[int](w)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := a.Image(w.ActiveProcessors()); err == nil {
			t.Fatal("expected BadProcessor, got nil")
		} else if _, ok := err.(BadProcessor); !ok {
			t.Fatalf("expected BadProcessor, got %T: %v", err, err)
		}
	})
}

func TestFutureNotReadyBeforeSync(t *testing.T) {
	runAll(t, 2, func(t *testing.T, w *World) {
		a, err := NewVar[int](w)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Sync(); err != nil {
			t.Fatal(err)
		}
		img, err := a.Image(next(w))
		if err != nil {
			t.Fatal(err)
		}
		fut, err := img.Get()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fut.Value(); err == nil {
			t.Fatal("expected NotReady before sync")
		} else if _, ok := err.(NotReady); !ok {
			t.Fatalf("expected NotReady, got %T: %v", err, err)
		}
		if err := w.Sync(); err != nil {
			t.Fatal(err)
		}
	})
}
