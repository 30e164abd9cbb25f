package bsp

import "testing"

// Scenario 6: queue rotation.
func TestQueueRotation(t *testing.T) {
	runAll(t, 4, func(t *testing.T, w *World) {
		q, err := NewQueue[int, int](w)
		if err != nil {
			t.Fatal(err)
		}
		img, err := q.Image(next(w))
		if err != nil {
			t.Fatal(err)
		}
		if err := img.Send(w.ProcessorID(), 1337); err != nil {
			t.Fatal(err)
		}
		if err := w.Sync(); err != nil {
			t.Fatal(err)
		}

		msgs := q.Messages()
		if len(msgs) != 1 {
			t.Fatalf("processor %d: inbox has %d entries, want 1", w.ProcessorID(), len(msgs))
		}
		if want := prev(w); msgs[0].Tag != want {
			t.Errorf("processor %d: tag=%d, want %d", w.ProcessorID(), msgs[0].Tag, want)
		}
		if msgs[0].Content != 1337 {
			t.Errorf("processor %d: content=%d, want 1337", w.ProcessorID(), msgs[0].Content)
		}
	})
}

// Scenario 7: multi-queue separation.
func TestMultiQueueSeparation(t *testing.T) {
	runAll(t, 3, func(t *testing.T, w *World) {
		q, err := NewQueue[int, int](w)
		if err != nil {
			t.Fatal(err)
		}
		q2, err := NewQueue[int, float64](w)
		if err != nil {
			t.Fatal(err)
		}

		dst := next(w)
		img, err := q.Image(dst)
		if err != nil {
			t.Fatal(err)
		}
		img2, err := q2.Image(dst)
		if err != nil {
			t.Fatal(err)
		}

		for i := 0; i < 3; i++ {
			if err := img.Send(w.ProcessorID(), i); err != nil {
				t.Fatal(err)
			}
			if err := img2.Send(w.ProcessorID(), float64(i)+0.5); err != nil {
				t.Fatal(err)
			}
		}
		if err := w.Sync(); err != nil {
			t.Fatal(err)
		}

		msgs := q.Messages()
		if len(msgs) != 3 {
			t.Fatalf("q has %d entries, want 3", len(msgs))
		}
		for i, m := range msgs {
			if m.Content != i {
				t.Errorf("q[%d].Content=%d, want %d", i, m.Content, i)
			}
		}

		msgs2 := q2.Messages()
		if len(msgs2) != 3 {
			t.Fatalf("q2 has %d entries, want 3", len(msgs2))
		}
		for i, m := range msgs2 {
			if m.Content != float64(i)+0.5 {
				t.Errorf("q2[%d].Content=%v, want %v", i, m.Content, float64(i)+0.5)
			}
		}
	})
}

// No leakage across supersteps: a message sent in superstep k is delivered
// by the Sync that closes superstep k, and is gone again by the time the
// next Sync completes.
func TestQueueNoLeakageAcrossSupersteps(t *testing.T) {
	runAll(t, 2, func(t *testing.T, w *World) {
		q, err := NewQueue[int, int](w)
		if err != nil {
			t.Fatal(err)
		}
		img, err := q.Image(next(w))
		if err != nil {
			t.Fatal(err)
		}

		if err := img.Send(0, 1); err != nil {
			t.Fatal(err)
		}
		if err := w.Sync(); err != nil { // superstep 0 -> 1
			t.Fatal(err)
		}
		if len(q.Messages()) != 1 {
			t.Fatalf("superstep 0's send did not appear in the inbox after the sync that closed superstep 0")
		}

		if err := w.Sync(); err != nil { // superstep 1 -> 2
			t.Fatal(err)
		}
		if len(q.Messages()) != 0 {
			t.Fatalf("superstep 0's send leaked into superstep 1's inbox")
		}

		if err := w.Sync(); err != nil { // superstep 2 -> 3
			t.Fatal(err)
		}
		if len(q.Messages()) != 0 {
			t.Fatalf("superstep 0's send leaked into superstep 2's inbox")
		}
	})
}
