package local

import (
	"sync"
	"testing"

	"github.com/dashaylan/bsp/transport"
)

func TestBarrierReleasesAllProcessors(t *testing.T) {
	ts := New(4)
	var wg sync.WaitGroup
	var mu sync.Mutex
	order := make([]int, 0, 4)

	for _, tp := range ts {
		wg.Add(1)
		go func(tp transport.T) {
			defer wg.Done()
			tp.Barrier()
			mu.Lock()
			order = append(order, tp.ProcessorID())
			mu.Unlock()
		}(tp)
	}
	wg.Wait()

	if len(order) != 4 {
		t.Fatalf("expected 4 processors past the barrier, got %d", len(order))
	}
}

func TestReduceScatterSum(t *testing.T) {
	ts := New(3)
	// Processor i sends (i+1) items to every processor, itself included.
	results := make([]int, 3)
	var wg sync.WaitGroup
	for _, tp := range ts {
		wg.Add(1)
		go func(tp transport.T) {
			defer wg.Done()
			counts := []int{tp.ProcessorID() + 1, tp.ProcessorID() + 1, tp.ProcessorID() + 1}
			sum, err := tp.ReduceScatterSum(counts)
			if err != nil {
				t.Errorf("reduce-scatter: %v", err)
			}
			results[tp.ProcessorID()] = sum
		}(tp)
	}
	wg.Wait()

	// Every processor receives (1+2+3) = 6 regardless of its own id since
	// each sender contributes the same count to every destination here.
	for pid, got := range results {
		if got != 6 {
			t.Errorf("processor %d: got sum %d, want 6", pid, got)
		}
	}
}

func TestSendRecvPerSenderFIFO(t *testing.T) {
	ts := New(2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			ts[0].SendBytes(1, transport.Message, []byte{byte(i)})
		}
	}()
	wg.Wait()

	for i := 0; i < 5; i++ {
		f, err := ts[1].RecvAny(transport.Message)
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if f.Src != 0 || f.Data[0] != byte(i) {
			t.Fatalf("frame %d: got src=%d data=%v", i, f.Src, f.Data)
		}
	}
}
