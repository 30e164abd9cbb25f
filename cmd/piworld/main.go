// Command piworld approximates pi by the midpoint rule, distributing the
// subintervals across processors and combining the partial sums with one
// registered variable per processor and one sync, the same computation
// apps/pi_hivemind.go runs over HiveMind's page-based shared memory --
// here expressed directly in terms of Var and Image instead of
// Malloc/ReadFloat/WriteFloat.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"

	"github.com/dashaylan/bsp/bsp"
	"github.com/dashaylan/bsp/config"
	"github.com/dashaylan/bsp/transport/netpeer"
)

func f(x float64) float64 { return 4.0 / (1.0 + x*x) }

func main() {
	configPath := flag.String("config", "", "path to a config.Topology JSON file")
	pid := flag.Int("pid", 0, "this processor's id (coordinator only)")
	logPrefix := flag.String("gvec", "", "GoVector log file prefix; empty disables causal logging")
	n := flag.Int("n", 50000000, "number of subintervals")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("piworld: -config is required")
	}
	topo, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("piworld: loading config: %v", err)
	}

	myPID := *pid
	if !topo.IsCoordinator {
		myPID = topo.PID(topo.Coordinator)
		if myPID < 0 {
			myPID = *pid
		}
	}

	t, err := netpeer.Dial(myPID, topo, *logPrefix)
	if err != nil {
		log.Fatalf("piworld: dial: %v", err)
	}
	w := bsp.New(t)
	defer w.Close()
	w.SetDebug(3)

	p := w.ActiveProcessors()
	id := w.ProcessorID()

	// One Var per processor, registered identically everywhere: each
	// processor owns the slot matching its own id and puts its partial sum
	// into processor 0's copy of that slot. Var.Put overwrites rather than
	// accumulates, so the reduction itself happens on processor 0 after
	// the sync, by adding up every slot's value -- there is no collective
	// reduce operation in this core, only put/get.
	partials := make([]*bsp.Var[float64], p)
	for i := range partials {
		partials[i], err = bsp.NewVarWith[float64](w, 0)
		if err != nil {
			log.Fatalf("piworld: new var: %v", err)
		}
	}

	width := 1.0 / float64(*n)
	var mySum float64
	for i := id; i < *n; i += p {
		x := width * (float64(i) + 0.5)
		mySum += width * f(x)
	}

	img, err := partials[id].Image(0)
	if err != nil {
		log.Fatalf("piworld: image: %v", err)
	}
	if err := img.Put(mySum); err != nil {
		log.Fatalf("piworld: put: %v", err)
	}

	if err := w.Sync(); err != nil {
		log.Fatalf("piworld: sync: %v", err)
	}

	if id == 0 {
		var pi float64
		for _, v := range partials {
			pi += *v.Value()
		}
		const want = math.Pi
		fmt.Printf("pi ~= %.15f (error %.2e)\n", pi, math.Abs(pi-want))
	}
}
