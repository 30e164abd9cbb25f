// Command rotate is a minimal worked example of the BSP core runtime: each
// processor puts its own id into its right-hand neighbor's registered
// variable and, after one sync, prints what its left-hand neighbor put into
// it. It plays the same illustrative role apps/simple_program_drone1.go
// plays for HiveMind -- a handful of lines proving the cluster comes up and
// a superstep actually moves data.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/dashaylan/bsp/bsp"
	"github.com/dashaylan/bsp/config"
	"github.com/dashaylan/bsp/transport/netpeer"
)

func main() {
	configPath := flag.String("config", "", "path to a config.Topology JSON file")
	pid := flag.Int("pid", 0, "this processor's id (coordinator only)")
	logPrefix := flag.String("gvec", "", "GoVector log file prefix; empty disables causal logging")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("rotate: -config is required")
	}
	topo, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("rotate: loading config: %v", err)
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
		log.Fatalf("rotate: dial: %v", err)
	}
	w := bsp.New(t)
	defer w.Close()
	w.SetDebug(2)

	a, err := bsp.NewVar[int](w)
	if err != nil {
		log.Fatalf("rotate: new var: %v", err)
	}

	p := w.ActiveProcessors()
	right := (w.ProcessorID() + 1) % p
	left := (w.ProcessorID() - 1 + p) % p

	img, err := a.Image(right)
	if err != nil {
		log.Fatalf("rotate: image: %v", err)
	}
	if err := img.Put(w.ProcessorID()); err != nil {
		log.Fatalf("rotate: put: %v", err)
	}
	if err := w.Sync(); err != nil {
		log.Fatalf("rotate: sync: %v", err)
	}

	fmt.Printf("processor %d: neighbor %d put %d\n", w.ProcessorID(), left, *a.Value())
}
