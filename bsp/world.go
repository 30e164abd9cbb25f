// Package bsp implements the core of a bulk-synchronous parallel runtime:
// registered variables, futures, message queues, and the superstep barrier
// protocol that binds them. It is the Go analogue of the reference bulk
// library's <bulk/world.hpp>, <bulk/variable.hpp>, <bulk/future.hpp>, and
// the MPI/shmem world_provider backends, wired to a pluggable
// transport.T instead of MPI or raw shared memory -- the same role
// hivemind.HM plays over ipc/tipc, minus the page-based DSM machinery this
// core does not need.
package bsp

import (
	"fmt"

	"github.com/dashaylan/bsp/transport"
)

// locationHandler lets World apply an incoming put or serve an incoming
// get without knowing the registered variable's value type.
type locationHandler interface {
	size() int
	applyPut(byteOffset uint64, data []byte)
	readBytes(byteOffset uint64, n int) []byte
}

// queueHandler lets World deliver an incoming message without knowing the
// queue's tag/content types.
type queueHandler interface {
	deliver(tagBytes, contentBytes []byte) error
	clearInbox()
}

// World is the per-processor facade described in spec.md section 4.1: it
// owns the registration table, the put/get/send accounting, the queue
// registry, and drives Sync. It is the Go analogue of hivemind.HM, scoped
// down to the four core subsystems.
//
// A World is not safe for concurrent use: all Put/Get/Send/Sync calls must
// come from one goroutine, matching spec.md section 5's single-threaded-
// per-processor model.
type World struct {
	t transport.T

	debugLevel int

	locations   map[int]locationHandler
	nextVarID   int
	queues      map[int]queueHandler
	nextQueueID int

	putCounts []int
	getCounts []int
	msgCounts []int
	localGets int

	pendingGets map[uint64]func([]byte)
	nextTarget  uint64

	closed bool
}

// New wraps a transport.T in a World ready for registering variables and
// queues. It performs no I/O and no barrier.
func New(t transport.T) *World {
	p := t.ActiveProcessors()
	return &World{
		t:           t,
		locations:   make(map[int]locationHandler),
		queues:      make(map[int]queueHandler),
		putCounts:   make([]int, p),
		getCounts:   make([]int, p),
		msgCounts:   make([]int, p),
		pendingGets: make(map[uint64]func([]byte)),
	}
}

// ActiveProcessors returns P, the number of active processors.
func (w *World) ActiveProcessors() int { return w.t.ActiveProcessors() }

// ProcessorID returns s, this processor's id in [0, P).
func (w *World) ProcessorID() int { return w.t.ProcessorID() }

// SetDebug sets the debug verbosity level, mirroring HM.SetDebug. The level
// is used only by the core and is not passed to the transport: at level 4
// or above Sync prints a trace line at each of its three barriers, and
// below 4 nothing is printed.
func (w *World) SetDebug(level int) { w.debugLevel = level }

func (w *World) logDebug(format string, a ...interface{}) {
	if w.debugLevel >= 4 {
		fmt.Printf("[%d] "+format+"\n", append([]interface{}{w.ProcessorID()}, a...)...)
	}
}

// Close tears down the World. After Close, every World operation that
// communicates or registers (Sync, Barrier, NewVar, NewQueue, Put, Get,
// Broadcast, Send, Var.Close) returns WorldGone. Var.Value and
// Queue.Messages only touch local state and do not report WorldGone.
func (w *World) Close() error {
	w.closed = true
	return w.t.Close()
}

// Barrier is a pure synchronization point with no pending communication --
// the same operation as Sync when nothing was scheduled, exposed under a
// name that reads naturally at call sites that aren't about communication.
// Mirrors HM.Barrier's role, though here it is Sync under another name
// rather than a distinct lock-manager protocol.
func (w *World) Barrier() error { return w.Sync() }

func (w *World) checkProcessor(t int) error {
	if t < 0 || t >= w.ActiveProcessors() {
		return BadProcessor(t)
	}
	return nil
}

func (w *World) registerLocation(h locationHandler) (int, error) {
	if w.closed {
		return 0, WorldGone{}
	}
	id := w.nextVarID
	w.nextVarID++
	w.locations[id] = h
	return id, nil
}

// unregisterLocation deregisters id. Per spec.md section 4.2 this is
// collective and embeds a barrier, so that any put or get in flight against
// the cell has already been drained before the entry disappears.
func (w *World) unregisterLocation(id int) error {
	if w.closed {
		return WorldGone{}
	}
	if err := w.Barrier(); err != nil {
		return err
	}
	delete(w.locations, id)
	return nil
}

func (w *World) registerQueue(h queueHandler) (int, error) {
	if w.closed {
		return 0, WorldGone{}
	}
	id := w.nextQueueID
	w.nextQueueID++
	w.queues[id] = h
	return id, nil
}

func (w *World) put(dst, varID int, data []byte) error {
	if w.closed {
		return WorldGone{}
	}
	if err := w.checkProcessor(dst); err != nil {
		return err
	}
	frame := encodeVarPut(int32(varID), 0, data)
	if err := w.t.SendBytes(dst, transport.VarPut, frame); err != nil {
		return TransportFailure{Op: "put", Err: err}
	}
	w.putCounts[dst]++
	return nil
}

func (w *World) scheduleGet(dst, varID int, elemSize uint64, setter func([]byte)) error {
	if w.closed {
		return WorldGone{}
	}
	if err := w.checkProcessor(dst); err != nil {
		return err
	}
	target := w.nextTarget
	w.nextTarget++
	w.pendingGets[target] = setter

	frame := encodeVarGetRequest(int32(varID), 0, 1, elemSize, target)
	if err := w.t.SendBytes(dst, transport.VarGetRequest, frame); err != nil {
		delete(w.pendingGets, target)
		return TransportFailure{Op: "get", Err: err}
	}
	w.getCounts[dst]++
	w.localGets++
	return nil
}

func (w *World) send(queueID, dst int, tagBytes, contentBytes []byte) error {
	if w.closed {
		return WorldGone{}
	}
	if err := w.checkProcessor(dst); err != nil {
		return err
	}
	frame := encodeMessage(int32(queueID), tagBytes, contentBytes)
	if err := w.t.SendBytes(dst, transport.Message, frame); err != nil {
		return TransportFailure{Op: "send", Err: err}
	}
	w.msgCounts[dst]++
	return nil
}
