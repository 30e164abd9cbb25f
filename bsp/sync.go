package bsp

import "github.com/dashaylan/bsp/transport"

// Sync is the superstep driver from spec.md section 4.6: it drains every
// put, get, and message scheduled since the last Sync, then opens the next
// superstep. It is the Go analogue of the MPI world_provider's sync() and
// of the seven-step pseudocode that follows it in that file -- the phase
// comments below use the same numbering as spec.md.
func (w *World) Sync() error {
	if w.closed {
		return WorldGone{}
	}

	// Message inboxes are cleared at the *start* of the superstep whose
	// sync is about to deliver into them, per spec.md section 4.4.
	for _, q := range w.queues {
		q.clearInbox()
	}

	w.logDebug("sync: barrier-in")
	w.t.Barrier() // 1. Barrier-in.

	// 2. Count exchange. Messages are pre-counted exactly like puts and
	// gets (the Open Question in spec.md section 9 resolved in favor of
	// pre-counting, recorded in DESIGN.md), so all three exchanges share
	// one pattern.
	remotePuts, err := w.t.ReduceScatterSum(w.putCounts)
	if err != nil {
		return TransportFailure{Op: "reduce-scatter(put)", Err: err}
	}
	remoteGets, err := w.t.ReduceScatterSum(w.getCounts)
	if err != nil {
		return TransportFailure{Op: "reduce-scatter(get)", Err: err}
	}
	remoteMessages, err := w.t.ReduceScatterSum(w.msgCounts)
	if err != nil {
		return TransportFailure{Op: "reduce-scatter(message)", Err: err}
	}

	// 3. Drain puts.
	for i := 0; i < remotePuts; i++ {
		frame, err := w.t.RecvAny(transport.VarPut)
		if err != nil {
			return TransportFailure{Op: "recv(VAR_PUT)", Err: err}
		}
		varID, byteOffset, data, err := decodeVarPut(frame.Data)
		if err != nil {
			return ProtocolDesync(err.Error())
		}
		loc, ok := w.locations[int(varID)]
		if !ok {
			return ProtocolDesync("put against unknown variable id")
		}
		loc.applyPut(byteOffset, data)
	}

	// 4. Drain get requests.
	for i := 0; i < remoteGets; i++ {
		frame, err := w.t.RecvAny(transport.VarGetRequest)
		if err != nil {
			return TransportFailure{Op: "recv(VAR_GET_REQUEST)", Err: err}
		}
		varID, byteOffset, count, elemSize, target, err := decodeVarGetRequest(frame.Data)
		if err != nil {
			return ProtocolDesync(err.Error())
		}
		loc, ok := w.locations[int(varID)]
		if !ok {
			return ProtocolDesync("get against unknown variable id")
		}
		data := loc.readBytes(byteOffset, int(elemSize)*int(count))
		resp := encodeVarGetResponse(target, data)
		if err := w.t.SendBytes(frame.Src, transport.VarGetResponse, resp); err != nil {
			return TransportFailure{Op: "respond(VAR_GET_RESPONSE)", Err: err}
		}
	}

	w.logDebug("sync: barrier-mid")
	w.t.Barrier() // 5. Barrier-mid.

	// 6. Resolve futures and deliver messages.
	for i := 0; i < w.localGets; i++ {
		frame, err := w.t.RecvAny(transport.VarGetResponse)
		if err != nil {
			return TransportFailure{Op: "recv(VAR_GET_RESPONSE)", Err: err}
		}
		target, data, err := decodeVarGetResponse(frame.Data)
		if err != nil {
			return ProtocolDesync(err.Error())
		}
		setter, ok := w.pendingGets[target]
		if !ok {
			return ProtocolDesync("get response for unknown target")
		}
		setter(data)
		delete(w.pendingGets, target)
	}
	for i := 0; i < remoteMessages; i++ {
		frame, err := w.t.RecvAny(transport.Message)
		if err != nil {
			return TransportFailure{Op: "recv(MESSAGE)", Err: err}
		}
		queueID, tag, content, err := decodeMessage(frame.Data)
		if err != nil {
			return ProtocolDesync(err.Error())
		}
		q, ok := w.queues[int(queueID)]
		if !ok {
			return ProtocolDesync("message against unknown queue id")
		}
		if err := q.deliver(tag, content); err != nil {
			return err
		}
	}

	// 7. Reset & barrier-out.
	for d := range w.putCounts {
		w.putCounts[d] = 0
		w.getCounts[d] = 0
		w.msgCounts[d] = 0
	}
	w.localGets = 0

	w.logDebug("sync: barrier-out")
	w.t.Barrier()
	return nil
}
