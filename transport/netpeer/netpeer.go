// Package netpeer implements transport.T over real TCP sockets, one OS
// process per BSP processor. It is the production counterpart to
// transport/local, grounded in ipc.go's length-prefixed framing and
// sender/receiver goroutines, and in hivemind.go's barrier-manager
// pattern (processor 0 as a fixed collective coordinator) for Barrier and
// ReduceScatterSum, since raw sockets give no MPI-style reduce-scatter for
// free.
package netpeer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcaneiceman/GoVector/govec"

	"github.com/dashaylan/bsp/config"
	"github.com/dashaylan/bsp/transport"
)

// wire tags for frames that never leave this package: the four
// transport.Category values double as tags 0-3; collective control
// traffic uses tags 10-13 so a single demux switch handles everything
// arriving on a connection, the same way ipc.go's rxhelper dispatches on
// a leading message-id byte.
const (
	tagBarrierReq   = 10
	tagBarrierResp  = 11
	tagExchangeReq  = 12
	tagExchangeResp = 13
)

const dialRetry = 200 * time.Millisecond
const dialTimeout = 15 * time.Second

// T is a netpeer transport.T implementation. Construct with Dial.
type T struct {
	pid int
	n   int

	conns  []net.Conn // conns[p] is the connection to peer p; conns[pid] is nil
	connMu []sync.Mutex

	queues [4]*frameQueue // indexed by transport.Category

	// Collective state. Only meaningful on the coordinator (pid 0), which
	// plays the role hivemind.go's getBarrierManager(b)==0 plays for every
	// barrier: everyone else just sends a request and waits for a
	// response.
	coord *coordinator

	barrierResp  chan struct{}
	exchangeResp chan int

	vecLog *govec.GoLog

	listener net.Listener
	closed   bool
	closeMu  sync.Mutex
}

type coordinator struct {
	mu          sync.Mutex
	barrierSeen int
	exVecs      [][]int
	exSeen      int
}

// Dial connects this processor to every peer named in topo and returns a
// ready transport.T. pid is this processor's id in topo.Peers. logPrefix,
// if non-empty, turns on GoVector causal logging exactly as
// hivemind.go's Startup/StartupTipc does when given a non-empty gvec
// argument.
func Dial(pid int, topo config.Topology, logPrefix string) (*T, error) {
	n := len(topo.Peers)
	t := &T{
		pid:    pid,
		n:      n,
		conns:  make([]net.Conn, n),
		connMu: make([]sync.Mutex, n),
		// Buffered so the coordinator's own release-loop can signal itself
		// (see handleBarrierReq/handleExchangeReq) without a concurrent
		// reader already parked on the channel.
		barrierResp:  make(chan struct{}, 1),
		exchangeResp: make(chan int, 1),
	}
	for c := range t.queues {
		t.queues[c] = newFrameQueue()
	}
	if pid == 0 {
		t.coord = &coordinator{exVecs: make([][]int, n)}
	}
	if logPrefix != "" {
		t.vecLog = govec.InitGoVector(fmt.Sprintf("%s%d", logPrefix, pid), fmt.Sprintf("%s%d", logPrefix, pid))
	}

	self := topo.Peers[pid]
	ln, err := net.Listen("tcp", ":"+self.Port)
	if err != nil {
		return nil, fmt.Errorf("netpeer: listen: %w", err)
	}
	t.listener = ln

	// Every peer with a lower id dials us instead of the other way around
	// (see the dial loop below), so we expect exactly pid inbound
	// connections during startup. pending.Wait below blocks Dial's return
	// until they have all landed and t.conns is fully populated, giving
	// every later reader of t.conns a happens-before edge without a
	// per-access lock.
	var pending sync.WaitGroup
	pending.Add(pid)
	go t.acceptLoop(&pending)

	// Each processor dials out to every higher-id peer and accepts from
	// every lower-id one, avoiding the double-connect race -- the same asymmetric
	// handshake tipc.go's Connect/listenTask pair assumes.
	for p, peer := range topo.Peers {
		if p <= pid {
			continue
		}
		conn, err := dialWithRetry(peer.Address+":"+peer.Port, dialTimeout)
		if err != nil {
			return nil, fmt.Errorf("netpeer: dial %s: %w", peer.Address, err)
		}
		if err := writeHandshake(conn, pid); err != nil {
			return nil, err
		}
		t.conns[p] = conn
		go t.readLoop(p, conn)
	}

	pending.Wait()
	return t, nil
}

func dialWithRetry(addr string, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, dialRetry)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(dialRetry)
	}
	return nil, lastErr
}

// acceptLoop accepts inbound connections for the lifetime of T. pending is
// released exactly once per expected startup connection (there are t.pid of
// them); later reconnects, if any, don't touch it.
func (t *T) acceptLoop(pending *sync.WaitGroup) {
	startupLeft := int32(t.pid)
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		go func() {
			peerPID, err := readHandshake(conn)
			if err != nil {
				conn.Close()
				return
			}
			t.conns[peerPID] = conn
			if atomic.AddInt32(&startupLeft, -1) >= 0 {
				pending.Done()
			}
			t.readLoop(peerPID, conn)
		}()
	}
}

func writeHandshake(conn net.Conn, pid int) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(pid))
	_, err := conn.Write(buf)
	return err
}

func readHandshake(conn net.Conn) (int, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint32(buf)), nil
}

// readLoop demuxes frames arriving from peer p, the same role ipc.go's
// rxhandler/rxhelper pair plays, but with the BSP category (or the
// internal collective tag) carried explicitly instead of inferred from a
// fixed struct layout.
func (t *T) readLoop(p int, conn net.Conn) {
	for {
		tag, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		switch tag {
		case tagBarrierReq:
			t.handleBarrierReq()
		case tagBarrierResp:
			t.barrierResp <- struct{}{}
		case tagExchangeReq:
			t.handleExchangeReq(p, payload)
		case tagExchangeResp:
			t.exchangeResp <- int(int64(binary.LittleEndian.Uint64(payload)))
		default:
			if t.vecLog != nil {
				var unpacked []byte
				t.vecLog.UnpackReceive(transport.Category(tag).String(), payload, &unpacked)
				payload = unpacked
			}
			t.queues[tag].push(transport.Frame{Src: p, Data: payload})
		}
	}
}

func readFrame(conn net.Conn) (tag byte, payload []byte, err error) {
	header := make([]byte, 5)
	if _, err = io.ReadFull(conn, header); err != nil {
		return
	}
	length := binary.BigEndian.Uint32(header[0:4])
	tag = header[4]
	payload = make([]byte, length)
	if length > 0 {
		if _, err = io.ReadFull(conn, payload); err != nil {
			return
		}
	}
	return
}

func (t *T) writeFrame(p int, tag byte, payload []byte) error {
	if p == t.pid {
		// Loopback never touches the socket, matching the "route through
		// the transport loopback" option in the reference design's notes
		// on self-communication.
		t.queues[tag].push(transport.Frame{Src: p, Data: payload})
		return nil
	}
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	header[4] = tag
	t.connMu[p].Lock()
	defer t.connMu[p].Unlock()
	if _, err := t.conns[p].Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err := t.conns[p].Write(payload)
		return err
	}
	return nil
}

func (t *T) ActiveProcessors() int { return t.n }
func (t *T) ProcessorID() int      { return t.pid }

func (t *T) SendBytes(dst int, cat transport.Category, data []byte) error {
	if t.vecLog != nil && dst != t.pid {
		data = t.vecLog.PrepareSend(cat.String(), data)
	}
	return t.writeFrame(dst, byte(cat), data)
}

func (t *T) RecvAny(cat transport.Category) (transport.Frame, error) {
	return t.queues[cat].pop(), nil
}

// Barrier mirrors hivemind.go's HM.Barrier: every non-coordinator
// processor sends a request to the coordinator and blocks; the
// coordinator counts requests (including its own arrival) and, once every
// processor has checked in, releases them all.
func (t *T) Barrier() {
	if t.pid == 0 {
		t.handleBarrierReq()
	} else {
		t.writeFrame(0, tagBarrierReq, nil)
	}
	<-t.barrierResp
}

func (t *T) handleBarrierReq() {
	if t.pid != 0 {
		return
	}
	t.coord.mu.Lock()
	t.coord.barrierSeen++
	full := t.coord.barrierSeen == t.n
	if full {
		t.coord.barrierSeen = 0
	}
	t.coord.mu.Unlock()
	if full {
		for p := 0; p < t.n; p++ {
			// The coordinator is always among the released processors, but
			// it has no connection to itself: signal its own channel
			// directly instead of routing a tagBarrierResp frame through
			// writeFrame's loopback, which only knows how to loop back the
			// four transport.Category queues.
			if p == t.pid {
				t.barrierResp <- struct{}{}
				continue
			}
			t.writeFrame(p, tagBarrierResp, nil)
		}
	}
}

// ReduceScatterSum mirrors the same coordinator pattern as Barrier, with a
// vector payload instead of an empty ping.
func (t *T) ReduceScatterSum(counts []int) (int, error) {
	vec := encodeIntVector(counts)
	if t.pid == 0 {
		t.handleExchangeReq(0, vec)
	} else {
		if err := t.writeFrame(0, tagExchangeReq, vec); err != nil {
			return 0, err
		}
	}
	return <-t.exchangeResp, nil
}

func (t *T) handleExchangeReq(src int, payload []byte) {
	if t.pid != 0 {
		return
	}
	vec, err := decodeIntVector(payload)
	if err != nil {
		return
	}
	t.coord.mu.Lock()
	t.coord.exVecs[src] = vec
	t.coord.exSeen++
	full := t.coord.exSeen == t.n
	var sums []int
	if full {
		sums = make([]int, t.n)
		for dst := 0; dst < t.n; dst++ {
			for s := 0; s < t.n; s++ {
				sums[dst] += t.coord.exVecs[s][dst]
			}
		}
		t.coord.exSeen = 0
		t.coord.exVecs = make([][]int, t.n)
	}
	t.coord.mu.Unlock()
	if full {
		for p := 0; p < t.n; p++ {
			// Same self-signal special case as handleBarrierReq: the
			// coordinator has no connection to itself.
			if p == t.pid {
				t.exchangeResp <- sums[p]
				continue
			}
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, uint64(int64(sums[p])))
			t.writeFrame(p, tagExchangeResp, buf)
		}
	}
}

func encodeIntVector(v []int) []byte {
	var buf bytes.Buffer
	for _, x := range v {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(int64(x)))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func decodeIntVector(data []byte) ([]int, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("netpeer: malformed vector: %d bytes", len(data))
	}
	v := make([]int, len(data)/8)
	for i := range v {
		v[i] = int(int64(binary.LittleEndian.Uint64(data[i*8 : i*8+8])))
	}
	return v, nil
}

func (t *T) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.listener != nil {
		t.listener.Close()
	}
	for p, c := range t.conns {
		if c != nil && p != t.pid {
			c.Close()
		}
	}
	return nil
}

type frameQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []transport.Frame
}

func newFrameQueue() *frameQueue {
	q := &frameQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *frameQueue) push(f transport.Frame) {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *frameQueue) pop() transport.Frame {
	q.mu.Lock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	f := q.items[0]
	q.items = q.items[1:]
	q.mu.Unlock()
	return f
}
