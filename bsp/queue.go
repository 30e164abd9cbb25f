package bsp

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Queue is a typed, tagged mailbox (spec.md section 3/4.4): senders append
// to remote queues, and after Sync each processor iterates its accumulated
// inbox for the superstep that just completed.
//
// Tag and Content are serialized with encoding/gob, the same encoding
// hivemind.go's send/rxMsgHandler use to move LockAcquireRequest,
// BarrierRequest, and the rest of its message structs over the wire.
type Queue[Tag, Content any] struct {
	w     *World
	id    int
	inbox []Entry[Tag, Content]
}

// Entry is one delivered (tag, content) pair.
type Entry[Tag, Content any] struct {
	Tag     Tag
	Content Content
}

// NewQueue registers a new queue on w. Construction is collective: every
// processor must call NewQueue in the same program order.
func NewQueue[Tag, Content any](w *World) (*Queue[Tag, Content], error) {
	q := &Queue[Tag, Content]{w: w}
	id, err := w.registerQueue(q)
	if err != nil {
		return nil, err
	}
	q.id = id
	return q, nil
}

// Image returns a selector for processor t's inbox on this queue.
func (q *Queue[Tag, Content]) Image(t int) (QueueImage[Tag, Content], error) {
	if err := q.w.checkProcessor(t); err != nil {
		return QueueImage[Tag, Content]{}, err
	}
	return QueueImage[Tag, Content]{q: q, t: t}, nil
}

// Messages returns the inbox accumulated during the most recently
// completed superstep. It is invalidated by the next Sync.
func (q *Queue[Tag, Content]) Messages() []Entry[Tag, Content] { return q.inbox }

func (q *Queue[Tag, Content]) clearInbox() { q.inbox = q.inbox[:0] }

func (q *Queue[Tag, Content]) deliver(tagBytes, contentBytes []byte) error {
	var tag Tag
	var content Content
	if err := gobDecode(tagBytes, &tag); err != nil {
		return fmt.Errorf("bsp: decoding queue %d tag: %w", q.id, err)
	}
	if err := gobDecode(contentBytes, &content); err != nil {
		return fmt.Errorf("bsp: decoding queue %d content: %w", q.id, err)
	}
	q.inbox = append(q.inbox, Entry[Tag, Content]{Tag: tag, Content: content})
	return nil
}

// QueueImage identifies processor t's inbox on a Queue.
type QueueImage[Tag, Content any] struct {
	q *Queue[Tag, Content]
	t int
}

// Send schedules a message to this image's inbox. Tag and content are
// copied by value (via gob encode/decode, not by reference).
func (img QueueImage[Tag, Content]) Send(tag Tag, content Content) error {
	tagBytes, err := gobEncode(tag)
	if err != nil {
		return fmt.Errorf("bsp: encoding queue %d tag: %w", img.q.id, err)
	}
	contentBytes, err := gobEncode(content)
	if err != nil {
		return fmt.Errorf("bsp: encoding queue %d content: %w", img.q.id, err)
	}
	return img.q.w.send(img.q.id, img.t, tagBytes, contentBytes)
}

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
