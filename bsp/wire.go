package bsp

// Wire frame layouts from spec.md section 6. All headers are little-endian
// and bit-exact so that a job mixing implementations of this core stays
// compatible. This is a deliberate departure from ipc.go, which frames its
// gob payloads with a big-endian length prefix -- that convention is kept
// for netpeer's outer transport framing only, never for these headers.

import (
	"encoding/binary"
	"fmt"
)

func encodeVarPut(varID int32, byteOffset uint64, data []byte) []byte {
	buf := make([]byte, 4+8+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(varID))
	binary.LittleEndian.PutUint64(buf[4:12], byteOffset)
	copy(buf[12:], data)
	return buf
}

func decodeVarPut(buf []byte) (varID int32, byteOffset uint64, data []byte, err error) {
	if len(buf) < 12 {
		return 0, 0, nil, fmt.Errorf("bsp: short VAR_PUT frame: %d bytes", len(buf))
	}
	varID = int32(binary.LittleEndian.Uint32(buf[0:4]))
	byteOffset = binary.LittleEndian.Uint64(buf[4:12])
	data = buf[12:]
	return
}

func encodeVarGetRequest(varID int32, byteOffset uint64, count int32, elemSize, target uint64) []byte {
	buf := make([]byte, 4+8+4+8+8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(varID))
	binary.LittleEndian.PutUint64(buf[4:12], byteOffset)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(count))
	binary.LittleEndian.PutUint64(buf[16:24], elemSize)
	binary.LittleEndian.PutUint64(buf[24:32], target)
	return buf
}

func decodeVarGetRequest(buf []byte) (varID int32, byteOffset uint64, count int32, elemSize, target uint64, err error) {
	if len(buf) < 32 {
		return 0, 0, 0, 0, 0, fmt.Errorf("bsp: short VAR_GET_REQUEST frame: %d bytes", len(buf))
	}
	varID = int32(binary.LittleEndian.Uint32(buf[0:4]))
	byteOffset = binary.LittleEndian.Uint64(buf[4:12])
	count = int32(binary.LittleEndian.Uint32(buf[12:16]))
	elemSize = binary.LittleEndian.Uint64(buf[16:24])
	target = binary.LittleEndian.Uint64(buf[24:32])
	return
}

func encodeVarGetResponse(target uint64, data []byte) []byte {
	buf := make([]byte, 8+8+len(data))
	binary.LittleEndian.PutUint64(buf[0:8], target)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(data)))
	copy(buf[16:], data)
	return buf
}

func decodeVarGetResponse(buf []byte) (target uint64, data []byte, err error) {
	if len(buf) < 16 {
		return 0, nil, fmt.Errorf("bsp: short VAR_GET_RESPONSE frame: %d bytes", len(buf))
	}
	target = binary.LittleEndian.Uint64(buf[0:8])
	dataSize := binary.LittleEndian.Uint64(buf[8:16])
	if uint64(len(buf)-16) < dataSize {
		return 0, nil, fmt.Errorf("bsp: VAR_GET_RESPONSE frame truncated: want %d, have %d", dataSize, len(buf)-16)
	}
	data = buf[16 : 16+dataSize]
	return
}

func encodeMessage(queueID int32, tag, content []byte) []byte {
	buf := make([]byte, 4+4+4+len(tag)+len(content))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(queueID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(tag)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(content)))
	n := copy(buf[12:], tag)
	copy(buf[12+n:], content)
	return buf
}

func decodeMessage(buf []byte) (queueID int32, tag, content []byte, err error) {
	if len(buf) < 12 {
		return 0, nil, nil, fmt.Errorf("bsp: short MESSAGE frame: %d bytes", len(buf))
	}
	queueID = int32(binary.LittleEndian.Uint32(buf[0:4]))
	tagSize := binary.LittleEndian.Uint32(buf[4:8])
	contentSize := binary.LittleEndian.Uint32(buf[8:12])
	rest := buf[12:]
	if uint32(len(rest)) < tagSize+contentSize {
		return 0, nil, nil, fmt.Errorf("bsp: MESSAGE frame truncated: want %d, have %d", tagSize+contentSize, len(rest))
	}
	tag = rest[:tagSize]
	content = rest[tagSize : tagSize+contentSize]
	return
}
