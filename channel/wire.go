package channel

import (
	"encoding/binary"
	"fmt"
)

// recordKind distinguishes a whole-message record from a slice fragment
// record on the wire. Encoding is deterministic so independent language
// implementations interoperate bit-for-bit.
type recordKind uint8

const (
	recordKindMessage recordKind = iota
	recordKindSlice
)

// record is one channel's contribution to a plaintext packet payload.
// hasID distinguishes channels that carry an explicit message id on the
// wire (reliable, unreliable-sequenced) from plain unreliable messages,
// which do not.
type record struct {
	kind       recordKind
	hasID      bool
	messageID  uint64
	sliceIndex uint16
	numSlices  uint16
	payload    []byte
}

type recordWithChannel struct {
	channelID uint8
	record    record
}

// marshalRecord encodes: channel_id:u8, kind:u8, has_id:u8, [message_id:u64],
// then kind-specific fields, then payload_len:u32 LE, payload.
func marshalRecord(channelID uint8, rec record) []byte {
	buf := make([]byte, 0, 16+len(rec.payload))
	buf = append(buf, channelID, byte(rec.kind))
	if rec.hasID {
		buf = append(buf, 1)
		buf = appendU64(buf, rec.messageID)
	} else {
		buf = append(buf, 0)
	}
	if rec.kind == recordKindSlice {
		buf = appendU16(buf, rec.sliceIndex)
		buf = appendU16(buf, rec.numSlices)
	}
	buf = appendU32(buf, uint32(len(rec.payload)))
	buf = append(buf, rec.payload...)
	return buf
}

// unmarshalRecords decodes a full plaintext packet payload into its
// sequence of per-channel records, in wire order.
func unmarshalRecords(payload []byte) ([]recordWithChannel, error) {
	var out []recordWithChannel
	off := 0
	for off < len(payload) {
		if off+3 > len(payload) {
			return nil, fmt.Errorf("channel: truncated record header at offset %d", off)
		}
		channelID := payload[off]
		kind := recordKind(payload[off+1])
		hasID := payload[off+2] != 0
		off += 3

		var messageID uint64
		if hasID {
			if off+8 > len(payload) {
				return nil, fmt.Errorf("channel: truncated message id at offset %d", off)
			}
			messageID = binary.LittleEndian.Uint64(payload[off : off+8])
			off += 8
		}

		var sliceIndex, numSlices uint16
		if kind == recordKindSlice {
			if off+4 > len(payload) {
				return nil, fmt.Errorf("channel: truncated slice header at offset %d", off)
			}
			sliceIndex = binary.LittleEndian.Uint16(payload[off : off+2])
			numSlices = binary.LittleEndian.Uint16(payload[off+2 : off+4])
			off += 4
		}

		if off+4 > len(payload) {
			return nil, fmt.Errorf("channel: truncated payload length at offset %d", off)
		}
		n := binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		if off+int(n) > len(payload) {
			return nil, fmt.Errorf("channel: truncated payload body at offset %d", off)
		}
		body := make([]byte, n)
		copy(body, payload[off:off+int(n)])
		off += int(n)

		out = append(out, recordWithChannel{
			channelID: channelID,
			record: record{
				kind:       kind,
				hasID:      hasID,
				messageID:  messageID,
				sliceIndex: sliceIndex,
				numSlices:  numSlices,
				payload:    body,
			},
		})
	}
	return out, nil
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func decodeU64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
func decodeU32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
