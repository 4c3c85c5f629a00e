package ingress

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/firedancer-go/pack/internal/pool"
	"github.com/firedancer-go/pack/internal/ring"
)

// ErrTruncated is returned by the descriptor/raw decoders when a
// fragment is shorter than its declared layout requires.
var ErrTruncated = errors.New("ingress: fragment truncated")

// txnMeta is the fixed-layout header both transaction sub-formats
// carry for everything besides the opaque payload bytes: signer
// count, the vote bit, the declared compute budget, the priority
// score, and the read/write account key sets. Real signature
// verification and wire-format parsing of producer-native transaction
// encodings are external collaborators per spec §1; this header is
// this core's own minimal on-wire shape for the fields it actually
// needs, matching how internal/p2p's teacher message framing favors
// fixed-width headers over a general serialization library.
//
// Layout: signerCount(1) isVote(1) writeCount(1) readCount(1)
// computeUnits(8, BE) priority(8, BE bits) writeKeys(32*writeCount)
// readKeys(32*readCount).
func encodeTxnMeta(e *pool.Entry) []byte {
	w := len(e.Descriptor.WriteKeys)
	r := len(e.Descriptor.ReadKeys)
	buf := make([]byte, 4+8+8+32*w+32*r)
	buf[0] = byte(e.SignerCount)
	if e.IsVote {
		buf[1] = 1
	}
	buf[2] = byte(w)
	buf[3] = byte(r)
	binary.BigEndian.PutUint64(buf[4:12], e.ComputeUnits)
	binary.BigEndian.PutUint64(buf[12:20], math.Float64bits(e.Priority))
	off := 20
	for _, k := range e.Descriptor.WriteKeys {
		copy(buf[off:off+32], k[:])
		off += 32
	}
	for _, k := range e.Descriptor.ReadKeys {
		copy(buf[off:off+32], k[:])
		off += 32
	}
	return buf
}

func decodeTxnMeta(buf []byte, e *pool.Entry) (consumed int, err error) {
	if len(buf) < 20 {
		return 0, ErrTruncated
	}
	signerCount := int(buf[0])
	isVote := buf[1] != 0
	w := int(buf[2])
	r := int(buf[3])
	computeUnits := binary.BigEndian.Uint64(buf[4:12])
	priority := math.Float64frombits(binary.BigEndian.Uint64(buf[12:20]))

	need := 20 + 32*w + 32*r
	if len(buf) < need {
		return 0, ErrTruncated
	}

	writes := make([]ring.AccountKey, w)
	off := 20
	for i := 0; i < w; i++ {
		copy(writes[i][:], buf[off:off+32])
		off += 32
	}
	reads := make([]ring.AccountKey, r)
	for i := 0; i < r; i++ {
		copy(reads[i][:], buf[off:off+32])
		off += 32
	}

	e.SignerCount = signerCount
	e.IsVote = isVote
	e.ComputeUnits = computeUnits
	e.Priority = priority
	e.Descriptor.WriteKeys = writes
	e.Descriptor.ReadKeys = reads
	return need, nil
}

// align2 rounds n up to the next multiple of 2, matching the
// original's "0 or 1 byte of padding (since alignof(fd_txn) is 2)".
func align2(n int) int {
	return (n + 1) &^ 1
}

// decodePreParsed implements the pre-parsed sub-format of spec §4.5:
// payload, optional alignment padding, the serialized descriptor
// header, and a trailing two-byte payload-length suffix.
func decodePreParsed(buf []byte, e *pool.Entry) error {
	if len(buf) < 2 {
		return ErrTruncated
	}
	payloadSz := int(binary.BigEndian.Uint16(buf[len(buf)-2:]))
	descEnd := len(buf) - 2
	descStart := align2(payloadSz)
	if payloadSz > descEnd || descStart > descEnd {
		return ErrTruncated
	}

	if _, err := decodeTxnMeta(buf[descStart:descEnd], e); err != nil {
		return err
	}
	e.Payload = append([]byte(nil), buf[:payloadSz]...)
	return nil
}

// decodeRaw implements the raw sub-format: the whole fragment is the
// payload, carrying the same fixed header so this core can derive a
// descriptor from it (the transaction's actual account addresses,
// compute budget, and vote classification — spec §4.5: "adapter
// parses into the descriptor").
func decodeRaw(buf []byte, e *pool.Entry) error {
	consumed, err := decodeTxnMeta(buf, e)
	if err != nil {
		return err
	}
	e.Payload = append([]byte(nil), buf[:consumed]...)
	return nil
}

// EncodeRaw serializes e in this core's raw wire format, for the
// (external, per spec §1) transaction producers that must publish
// into a ring this adapter will consume with SignatureFlag Raw.
func EncodeRaw(e *pool.Entry) []byte {
	return encodeTxnMeta(e)
}

// EncodePreParsed serializes e in the pre-parsed wire format, for
// producers (spec §4.5's "dedup tile") that have already resolved the
// descriptor and send payload and descriptor as separate regions.
func EncodePreParsed(payload []byte, e *pool.Entry) []byte {
	meta := encodeTxnMeta(e)
	padded := align2(len(payload))
	buf := make([]byte, padded+len(meta)+2)
	copy(buf, payload)
	copy(buf[padded:], meta)
	binary.BigEndian.PutUint16(buf[len(buf)-2:], uint16(len(payload)))
	return buf
}
