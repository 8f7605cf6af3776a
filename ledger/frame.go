package ledger

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"xdao.co/vault/canonical"
	"xdao.co/vault/model"
)

// On-disk framing: one frame per committed entry.
//
//	[4-byte big-endian payload length][4-byte CRC32-Castagnoli][payload]
//
// The payload is the canonical encoding of the frame record, so log files
// are byte-identical across hosts for identical append sequences up to
// ts_ingested. A torn trailing frame is detected on open and truncated;
// a CRC mismatch on an interior frame is CorruptEntry.

const frameHeaderLen = 8

// maxFrameLen bounds a single record plus entry. Larger payloads belong in
// the content store, referenced by payload_cid.
const maxFrameLen = 64 << 20

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Frame pairs a chain entry with the record it committed.
type Frame struct {
	Entry  model.ChainEntry
	Record model.Record
}

func (f Frame) record() model.Record {
	var prev any
	if f.Entry.PrevHash != nil {
		prev = *f.Entry.PrevHash
	}
	return model.Record{
		"entry": model.Record{
			"prev_hash":     prev,
			"hash":          f.Entry.Hash,
			"record_digest": f.Entry.RecordDigest,
			"payload_cid":   f.Entry.PayloadCID,
			"seq":           f.Entry.Seq,
			"ts_ingested":   f.Entry.TsIngested,
		},
		"record": f.Record,
	}
}

func encodeFrame(f Frame) ([]byte, error) {
	payload, err := canonical.Encode(f.record())
	if err != nil {
		return nil, err
	}
	buf := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], crc32.Checksum(payload, crcTable))
	copy(buf[frameHeaderLen:], payload)
	return buf, nil
}

// readFrame reads one frame from r.
//
// io.EOF means a clean end. io.ErrUnexpectedEOF means a torn frame (the
// caller decides whether that is a truncatable tail or corruption). A CRC or
// decode failure returns a CorruptEntry error.
func readFrame(r io.Reader) (Frame, int64, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return Frame{}, 0, io.EOF
		}
		return Frame{}, 0, io.ErrUnexpectedEOF
	}
	n := binary.BigEndian.Uint32(hdr[0:4])
	if n == 0 || n > maxFrameLen {
		return Frame{}, 0, io.ErrUnexpectedEOF
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, 0, io.ErrUnexpectedEOF
	}
	if crc32.Checksum(payload, crcTable) != binary.BigEndian.Uint32(hdr[4:8]) {
		return Frame{}, 0, model.NewError(model.KindCorruptEntry, "frame checksum mismatch")
	}
	f, err := decodeFrame(payload)
	if err != nil {
		return Frame{}, 0, model.WrapError(model.KindCorruptEntry, "frame payload does not decode", err)
	}
	return f, int64(frameHeaderLen + len(payload)), nil
}

func decodeFrame(payload []byte) (Frame, error) {
	rec, err := canonical.Parse(payload)
	if err != nil {
		return Frame{}, err
	}
	entryRec, ok := rec["entry"].(model.Record)
	if !ok {
		return Frame{}, model.NewError(model.KindCorruptEntry, "frame missing entry")
	}
	record, ok := rec["record"].(model.Record)
	if !ok {
		return Frame{}, model.NewError(model.KindCorruptEntry, "frame missing record")
	}

	var f Frame
	f.Record = record
	if s, ok := entryRec["prev_hash"].(string); ok {
		f.Entry.PrevHash = &s
	}
	f.Entry.Hash, _ = entryRec["hash"].(string)
	f.Entry.RecordDigest, _ = entryRec["record_digest"].(string)
	f.Entry.PayloadCID, _ = entryRec["payload_cid"].(string)
	f.Entry.Seq, ok = entryRec["seq"].(int64)
	if !ok {
		return Frame{}, model.NewError(model.KindCorruptEntry, "frame entry missing seq")
	}
	f.Entry.TsIngested, _ = entryRec["ts_ingested"].(int64)
	return f, nil
}
