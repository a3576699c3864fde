package blobstore

import (
	"encoding/binary"
	"time"
)

// encodeRecord packs a record into a small fixed-header binary form
// (1 byte visibility, 8 bytes unix-nano upload time, then raw data) to
// avoid pulling a general-purpose encoding library in for what is, on
// disk, an opaque byte blob plus two scalar fields.
func encodeRecord(r record) []byte {
	out := make([]byte, 1+8+len(r.Data))
	out[0] = byte(r.Visibility)
	binary.BigEndian.PutUint64(out[1:9], uint64(r.UploadedAt.UnixNano()))
	copy(out[9:], r.Data)
	return out
}

func decodeRecord(raw []byte) record {
	if len(raw) < 9 {
		return record{}
	}
	vis := Visibility(raw[0])
	ts := int64(binary.BigEndian.Uint64(raw[1:9]))
	data := make([]byte, len(raw)-9)
	copy(data, raw[9:])
	return record{Data: data, Visibility: vis, UploadedAt: time.Unix(0, ts)}
}
