package persist

import (
	"encoding/binary"

	"github.com/mizusearch/core/cerr"
)

// AppendRecord appends one length-prefixed key-value record to buf:
// u32 key length, key bytes, u32 value length, value bytes, both
// lengths big-endian. This is the record framing of the persisted
// snapshot stream.
func AppendRecord(buf []byte, key string, value []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(key)))
	buf = append(buf, key...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(value)))
	buf = append(buf, value...)
	return buf
}

// ReadRecord decodes the next record from buf and returns the
// remainder. A short buffer is a corrupt stream, reported as an
// internal error.
func ReadRecord(buf []byte) (key string, value, rest []byte, err error) {
	if len(buf) < 4 {
		return "", nil, nil, cerr.Internal("snapshot record truncated before key length")
	}
	klen := binary.BigEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < klen {
		return "", nil, nil, cerr.Internal("snapshot record truncated inside key")
	}
	key = string(buf[:klen])
	buf = buf[klen:]
	if len(buf) < 4 {
		return "", nil, nil, cerr.Internal("snapshot record truncated before value length")
	}
	vlen := binary.BigEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < vlen {
		return "", nil, nil, cerr.Internal("snapshot record truncated inside value")
	}
	return key, buf[:vlen:vlen], buf[vlen:], nil
}
