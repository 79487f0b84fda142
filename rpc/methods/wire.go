package methods

import (
	"encoding/binary"
	"fmt"

	"github.com/openmina-labs/bootstrap-go/common"
)

// writer accumulates a method body using the same little-endian,
// length-prefixed conventions as rpc/codec's frame header, since both speak
// the same binary protocol (spec.md §3 "Binary protocol").
type writer struct {
	buf []byte
}

func (w *writer) bytes() []byte { return w.buf }

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = appendU32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = appendU64(w.buf, v) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }

func (w *writer) bool(b bool) {
	if b {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) blob(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) { w.blob([]byte(s)) }

func (w *writer) hash(h common.Hash) { w.buf = append(w.buf, h[:]...) }

func (w *writer) option(present bool, f func()) {
	w.bool(present)
	if present {
		f()
	}
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// reader is the dual of writer: a cursor over a method body being decoded.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) need(n int) error {
	if r.remaining() < n {
		return fmt.Errorf("methods: truncated body, need %d bytes, have %d", n, r.remaining())
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) boolean() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *reader) blob() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *reader) str() (string, error) {
	b, err := r.blob()
	return string(b), err
}

func (r *reader) hash() (common.Hash, error) {
	if err := r.need(common.HashSize); err != nil {
		return common.Hash{}, err
	}
	h, _ := common.HashFromBytes(r.buf[r.pos : r.pos+common.HashSize])
	r.pos += common.HashSize
	return h, nil
}

func (r *reader) option(f func() error) (bool, error) {
	present, err := r.boolean()
	if err != nil || !present {
		return present, err
	}
	return present, f()
}
