package smb2

import (
	"crypto/rand"
	"encoding/binary"
	"unicode/utf16"
)

// SMB2 uses little-endian byte order for all multi-byte values on the wire.
var le = binary.LittleEndian

// encodeUTF16LE encodes a Go string to UTF-16LE bytes (SMB wire format).
func encodeUTF16LE(s string) []byte {
	runes := utf16.Encode([]rune(s))
	buf := make([]byte, len(runes)*2)
	for i, r := range runes {
		le.PutUint16(buf[i*2:], r)
	}
	return buf
}

// decodeUTF16LE decodes UTF-16LE bytes to a Go string.
func decodeUTF16LE(data []byte) string {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	runes := make([]uint16, len(data)/2)
	for i := range runes {
		runes[i] = le.Uint16(data[i*2:])
	}
	return string(utf16.Decode(runes))
}

// padTo8ByteBoundary returns the padding needed to align offset to 8 bytes.
func padTo8ByteBoundary(offset int) int {
	remainder := offset % 8
	if remainder == 0 {
		return 0
	}
	return 8 - remainder
}

// byteReader provides sequential little-endian reads over a fixed buffer.
// It is the field-addressable decoding primitive used by every wire record
// in this package (§4.1): callers read named fields off the wire in
// declaration order rather than unpacking into a tagged struct.
type byteReader struct {
	data []byte
	pos  int
	err  error
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (r *byteReader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *byteReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.data) {
		r.err = ErrMessageTooShort
		return false
	}
	return true
}

func (r *byteReader) ReadBytes(n int) []byte {
	if !r.need(n) {
		return make([]byte, n)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *byteReader) ReadByte() byte {
	if !r.need(1) {
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *byteReader) ReadUint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := le.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *byteReader) ReadUint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := le.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *byteReader) ReadUint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := le.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

func (r *byteReader) ReadGUID() (g [16]byte) {
	copy(g[:], r.ReadBytes(16))
	return g
}

func (r *byteReader) Seek(pos int) {
	r.pos = pos
}

func (r *byteReader) Position() int {
	return r.pos
}

// byteWriter accumulates a wire record by field, in declaration order.
type byteWriter struct {
	data []byte
}

func newByteWriter(capacity int) *byteWriter {
	return &byteWriter{data: make([]byte, 0, capacity)}
}

func (w *byteWriter) Bytes() []byte { return w.data }

func (w *byteWriter) Len() int { return len(w.data) }

func (w *byteWriter) WriteBytes(b []byte) { w.data = append(w.data, b...) }

func (w *byteWriter) WriteByte(b byte) { w.data = append(w.data, b) }

func (w *byteWriter) WriteUint16(v uint16) {
	var buf [2]byte
	le.PutUint16(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *byteWriter) WriteUint32(v uint32) {
	var buf [4]byte
	le.PutUint32(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *byteWriter) WriteUint64(v uint64) {
	var buf [8]byte
	le.PutUint64(buf[:], v)
	w.data = append(w.data, buf[:]...)
}

func (w *byteWriter) WriteGUID(g [16]byte) { w.data = append(w.data, g[:]...) }

func (w *byteWriter) WriteZeros(n int) {
	for i := 0; i < n; i++ {
		w.data = append(w.data, 0)
	}
}

func (w *byteWriter) WritePadTo8() {
	w.WriteZeros(padTo8ByteBoundary(len(w.data)))
}

// SetUint32At back-patches a uint32 already written, e.g. a context offset
// that is only known once the tail of the message has been laid out.
func (w *byteWriter) SetUint32At(pos int, v uint32) {
	if pos+4 <= len(w.data) {
		le.PutUint32(w.data[pos:], v)
	}
}

// newGUID returns a fresh 16-byte identifier suitable for a client GUID or
// a 3.1.1 preauth salt.
func newGUID() [16]byte {
	var g [16]byte
	_, _ = rand.Read(g[:])
	return g
}
