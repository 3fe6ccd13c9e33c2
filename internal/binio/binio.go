// Package binio reads and writes the big-endian primitives shared by the
// contract and packet codecs. Both Writer and Reader keep the first error and
// turn every later call into a no-op, so callers check Err once at the end.
package binio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"fortio.org/safecast"
)

// MaxUTFLen is the largest string a UTF field can hold.
const MaxUTFLen = math.MaxUint16

// Writer encodes primitives to an io.Writer.
type Writer struct {
	w   io.Writer
	err error
	buf [4]byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}

// Int32 writes n as a signed 32-bit integer; n must fit.
func (w *Writer) Int32(n int) {
	if w.err != nil {
		return
	}
	v, err := safecast.Conv[int32](n)
	if err != nil {
		w.err = fmt.Errorf("int32 field: %w", err)
		return
	}
	binary.BigEndian.PutUint32(w.buf[:4], uint32(v))
	w.write(w.buf[:4])
}

func (w *Writer) Byte(b byte) {
	w.buf[0] = b
	w.write(w.buf[:1])
}

func (w *Writer) Bool(b bool) {
	if b {
		w.Byte(1)
		return
	}
	w.Byte(0)
}

// UTF writes a uint16 length followed by the raw bytes of s.
func (w *Writer) UTF(s string) {
	if w.err != nil {
		return
	}
	n, err := safecast.Conv[uint16](len(s))
	if err != nil {
		w.err = fmt.Errorf("string field of %d bytes: %w", len(s), err)
		return
	}
	binary.BigEndian.PutUint16(w.buf[:2], n)
	w.write(w.buf[:2])
	if w.err == nil {
		_, w.err = io.WriteString(w.w, s)
	}
}

// Reader decodes primitives from an io.Reader.
type Reader struct {
	r   io.Reader
	err error
	buf [4]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Err returns the first error encountered. A short read is reported as
// io.ErrUnexpectedEOF.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) read(n int) []byte {
	if r.err != nil {
		return nil
	}
	if _, err := io.ReadFull(r.r, r.buf[:n]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		r.err = err
		return nil
	}
	return r.buf[:n]
}

func (r *Reader) Int32() int {
	b := r.read(4)
	if b == nil {
		return 0
	}
	return int(int32(binary.BigEndian.Uint32(b)))
}

func (r *Reader) Byte() byte {
	b := r.read(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool {
	b := r.Byte()
	if r.err == nil && b > 1 {
		r.err = fmt.Errorf("invalid bool byte %d", b)
	}
	return b == 1
}

func (r *Reader) UTF() string {
	b := r.read(2)
	if b == nil {
		return ""
	}
	n := binary.BigEndian.Uint16(b)
	s := make([]byte, n)
	if _, err := io.ReadFull(r.r, s); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		r.err = err
		return ""
	}
	return string(s)
}
