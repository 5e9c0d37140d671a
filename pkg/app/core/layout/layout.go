// Package layout reads and writes the fixed-size little-endian records the
// margin program and the venues store on chain.
package layout

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/uhyunpark/hypermargin/pkg/app/core/fixed"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

// DiscriminatorLen is the size of the type tag in front of every record
const DiscriminatorLen = 8

// Discriminator returns the type tag for a record name.
// Formula: sha256("account:" + name)[:8]
func Discriminator(name string) [DiscriminatorLen]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorLen]byte
	copy(d[:], sum[:DiscriminatorLen])
	return d
}

// Reader is a cursor over a record. The first failure sticks; later reads
// return zero values and Err reports the original problem.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Err() error { return r.err }

func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("read %d bytes at offset %d of %d: %w", n, r.off, len(r.buf), apperrors.ErrInvalidEncoding)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// Expect consumes the discriminator and checks it matches name
func (r *Reader) Expect(name string) {
	b := r.next(DiscriminatorLen)
	if b == nil {
		return
	}
	want := Discriminator(name)
	if !bytes.Equal(b, want[:]) {
		r.err = fmt.Errorf("not a %s record: %w", name, apperrors.ErrInvalidEncoding)
	}
}

func (r *Reader) Skip(n int) { r.next(n) }

func (r *Reader) Uint8() uint8 {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool {
	v := r.Uint8()
	if v > 1 && r.err == nil {
		r.err = fmt.Errorf("bool byte %d: %w", v, apperrors.ErrInvalidEncoding)
	}
	return v == 1
}

func (r *Reader) Uint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) Uint64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

func (r *Reader) Pubkey() crypto.Pubkey {
	var p crypto.Pubkey
	if b := r.next(crypto.PubkeyLen); b != nil {
		copy(p[:], b)
	}
	return p
}

func (r *Reader) Decimal() fixed.Decimal {
	b := r.next(fixed.EncodedLen)
	if b == nil {
		return fixed.Zero
	}
	d, err := fixed.Decode(b)
	if err != nil {
		r.err = err
	}
	return d
}

// Writer builds a record; it never fails
type Writer struct {
	buf bytes.Buffer
}

func NewWriter(name string) *Writer {
	w := &Writer{}
	d := Discriminator(name)
	w.buf.Write(d[:])
	return w
}

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) Uint8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.buf.WriteByte(1)
		return
	}
	w.buf.WriteByte(0)
}

func (w *Writer) Uint32(v uint32) {
	w.buf.Write(binary.LittleEndian.AppendUint32(nil, v))
}

func (w *Writer) Uint64(v uint64) {
	w.buf.Write(binary.LittleEndian.AppendUint64(nil, v))
}

func (w *Writer) Int64(v int64) { w.Uint64(uint64(v)) }

func (w *Writer) Pubkey(p crypto.Pubkey) { w.buf.Write(p[:]) }

func (w *Writer) Decimal(d fixed.Decimal) {
	b := d.Encode()
	w.buf.Write(b[:])
}

func (w *Writer) Zeros(n int) { w.buf.Write(make([]byte, n)) }
