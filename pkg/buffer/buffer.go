// Package buffer implements a growable octet sequence used throughout the
// networking stack for socket read/write staging and HTTP bodies.
package buffer

import (
	"bytes"
	"encoding/base64"
)

// ByteArray is an owned, growable sequence of bytes. The zero value is an
// empty, ready to use buffer.
type ByteArray struct {
	data []byte
}

// New returns a ByteArray wrapping a copy of b.
func New(b []byte) *ByteArray {
	ba := &ByteArray{}
	if len(b) > 0 {
		ba.data = append([]byte(nil), b...)
	}
	return ba
}

// FromString returns a ByteArray holding the UTF-8 bytes of s.
func FromString(s string) *ByteArray {
	return New([]byte(s))
}

// Len returns the number of bytes currently stored.
func (b *ByteArray) Len() int { return len(b.data) }

// IsEmpty reports whether the buffer holds no bytes.
func (b *ByteArray) IsEmpty() bool { return len(b.data) == 0 }

// Bytes returns the underlying slice. Callers must not retain it across a
// subsequent mutating call.
func (b *ByteArray) Bytes() []byte { return b.data }

// String returns the buffer's contents decoded as UTF-8.
func (b *ByteArray) String() string { return string(b.data) }

// Append adds p to the end of the buffer and returns the receiver for
// chaining.
func (b *ByteArray) Append(p []byte) *ByteArray {
	b.data = append(b.data, p...)
	return b
}

// AppendByte appends a single byte.
func (b *ByteArray) AppendByte(c byte) *ByteArray {
	b.data = append(b.data, c)
	return b
}

// AppendString appends the UTF-8 bytes of s.
func (b *ByteArray) AppendString(s string) *ByteArray {
	b.data = append(b.data, s...)
	return b
}

// Left returns a new ByteArray holding the first n bytes (fewer if the
// buffer is shorter).
func (b *ByteArray) Left(n int) *ByteArray {
	if n > len(b.data) {
		n = len(b.data)
	}
	if n < 0 {
		n = 0
	}
	return New(b.data[:n])
}

// Mid returns a new ByteArray holding up to length bytes starting at pos.
// A negative or out-of-range length means "to the end".
func (b *ByteArray) Mid(pos, length int) *ByteArray {
	if pos < 0 {
		pos = 0
	}
	if pos >= len(b.data) {
		return New(nil)
	}
	end := len(b.data)
	if length >= 0 && pos+length < end {
		end = pos + length
	}
	return New(b.data[pos:end])
}

// IndexOf returns the index of the first occurrence of sub, or -1.
func (b *ByteArray) IndexOf(sub []byte) int {
	return bytes.Index(b.data, sub)
}

// Remove deletes length bytes starting at pos, shifting the remainder left.
func (b *ByteArray) Remove(pos, length int) *ByteArray {
	if pos < 0 || pos >= len(b.data) || length <= 0 {
		return b
	}
	end := pos + length
	if end > len(b.data) {
		end = len(b.data)
	}
	b.data = append(b.data[:pos], b.data[end:]...)
	return b
}

// Clear empties the buffer without releasing its backing array.
func (b *ByteArray) Clear() {
	b.data = b.data[:0]
}

// ToBase64 encodes the buffer using standard base64.
func (b *ByteArray) ToBase64() string {
	return base64.StdEncoding.EncodeToString(b.data)
}

// FromBase64 decodes s and returns a new ByteArray, or an error if s is not
// valid standard base64.
func FromBase64(s string) (*ByteArray, error) {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return New(decoded), nil
}

// Clone returns an independent copy of the buffer.
func (b *ByteArray) Clone() *ByteArray {
	return New(b.data)
}
