// Package codec encodes and decodes values for the wire. Types that
// implement the scale codec interfaces use scale; anything else falls
// back to XDR.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/spacemeshos/go-scale"
)

// The xdr3 package offers no global slice cap; untrusted input is
// bounded before it reaches the codec by the stream frame limit.

// Encodable is an interface that must be implemented by a struct to be encoded.
type Encodable interface{}

// Decodable is an interface that must be implemented by a struct to be decoded.
type Decodable interface{}

// EncodeTo encodes value to a writer stream.
func EncodeTo(w io.Writer, value Encodable) (int, error) {
	if encodable, ok := value.(scale.Encodable); ok {
		return encodable.EncodeScale(scale.NewEncoder(w))
	}
	v, err := xdr.Marshal(w, value)
	if err != nil {
		return v, fmt.Errorf("marshal XDR: %w", err)
	}
	return v, nil
}

// DecodeFrom decodes a value using data from a reader stream.
func DecodeFrom(r io.Reader, value Decodable) (int, error) {
	if decodable, ok := value.(scale.Decodable); ok {
		return decodable.DecodeScale(scale.NewDecoder(r))
	}
	v, err := xdr.Unmarshal(r, value)
	if err != nil {
		return v, fmt.Errorf("unmarshal XDR: %w", err)
	}
	return v, nil
}

var encoderPool = sync.Pool{
	New: func() any {
		b := new(bytes.Buffer)
		b.Grow(64)
		return b
	},
}

// Encode value to a byte buffer.
func Encode(value Encodable) ([]byte, error) {
	b := encoderPool.Get().(*bytes.Buffer)
	defer func() {
		b.Reset()
		encoderPool.Put(b)
	}()
	if _, err := EncodeTo(b, value); err != nil {
		return nil, err
	}
	buf := make([]byte, len(b.Bytes()))
	copy(buf, b.Bytes())
	return buf, nil
}

// Decode value from a byte buffer.
func Decode(buf []byte, value Decodable) error {
	if _, err := DecodeFrom(bytes.NewBuffer(buf), value); err != nil {
		return fmt.Errorf("decode from buffer: %w", err)
	}
	return nil
}
