package ipc

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxArrayElements: 1 << 22,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

var cborNull = []byte{0xf6}

// Value is an encoded payload whose concrete type only the receiver knows.
// It is embedded verbatim in the surrounding frame.
type Value []byte

// NewValue encodes v. A nil v yields an empty Value.
func NewValue(v any) (Value, error) {
	if v == nil {
		return nil, nil
	}
	if val, ok := v.(Value); ok {
		return val, nil
	}
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Value(b), nil
}

// MustValue is NewValue for values that are known to encode.
func MustValue(v any) Value {
	val, err := NewValue(v)
	if err != nil {
		panic(err)
	}
	return val
}

// Empty reports whether the value carries nothing or an explicit null.
func (v Value) Empty() bool {
	return len(v) == 0 || (len(v) == 1 && v[0] == cborNull[0])
}

// Decode unmarshals the value into out. Empty values leave out untouched.
func (v Value) Decode(out any) error {
	if v.Empty() {
		return nil
	}
	return decMode.Unmarshal(v, out)
}

// Any decodes the value into a generic Go value.
func (v Value) Any() (any, error) {
	var out any
	err := v.Decode(&out)
	return out, err
}

func (v Value) MarshalCBOR() ([]byte, error) {
	if len(v) == 0 {
		return cborNull, nil
	}
	return []byte(v), nil
}

func (v *Value) UnmarshalCBOR(data []byte) error {
	*v = append((*v)[:0], data...)
	return nil
}

func newEncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }

func newDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }
