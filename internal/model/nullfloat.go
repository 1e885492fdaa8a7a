package model

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// NullFloat is one element of an indicator series. Valid=false means there
// was not enough history to compute a value at that index; it is never
// interchangeable with a computed zero.
//
// It encodes as null in JSON and msgpack when not valid.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// Some wraps a computed value.
func Some(v float64) NullFloat { return NullFloat{Float64: v, Valid: true} }

// None is the absent value.
func None() NullFloat { return NullFloat{} }

// Get returns the value and whether it is present.
func (n NullFloat) Get() (float64, bool) { return n.Float64, n.Valid }

// Ptr returns nil for an absent value.
func (n NullFloat) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

var jsonNull = []byte("null")

// MarshalJSON implements json.Marshaler.
func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return jsonNull, nil
	}
	return json.Marshal(n.Float64)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *NullFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*n = NullFloat{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Some(v)
	return nil
}

var (
	_ msgpack.CustomEncoder = NullFloat{}
	_ msgpack.CustomDecoder = (*NullFloat)(nil)
)

// EncodeMsgpack implements msgpack.CustomEncoder.
func (n NullFloat) EncodeMsgpack(enc *msgpack.Encoder) error {
	if !n.Valid {
		return enc.EncodeNil()
	}
	return enc.EncodeFloat64(n.Float64)
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (n *NullFloat) DecodeMsgpack(dec *msgpack.Decoder) error {
	var v *float64
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if v == nil {
		*n = NullFloat{}
		return nil
	}
	*n = Some(*v)
	return nil
}
