package channel

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/rolltable/rolltable.go/internal/codec"
)

// CborMarshaler and CborUnmarshaler implement the channel's wire encoding.
// RFC 3339 time encoding keeps stats timestamps readable in captures.

type CborMarshaler struct{}

func (CborMarshaler) Marshal(v any) ([]byte, error) {
	return getCborEncoder().Marshal(v)
}

func (CborMarshaler) NewEncoder(w io.Writer) codec.Encoder {
	return getCborEncoder().NewEncoder(w)
}

type CborUnmarshaler struct{}

func (CborUnmarshaler) Unmarshal(data []byte, dst any) error {
	return getCborDecoder().Unmarshal(data, dst)
}

func (CborUnmarshaler) NewDecoder(r io.Reader) codec.Decoder {
	return getCborDecoder().NewDecoder(r)
}

func getCborEncoder() cbor.EncMode {
	em, err := cbor.EncOptions{
		Time:    cbor.TimeRFC3339,
		TimeTag: cbor.EncTagNone,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func getCborDecoder() cbor.DecMode {
	// Untyped maps decode as map[string]any and integers as int64 so
	// source data round-trips into the forms the schema layer produces.
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}
