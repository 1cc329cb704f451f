// Package payload turns declarative payload values into bytes and checks
// received bytes against them.
package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
)

type Encoding string

const (
	Text   Encoding = "text"
	JSON   Encoding = "json"
	CBOR   Encoding = "cbor"
	Hex    Encoding = "hex"
	Base64 Encoding = "base64"
)

var ErrUnknownEncoding = errors.New("unknown payload encoding")

var cborDec = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Valid reports whether enc is a known encoding; "" counts as Text.
func (enc Encoding) Valid() bool {
	switch enc {
	case "", Text, JSON, CBOR, Hex, Base64:
		return true
	}
	return false
}

// structured encodings are compared after decoding, the rest byte for byte
func (enc Encoding) structured() bool {
	return enc == JSON || enc == CBOR
}

// Encode renders v as payload bytes.
func Encode(enc Encoding, v any) ([]byte, error) {
	switch enc {
	case "", Text:
		if v == nil {
			return nil, nil
		}
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
		return []byte(fmt.Sprint(v)), nil
	case JSON:
		return json.Marshal(v)
	case CBOR:
		return cbor.Marshal(v)
	case Hex:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("hex payload must be a string, got %T", v)
		}
		return hex.DecodeString(s)
	case Base64:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("base64 payload must be a string, got %T", v)
		}
		return base64.StdEncoding.DecodeString(s)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
	}
}

// Decode is the inverse of Encode for the structured encodings; the byte
// encodings decode to a string.
func Decode(enc Encoding, b []byte) (any, error) {
	var v any
	switch enc {
	case "", Text:
		return string(b), nil
	case JSON:
		err := json.Unmarshal(b, &v)
		return v, err
	case CBOR:
		err := cborDec.Unmarshal(b, &v)
		return v, err
	case Hex:
		return hex.EncodeToString(b), nil
	case Base64:
		return base64.StdEncoding.EncodeToString(b), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
	}
}

// Match checks got against want. Structured encodings compare decoded
// values, so key order and number formatting do not matter.
func Match(enc Encoding, want any, got []byte) error {
	wantBytes, err := Encode(enc, want)
	if err != nil {
		return fmt.Errorf("encoding expected payload: %w", err)
	}
	if !enc.structured() {
		if !bytes.Equal(wantBytes, got) {
			return fmt.Errorf("payload mismatch: want %q, got %q", wantBytes, got)
		}
		return nil
	}

	// round trip want so it has the same shape as a decoded payload
	wantVal, err := Decode(enc, wantBytes)
	if err != nil {
		return err
	}
	gotVal, err := Decode(enc, got)
	if err != nil {
		return fmt.Errorf("decoding %s payload: %w", enc, err)
	}
	if diff := cmp.Diff(wantVal, gotVal); diff != "" {
		return fmt.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	return nil
}
