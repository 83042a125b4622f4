package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/sjson"
)

/*
Canonical JSON is the byte-exact form over which hashes and signatures are
computed: object keys sorted lexicographically by code point, integers in
their shortest decimal form, no insignificant whitespace, minimal string
escaping. Floats and integers outside ±(2^53-1) are rejected so that every
implementation, whatever its number representation, produces identical bytes.
*/

// CanonicalJSON re-encodes raw JSON into its canonical form.
func CanonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, NewFormatError(fmt.Sprintf("invalid JSON: %v", err))
	}
	if dec.More() {
		return nil, NewFormatError("trailing data after JSON value")
	}

	var b bytes.Buffer
	if err := writeCanonical(&b, v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// CanonicalJSONWithout canonicalizes raw after deleting the named top-level
// keys. Used to strip signatures, unsigned data, and ids before hashing.
func CanonicalJSONWithout(raw []byte, drop ...string) ([]byte, error) {
	var err error
	for _, key := range drop {
		raw, err = sjson.DeleteBytes(raw, key)
		if err != nil {
			return nil, NewFormatError(fmt.Sprintf("invalid JSON: %v", err))
		}
	}
	return CanonicalJSON(raw)
}

func writeCanonical(b *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		s := t.String()
		if strings.ContainsAny(s, ".eE") {
			return NewFormatError(fmt.Sprintf("non-integer number %s", s))
		}
		n, err := t.Int64()
		if err != nil {
			return NewFormatError(fmt.Sprintf("unrepresentable integer %s", s))
		}
		if n > MaxDepth || n < -MaxDepth {
			return NewFormatError(fmt.Sprintf("integer out of range: %d", n))
		}
		b.WriteString(s)
	case string:
		return writeCanonicalString(b, t)
	case []interface{}:
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonicalString(b, k); err != nil {
				return err
			}
			b.WriteByte(':')
			if err := writeCanonical(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return NewFormatError(fmt.Sprintf("unsupported JSON value %T", v))
	}
	return nil
}

// writeCanonicalString encodes s without the HTML escaping that
// encoding/json applies by default.
func writeCanonicalString(b *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return NewFormatError(fmt.Sprintf("unencodable string: %v", err))
	}
	b.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
