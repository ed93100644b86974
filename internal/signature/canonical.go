package signature

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"
)

// Canonicalize rewrites a JSON body into the exact byte form both sides of
// the signature protocol hash. Null-valued object fields are dropped at any
// depth, output is minimal JSON with sorted keys, and whitespace inside
// string values is stripped — except under a field named "payer", whose
// value must pass through byte-for-byte. Producer and verifier must agree on
// every one of these rules or verification fails silently.
func Canonicalize(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []byte{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	v = scrub(v, false)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	// Encode appends a newline.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

const payerField = "payer"

func scrub(v interface{}, preserveWhitespace bool) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			out[k] = scrub(val, preserveWhitespace || k == payerField)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = scrub(e, preserveWhitespace)
		}
		return out
	case string:
		if preserveWhitespace {
			return t
		}
		return stripWhitespace(t)
	default:
		return v
	}
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
