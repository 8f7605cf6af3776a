// Package canonical is the mandatory canonicalization choke point for the
// vault core.
//
// Records MUST be canonical before digest derivation, CID construction,
// signing, or chain linkage. Encode produces the JCS-subset byte form:
// mapping keys sorted by Unicode code point, separators exactly "," and ":",
// minimal-length string escapes, shortest-decimal integers, and UTF-8 output.
//
// Floats and non-finite values are rejected; rational quantities must be
// carried as integers in a declared unit by the producer.
package canonical

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"xdao.co/vault/model"
)

// Encode returns the canonical byte form of a record.
//
// Contract:
// - Two records compare equal by deep structural equality iff their
//   encodings are byte-identical.
// - Encode(Parse(Encode(r))) == Encode(r).
func Encode(rec model.Record) ([]byte, error) {
	return EncodeValue(rec)
}

// EncodeValue canonicalizes any permitted value tree, not just a mapping
// root. Chain linkage and sequence payloads use this directly.
func EncodeValue(v any) ([]byte, error) {
	var b strings.Builder
	seen := make(map[uintptr]struct{})
	if err := encode(&b, v, seen); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func encode(b *strings.Builder, v any, seen map[uintptr]struct{}) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
		return nil
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil
	case string:
		return encodeString(b, x)
	case int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int8:
		b.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int16:
		b.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int32:
		b.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
		return nil
	case uint:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint8:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint16:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint64:
		b.WriteString(strconv.FormatUint(x, 10))
		return nil
	case json.Number:
		return encodeNumber(b, x)
	case float32:
		return model.NewError(model.KindInvalidScalar, "float32 values are outside the hash domain")
	case float64:
		return model.NewError(model.KindInvalidScalar, "float64 values are outside the hash domain")
	case []any:
		return encodeSeq(b, x, seen)
	case model.Record:
		return encodeMap(b, x, seen)
	default:
		return encodeReflected(b, v, seen)
	}
}

// encodeReflected catches typed maps and slices. Maps keyed by anything but
// string fail NonStringKey; all other Go types fail InvalidScalar.
func encodeReflected(b *strings.Builder, v any, seen map[uintptr]struct{}) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return model.NewError(model.KindNonStringKey,
				fmt.Sprintf("mapping keys must be strings, got %s", rv.Type().Key()))
		}
		m := make(model.Record, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return encodeMap(b, m, seen)
	case reflect.Slice, reflect.Array:
		s := make([]any, rv.Len())
		for i := range s {
			s[i] = rv.Index(i).Interface()
		}
		return encodeSeq(b, s, seen)
	default:
		return model.NewError(model.KindInvalidScalar,
			fmt.Sprintf("unsupported value of type %T", v))
	}
}

func encodeSeq(b *strings.Builder, s []any, seen map[uintptr]struct{}) error {
	if len(s) > 0 {
		p := uintptr(reflect.ValueOf(s).Pointer())
		if _, ok := seen[p]; ok {
			return model.NewError(model.KindCycleDetected, "sequence participates in a cycle")
		}
		seen[p] = struct{}{}
		defer delete(seen, p)
	}
	b.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := encode(b, v, seen); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func encodeMap(b *strings.Builder, m model.Record, seen map[uintptr]struct{}) error {
	if len(m) > 0 {
		p := reflect.ValueOf(m).Pointer()
		if _, ok := seen[p]; ok {
			return model.NewError(model.KindCycleDetected, "mapping participates in a cycle")
		}
		seen[p] = struct{}{}
		defer delete(seen, p)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Byte order over UTF-8 equals code point order.
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := encodeString(b, k); err != nil {
			return err
		}
		b.WriteByte(':')
		if err := encode(b, m[k], seen); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func encodeNumber(b *strings.Builder, n json.Number) error {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		return model.NewError(model.KindInvalidScalar,
			fmt.Sprintf("non-integer number %q is outside the hash domain", s))
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		b.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return model.WrapError(model.KindInvalidScalar,
			fmt.Sprintf("number %q does not fit 64 bits", s), err)
	}
	b.WriteString(strconv.FormatUint(u, 10))
	return nil
}

const hexDigits = "0123456789abcdef"

func encodeString(b *strings.Builder, s string) error {
	if !utf8.ValidString(s) {
		return model.NewError(model.KindInvalidScalar, "string is not valid UTF-8")
	}
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[r>>4])
				b.WriteByte(hexDigits[r&0xf])
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return nil
}

// MustEncode panics on non-canonical input. Reserved for values the core
// itself constructs (chain link payloads, receipt projections).
func MustEncode(rec model.Record) []byte {
	b, err := Encode(rec)
	if err != nil {
		panic(err)
	}
	return b
}
