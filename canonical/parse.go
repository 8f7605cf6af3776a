package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"xdao.co/vault/model"
)

// Parse decodes canonical (or canonicalizable) JSON bytes back into the
// record value domain: string, int64/uint64, bool, nil, []any,
// map[string]any.
//
// Duplicate mapping keys are rejected; JSON permits them, the hash domain
// does not. Numbers with a fraction or exponent are rejected.
func Parse(data []byte) (model.Record, error) {
	v, err := ParseValue(data)
	if err != nil {
		return nil, err
	}
	rec, ok := v.(model.Record)
	if !ok {
		return nil, model.NewError(model.KindInvalidScalar, "top-level value is not a mapping")
	}
	return rec, nil
}

// ParseValue is Parse for arbitrary value roots.
func ParseValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := parseNext(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, model.NewError(model.KindInvalidScalar, "trailing data after value")
	}
	return v, nil
}

func parseNext(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, model.WrapError(model.KindInvalidScalar, "malformed JSON", err)
	}
	return parseToken(dec, tok)
}

func parseToken(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return parseObject(dec)
		case '[':
			return parseArray(dec)
		default:
			return nil, model.NewError(model.KindInvalidScalar, "unexpected delimiter")
		}
	case string:
		return t, nil
	case bool:
		return t, nil
	case nil:
		return nil, nil
	case json.Number:
		return parseNumber(t)
	default:
		return nil, model.NewError(model.KindInvalidScalar, fmt.Sprintf("unexpected token %v", tok))
	}
}

func parseObject(dec *json.Decoder) (model.Record, error) {
	rec := model.Record{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, model.WrapError(model.KindInvalidScalar, "malformed mapping", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, model.NewError(model.KindNonStringKey, "mapping key is not a string")
		}
		if _, dup := rec[key]; dup {
			return nil, model.NewError(model.KindDuplicateKey, fmt.Sprintf("duplicate mapping key %q", key))
		}
		v, err := parseNext(dec)
		if err != nil {
			return nil, err
		}
		rec[key] = v
	}
	if _, err := dec.Token(); err != nil { // consume '}'
		return nil, model.WrapError(model.KindInvalidScalar, "malformed mapping", err)
	}
	return rec, nil
}

func parseArray(dec *json.Decoder) ([]any, error) {
	seq := []any{}
	for dec.More() {
		v, err := parseNext(dec)
		if err != nil {
			return nil, err
		}
		seq = append(seq, v)
	}
	if _, err := dec.Token(); err != nil { // consume ']'
		return nil, model.WrapError(model.KindInvalidScalar, "malformed sequence", err)
	}
	return seq, nil
}

func parseNumber(n json.Number) (any, error) {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		return nil, model.NewError(model.KindInvalidScalar,
			fmt.Sprintf("non-integer number %q is outside the hash domain", s))
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidScalar,
			fmt.Sprintf("number %q does not fit 64 bits", s), err)
	}
	return u, nil
}
