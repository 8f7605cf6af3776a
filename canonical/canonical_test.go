package canonical

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"xdao.co/vault/model"
)

func TestEncodeSortsKeysAndStripsWhitespace(t *testing.T) {
	got, err := Encode(model.Record{"b": int64(1), "a": []any{int64(2), int64(3)}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"a":[2,3],"b":1}`
	if string(got) != want {
		t.Fatalf("Encode mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestEncodeScalars(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, `null`},
		{"true", true, `true`},
		{"false", false, `false`},
		{"zero", int64(0), `0`},
		{"negative", int64(-42), `-42`},
		{"max int64", int64(math.MaxInt64), `9223372036854775807`},
		{"min int64", int64(math.MinInt64), `-9223372036854775808`},
		{"max uint64", uint64(math.MaxUint64), `18446744073709551615`},
		{"plain int", 7, `7`},
		{"string", "hi", `"hi"`},
		{"escapes", "\"\\\b\f\n\r\t", `"\"\\\b\f\n\r\t"`},
		{"control", "\x01\x1f", `"\u0001\u001f"`},
		{"unicode", "héllo ☃", `"héllo ☃"`},
		{"astral", "\U0001F600", "\"\U0001F600\""},
		{"empty seq", []any{}, `[]`},
		{"empty map", model.Record{}, `{}`},
		{"nested", model.Record{"k": []any{model.Record{"x": nil}}}, `{"k":[{"x":null}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeValue(tc.in)
			if err != nil {
				t.Fatalf("EncodeValue: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestEncodeRejectsFloats(t *testing.T) {
	for _, v := range []any{1.5, float64(1), float32(2), math.NaN(), math.Inf(1)} {
		_, err := EncodeValue(v)
		if !model.IsKind(err, model.KindInvalidScalar) {
			t.Fatalf("EncodeValue(%v): got %v, want InvalidScalar", v, err)
		}
	}
	_, err := Encode(model.Record{"speed": 3.14})
	if !model.IsKind(err, model.KindInvalidScalar) {
		t.Fatalf("nested float: got %v, want InvalidScalar", err)
	}
}

func TestEncodeRejectsNonStringKeys(t *testing.T) {
	_, err := EncodeValue(map[int]any{1: "x"})
	if !model.IsKind(err, model.KindNonStringKey) {
		t.Fatalf("got %v, want NonStringKey", err)
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	_, err := EncodeValue(string([]byte{0xff, 0xfe}))
	if !model.IsKind(err, model.KindInvalidScalar) {
		t.Fatalf("got %v, want InvalidScalar", err)
	}
}

func TestEncodeRejectsCycles(t *testing.T) {
	m := model.Record{}
	m["self"] = m
	if _, err := Encode(m); !model.IsKind(err, model.KindCycleDetected) {
		t.Fatalf("map cycle: got %v, want CycleDetected", err)
	}

	s := make([]any, 1)
	s[0] = s
	if _, err := EncodeValue(s); !model.IsKind(err, model.KindCycleDetected) {
		t.Fatalf("seq cycle: got %v, want CycleDetected", err)
	}
}

func TestEncodeAllowsSharedSubtrees(t *testing.T) {
	shared := model.Record{"k": int64(1)}
	got, err := Encode(model.Record{"a": shared, "b": shared})
	if err != nil {
		t.Fatalf("Encode shared DAG: %v", err)
	}
	if string(got) != `{"a":{"k":1},"b":{"k":1}}` {
		t.Fatalf("unexpected encoding: %s", got)
	}
}

func TestEncodeTypedContainers(t *testing.T) {
	got, err := Encode(model.Record{"tags": []string{"b", "a"}, "meta": map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(got) != `{"meta":{"k":"v"},"tags":["b","a"]}` {
		t.Fatalf("unexpected encoding: %s", got)
	}
}

func TestRoundTripStability(t *testing.T) {
	recs := []model.Record{
		{"b": int64(1), "a": []any{int64(2), int64(3)}},
		{"deep": model.Record{"deeper": []any{model.Record{"x": uint64(math.MaxUint64)}}}},
		{"s": "line1\nline2\ttab \"quoted\"", "n": int64(-7), "z": nil},
		{},
	}
	for _, rec := range recs {
		first, err := Encode(rec)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		parsed, err := Parse(first)
		if err != nil {
			t.Fatalf("Parse(%s): %v", first, err)
		}
		second, err := Encode(parsed)
		if err != nil {
			t.Fatalf("re-Encode: %v", err)
		}
		if !bytes.Equal(first, second) {
			t.Fatalf("round trip unstable:\n first %s\nsecond %s", first, second)
		}
	}
}

func TestStructuralEqualityMatchesByteEquality(t *testing.T) {
	a := model.Record{"x": int64(1), "y": []any{"p", "q"}}
	b := model.Record{"y": []any{"p", "q"}, "x": int64(1)}
	c := model.Record{"x": int64(1), "y": []any{"q", "p"}} // order differs

	ab, _ := Encode(a)
	bb, _ := Encode(b)
	cb, _ := Encode(c)
	if !bytes.Equal(ab, bb) {
		t.Fatalf("equal records encoded differently: %s vs %s", ab, bb)
	}
	if bytes.Equal(ab, cb) {
		t.Fatalf("unequal records encoded identically: %s", ab)
	}
}

func TestParseRejectsDuplicateKeys(t *testing.T) {
	_, err := Parse([]byte(`{"a":1,"a":2}`))
	if !model.IsKind(err, model.KindDuplicateKey) {
		t.Fatalf("got %v, want DuplicateKey", err)
	}
}

func TestParseRejectsFloats(t *testing.T) {
	for _, in := range []string{`{"v":1.5}`, `{"v":1e3}`, `{"v":2.0}`} {
		if _, err := Parse([]byte(in)); !model.IsKind(err, model.KindInvalidScalar) {
			t.Fatalf("Parse(%s): got %v, want InvalidScalar", in, err)
		}
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	if _, err := Parse([]byte(`{"a":1}{"b":2}`)); err == nil {
		t.Fatalf("trailing data accepted")
	}
}

func TestParseNonMappingRoot(t *testing.T) {
	if _, err := Parse([]byte(`[1,2]`)); err == nil {
		t.Fatalf("sequence root accepted by Parse")
	}
	v, err := ParseValue([]byte(`[1,2]`))
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}
	if len(v.([]any)) != 2 {
		t.Fatalf("unexpected value: %v", v)
	}
}

func TestMustEncodePanicsOnFloat(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("MustEncode did not panic")
		}
	}()
	MustEncode(model.Record{"f": 1.5})
}

func TestDeeplyNestedRecord(t *testing.T) {
	rec := model.Record{"leaf": int64(1)}
	for i := 0; i < 64; i++ {
		rec = model.Record{"next": rec}
	}
	b, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode deep: %v", err)
	}
	if !strings.HasPrefix(string(b), `{"next":{"next":`) {
		t.Fatalf("unexpected prefix: %.32s", b)
	}
	parsed, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse deep: %v", err)
	}
	b2, err := Encode(parsed)
	if err != nil {
		t.Fatalf("re-Encode deep: %v", err)
	}
	if !bytes.Equal(b, b2) {
		t.Fatalf("deep round trip unstable")
	}
}
