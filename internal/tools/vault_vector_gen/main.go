// vault_vector_gen regenerates the canonical conformance vectors used by
// the canonical package's golden tests. Run it after any deliberate change
// to the canonical form and copy the output into testdata/.
package main

import (
	"fmt"
	"os"

	"xdao.co/vault/canonical"
	"xdao.co/vault/cidutil"
	"xdao.co/vault/digest"
	"xdao.co/vault/model"
)

func vectors() map[string]model.Record {
	return map[string]model.Record{
		"simple": {"b": int64(1), "a": []any{int64(2), int64(3)}},
		"rich": {
			"schema_version": "Capsule.v1",
			"stream_id":      "gt-racing",
			"tick":           int64(7),
			"flags":          []any{true, false, nil},
			"nested":         model.Record{"z": int64(-5), "a": "é\n"},
			"empty_map":      model.Record{},
			"empty_seq":      []any{},
		},
	}
}

func main() {
	for name, rec := range vectors() {
		b, err := canonical.Encode(rec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("%s\n  bytes:  %s\n  sha256: %s\n  cid:    %s\n",
			name, b, digest.SHA256Hex(b), cidutil.CIDv1RawSHA256(b))
	}
}
