package canonicalize

import (
	"encoding/json"
	"testing"
)

func FuzzActionHash(f *testing.F) {
	f.Add([]byte(`{"action_type":"purchase","payload":{"amount_minor":1200,"currency":"USD"}}`))
	f.Add([]byte(`{"payload":{"currency":"USD","amount_minor":1200},"action_type":"purchase"}`))
	f.Add([]byte(`{"action_type":"http.request","payload":{"url":"https://example.com/a?b=1&c=<d>"}}`))
	f.Add([]byte(`{"payload":{"n":1e21,"m":-0.0,"list":[3,1,2]}}`))
	f.Add([]byte(`{"unicode":"こんにちは","emoji":"🚀","esc":"a\nb\tc"}`))
	f.Add([]byte(`{}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var v map[string]any
		if err := json.Unmarshal(data, &v); err != nil {
			t.Skip()
		}

		canon, err := JCS(v)
		if err != nil {
			return
		}
		var back map[string]any
		if err := json.Unmarshal(canon, &back); err != nil {
			t.Fatalf("canonical form is not JSON: %s", canon)
		}

		// Canonicalizing the canonical form is a fixed point, so the hash
		// does not depend on the key order the agent happened to send.
		again, err := JCS(back)
		if err != nil {
			t.Fatalf("re-canonicalize: %v", err)
		}
		if string(again) != string(canon) {
			t.Fatalf("not a fixed point:\n  %s\n  %s", canon, again)
		}

		h1, err := ActionHash(v)
		if err != nil {
			return
		}
		h2, err := ActionHash(back)
		if err != nil {
			t.Fatalf("hash of canonical form failed: %v", err)
		}
		if h1 != h2 || h1 != HashBytes(canon) {
			t.Fatalf("hash mismatch: %s %s %s", h1, h2, HashBytes(canon))
		}
	})
}
