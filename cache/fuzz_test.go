package cache

import (
	"strings"
	"testing"
)

// Fuzz insert/get/update/expire semantics under arbitrary string inputs.
// Guards against panics and checks the structural invariants after every
// step. Key/value lengths are capped to keep fuzzing memory bounded.
func FuzzCache_InsertGetExpire(f *testing.F) {
	f.Add("", "", uint8(1))
	f.Add("a", "1", uint8(10))
	f.Add("b", "2", uint8(200))
	f.Add("αβγ", "δ", uint8(3))
	f.Add("emoji🙂", "🙂🙂", uint8(50))
	f.Add("long", strings.Repeat("x", 1024), uint8(255))

	f.Fuzz(func(t *testing.T, k, v string, ttlByte uint8) {
		const limit = 1 << 12
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}
		ttl := int64(ttlByte%100) + 1

		c := mustNew[string, string](t, Options[string, string]{
			MaxEntries:    16,
			MaxLoadFactor: 0.5,
		})

		// Insert then read back at the same instant.
		mustInsert(t, c, k, v, 1, ttl)
		if got, ok := mustGet(t, c, k, 1); !ok || got != v {
			t.Fatalf("after insert: got (%q, %v), want (%q, true)", got, ok, v)
		}
		checkInvariants(t, c)

		// Update must replace the value without growing.
		mustInsert(t, c, k, v+"*", 2, ttl)
		if c.Len() != 1 {
			t.Fatalf("update grew the cache: Len() = %d", c.Len())
		}
		if got, ok := mustGet(t, c, k, 2); !ok || got != v+"*" {
			t.Fatalf("after update: got (%q, %v), want (%q, true)", got, ok, v+"*")
		}

		// Reading at the expiration instant must miss and collect the entry.
		if _, ok := mustGet(t, c, k, 2+ttl); ok {
			t.Fatalf("key must be expired at insertion time + ttl")
		}
		if c.Len() != 0 {
			t.Fatalf("expired entry not collected, Len() = %d", c.Len())
		}
		checkInvariants(t, c)
	})
}
